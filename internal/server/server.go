package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/core"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/telemetry"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/session"
)

// Engine is the part of *core.Engine the server needs.
type Engine interface {
	NewState(input string) *core.AgentState
	Run(ctx context.Context, st *core.AgentState, obs core.Observer) error
}

// DefaultCORSOrigins are the web UI origins allowed when none are configured.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}

type Options struct {
	Engine      Engine
	Sessions    session.Store
	SessionTTL  time.Duration
	JWTSecret   string
	CORSOrigins []string
	Telemetry   *telemetry.Telemetry
	Logger      *zap.Logger
}

// Server is the HTTP surface of the service.
type Server struct {
	echo *echo.Echo
	log  *zap.Logger
}

// New wires routes and middleware.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("server: session store is required")
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Warn("request failed",
			zap.Int("status", code),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("remote", c.RealIP()),
			zap.Error(err))
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = DefaultCORSOrigins
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, "Cookie"},
		ExposeHeaders:    []string{HeaderSessionID},
		AllowCredentials: true,
	}))

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": "deepsearch is running"})
	})
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(opts.Telemetry.Handler()))

	api := e.Group("/api/v1")
	if opts.JWTSecret != "" {
		api.Use(JWTMiddleware([]byte(opts.JWTSecret)))
	}
	ch := &ChatHandler{Engine: opts.Engine, Sessions: opts.Sessions, TTL: opts.SessionTTL, log: logger}
	ch.Register(api)

	return &Server{echo: e, log: logger}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		errCh <- s.echo.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
