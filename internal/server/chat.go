package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/core"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/stream"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/session"
)

// HeaderSessionID carries the session id of a chat stream.
const HeaderSessionID = "X-Session-ID"

type ChatHandler struct {
	Engine   Engine
	Sessions session.Store
	TTL      time.Duration
	log      *zap.Logger
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/chat/stream", h.chatStream)
	g.GET("/sessions/:session_id", h.getSession)
}

// chatStream runs one research turn and streams its progress.
//
//	@Summary		Research chat stream
//	@Description	Runs the research and writing workflows for message and streams progress, chapters, references and a terminal end event
//	@Tags			chat
//	@Accept			json
//	@Produce		text/event-stream
//	@Param			payload	body		ChatRequest	true	"Chat payload"
//	@Success		200		{string}	string
//	@Failure		400		{object}	HTTPError
//	@Failure		409		{object}	HTTPError
//	@Router			/api/v1/chat/stream [post]
func (h *ChatHandler) chatStream(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	sess, err := h.Sessions.EnsureSession(strings.TrimSpace(req.SessionID), h.TTL)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := sess.Begin(); err != nil {
		if errors.Is(err, session.ErrBusy) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	st := h.Engine.NewState(msg)
	defer sess.End(st)

	log := h.log.With(zap.String("session_id", sess.ID()), zap.String("run_id", st.RunID))
	log.Info("chat turn started")

	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set(HeaderSessionID, sess.ID())
	resp.WriteHeader(http.StatusOK)
	flusher.Flush()

	err = stream.Run(c.Request().Context(), h.Engine, st, stream.WriterSink(resp, flusher.Flush), log)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Info("chat turn cancelled", zap.Int("steps", st.StepCount))
	case err != nil:
		log.Error("chat turn failed", zap.Error(err))
	default:
		log.Info("chat turn finished",
			zap.String("outcome", st.SupervisorDecision.String()),
			zap.Int("steps", st.StepCount),
			zap.Int("sources", len(st.FinalSources)))
	}
	return nil
}

// getSession returns the latest turn of a session.
//
//	@Summary	Session status
//	@Tags		chat
//	@Produce	json
//	@Param		session_id	path		string	true	"Session ID"
//	@Success	200			{object}	SessionResponse
//	@Failure	404			{object}	HTTPError
//	@Router		/api/v1/sessions/{session_id} [get]
func (h *ChatHandler) getSession(c echo.Context) error {
	sess, err := h.Sessions.GetSession(c.Param("session_id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, SessionResponse{
		SessionID: sess.ID(),
		Turns:     sess.Turns(),
		ExpiresAt: sess.ExpiresAt(),
		Last:      snapshotOf(sess.Last()),
	})
}

var _ core.Observer = (*stream.Projector)(nil)
