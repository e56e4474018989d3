package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/telemetry"
)

var tracer trace.Tracer = otel.Tracer("deepsearch/internal/agent/core")

// Config bounds a run.
type Config struct {
	MaxSteps                  int
	NoProgressThreshold       int
	PlanningAttemptsThreshold int
	MaxItemAttempts           int
	MaxRevisions              int
	SearchLimit               int
	RetrievalTopK             int
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxSteps:                  15,
		NoProgressThreshold:       3,
		PlanningAttemptsThreshold: 3,
		MaxItemAttempts:           3,
		MaxRevisions:              2,
		SearchLimit:               20,
		RetrievalTopK:             3,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.MaxSteps <= 0 {
		c.MaxSteps = def.MaxSteps
	}
	if c.NoProgressThreshold <= 0 {
		c.NoProgressThreshold = def.NoProgressThreshold
	}
	if c.PlanningAttemptsThreshold <= 0 {
		c.PlanningAttemptsThreshold = def.PlanningAttemptsThreshold
	}
	if c.MaxItemAttempts <= 0 {
		c.MaxItemAttempts = def.MaxItemAttempts
	}
	if c.MaxRevisions < 0 {
		c.MaxRevisions = def.MaxRevisions
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = def.SearchLimit
	}
	if c.RetrievalTopK <= 0 {
		c.RetrievalTopK = def.RetrievalTopK
	}
	return c
}

// Capabilities are the external collaborators shared by every run. They must
// be safe for concurrent use by independent runs.
type Capabilities struct {
	Drafter  Drafter
	Searcher Searcher
	// NewCorpus builds the per-run index. Nil disables retrieval.
	NewCorpus func() (Corpus, error)
}

type Options struct {
	Config    Config
	Logger    *zap.Logger
	Telemetry *telemetry.Telemetry
}

// Engine runs user turns. It holds no per-run state.
type Engine struct {
	caps   Capabilities
	cfg    Config
	logger *zap.Logger
	tele   *telemetry.Telemetry
}

// NewEngine validates the capabilities and returns an engine.
func NewEngine(caps Capabilities, opts Options) (*Engine, error) {
	if caps.Drafter == nil {
		return nil, errors.New("engine: drafter is required")
	}
	if caps.Searcher == nil {
		return nil, errors.New("engine: searcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{caps: caps, cfg: opts.Config.normalize(), logger: logger, tele: opts.Telemetry}, nil
}

// Config returns the effective limits.
func (e *Engine) Config() Config { return e.cfg }

// NewState creates the state for a new turn.
func (e *Engine) NewState(input string) *AgentState {
	return NewAgentState(uuid.NewString(), input)
}

// Run drives st to FINISH or FAIL. On return st.FinalAnswer is non-empty.
// The only error returned is the context's.
func (e *Engine) Run(ctx context.Context, st *AgentState, obs Observer) error {
	if obs == nil {
		obs = nopObserver{}
	}
	ctx, span := tracer.Start(ctx, "deepsearch.run", trace.WithAttributes(
		attribute.String("run.id", st.RunID),
	))
	defer span.End()

	logger := e.logger.With(zap.String("run_id", st.RunID))
	done := e.tele.RunStarted()

	b := &base{
		cfg:      e.cfg,
		drafter:  e.caps.Drafter,
		searcher: e.caps.Searcher,
		logger:   logger,
		tele:     e.tele,
		obs:      obs,
	}
	if e.caps.NewCorpus != nil {
		corpus, err := e.caps.NewCorpus()
		if err != nil {
			logger.Warn("retrieval disabled for run", zap.Error(err))
			st.RecordError("corpus", "", IndexError("open", err))
		} else {
			b.corpus = corpus
			if c, ok := corpus.(interface{ Close() error }); ok {
				defer c.Close()
			}
		}
	}

	sup := newSupervisor(b)
	err := sup.Run(ctx, st)
	done(st.SupervisorDecision.String())
	span.SetAttributes(
		attribute.String("run.outcome", st.SupervisorDecision.String()),
		attribute.Int("run.steps", st.StepCount),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// base carries the capabilities and instrumentation shared by the stages of
// one run.
type base struct {
	cfg      Config
	drafter  Drafter
	searcher Searcher
	corpus   Corpus
	logger   *zap.Logger
	tele     *telemetry.Telemetry
	obs      Observer
}

func (b *base) draft(ctx context.Context, p Prompt) (string, error) {
	ctx, span := tracer.Start(ctx, "drafter."+p.Stage)
	defer span.End()
	start := time.Now()
	out, err := b.drafter.Draft(ctx, p)
	b.tele.CountCapability(string(CapabilityDraft), err)
	b.tele.ObserveStage(p.Stage, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if IsModelError(err) {
			return "", err
		}
		return "", ModelError(p.Stage, err)
	}
	return out, nil
}

func (b *base) search(ctx context.Context, query string) ([]SearchResult, error) {
	ctx, span := tracer.Start(ctx, "searcher.search", trace.WithAttributes(attribute.String("query", query)))
	defer span.End()
	results, err := b.searcher.Search(ctx, query, b.cfg.SearchLimit)
	b.tele.CountCapability(string(CapabilitySearch), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if IsSearchError(err) {
			return nil, err
		}
		return nil, SearchError("search", err)
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

func (b *base) index(ctx context.Context, docs []Document) error {
	if b.corpus == nil || len(docs) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "corpus.index")
	defer span.End()
	err := b.corpus.Index(ctx, docs)
	b.tele.CountCapability(string(CapabilityIndex), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return IndexError("index", err)
	}
	return nil
}

func (b *base) retrieve(ctx context.Context, query string) ([]Passage, error) {
	if b.corpus == nil {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "corpus.retrieve")
	defer span.End()
	passages, err := b.corpus.Retrieve(ctx, query, b.cfg.RetrievalTopK)
	b.tele.CountCapability(string(CapabilityRetrieve), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &CapabilityError{Capability: CapabilityRetrieve, Op: "retrieve", Err: err}
	}
	return passages, nil
}

func (b *base) emit(st *AgentState, stage, itemID string, action MacroAction) {
	b.obs.OnStage(StageEvent{Stage: stage, ItemID: itemID, Action: action, State: st})
}

// ask sends p to the Drafter and decodes the reply into T. The error is a
// *CapabilityError or a *ParseError.
func ask[T any](ctx context.Context, b *base, p Prompt) (T, error) {
	var zero T
	raw, err := b.draft(ctx, p)
	if err != nil {
		return zero, err
	}
	d := Decode[T](raw)
	if !d.Ok() {
		b.logger.Debug("unparseable drafter output", zap.String("stage", p.Stage), zap.String("raw", truncate(raw, 300)))
		return zero, d.Err
	}
	return d.Value, nil
}
