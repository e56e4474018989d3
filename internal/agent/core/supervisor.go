package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Supervisor owns the macro state machine of one run. It never changes item
// status itself; the workflows do.
type Supervisor struct {
	*base
	log      *zap.Logger
	research *ResearchWorkflow
	writing  *WritingWorkflow
}

func newSupervisor(b *base) *Supervisor {
	return &Supervisor{
		base:     b,
		log:      b.logger.Named("supervisor"),
		research: newResearchWorkflow(b),
		writing:  newWritingWorkflow(b),
	}
}

type routingDecision struct {
	NextAction   string `json:"next_action"`
	TargetItemID string `json:"target_item_id"`
	Reasoning    string `json:"reasoning"`
}

// Run loops decide -> dispatch until FINISH or FAIL. st.FinalAnswer is always
// set on return. Only context errors are returned.
func (s *Supervisor) Run(ctx context.Context, st *AgentState) error {
	for {
		if err := ctx.Err(); err != nil {
			s.fail(st, Decision{Action: ActionFail, Reason: "the request was cancelled", Source: SourceRule})
			return err
		}
		d := s.Decide(ctx, st)
		s.record(st, d)

		switch d.Action {
		case ActionResearch:
			s.dispatch(ctx, st, d, s.research.Run)
		case ActionWriting:
			s.dispatch(ctx, st, d, s.writing.Run)
		case ActionSynthesize:
			if err := s.writing.Assemble(ctx, st); err != nil {
				st.RecordError(StageFinalAssembler, "", err)
				s.log.Warn("synthesis refused", zap.Error(err))
				continue
			}
			st.Recommendation = &Outcome{Action: ActionFinish, Reason: "report assembled"}
		case ActionFinish:
			if strings.TrimSpace(st.FinalAnswer) == "" {
				if err := s.writing.Assemble(ctx, st); err != nil {
					st.RecordError(StageFinalAssembler, "", err)
					s.fail(st, Decision{Action: ActionFail, Reason: "finish was requested before the report could be assembled", Source: d.Source})
					return nil
				}
			}
			s.log.Info("run finished", zap.Int("steps", st.StepCount), zap.Int("sources", len(st.FinalSources)))
			s.emit(st, StageSupervisor, "", ActionFinish)
			return nil
		case ActionFail, ActionUnknown, ActionNone:
			s.fail(st, d)
			return nil
		}
	}
}

// Decide makes one routing decision in strict priority order: step ceiling,
// no-progress threshold, readiness refresh, workflow recommendation, plan
// rules, then the Drafter.
func (s *Supervisor) Decide(ctx context.Context, st *AgentState) Decision {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "supervisor.decide", trace.WithAttributes(attribute.Int("step", st.StepCount+1)))
	defer span.End()
	d := s.decide(ctx, st)
	span.SetAttributes(
		attribute.String("action", d.Action.String()),
		attribute.String("source", d.Source),
	)
	s.tele.ObserveStage(StageSupervisor, nil, time.Since(start))
	return d
}

func (s *Supervisor) decide(ctx context.Context, st *AgentState) Decision {
	if st.StepCount >= s.cfg.MaxSteps {
		err := &CeilingExceeded{Ceiling: CeilingSteps, Limit: s.cfg.MaxSteps, Value: st.StepCount + 1}
		st.RecordError(StageSupervisor, "", err)
		return Decision{Action: ActionFail, Reason: err.Error(), Source: SourceCeiling}
	}
	st.StepCount++

	if st.ConsecutiveNoProgress >= s.cfg.NoProgressThreshold {
		err := &CeilingExceeded{Ceiling: CeilingNoProgress, Limit: s.cfg.NoProgressThreshold, Value: st.ConsecutiveNoProgress}
		st.RecordError(StageSupervisor, "", err)
		return Decision{Action: ActionFail, Reason: err.Error(), Source: SourceNoProgress}
	}

	if err := RefreshReadiness(st.ResearchPlan); err != nil {
		st.RecordError(StageSupervisor, "", err)
		return Decision{Action: ActionFail, Reason: err.Error(), Source: SourceRule}
	}
	if err := RefreshReadiness(st.WritingPlan, st.ResearchPlan); err != nil {
		st.RecordError(StageSupervisor, "", err)
		return Decision{Action: ActionFail, Reason: err.Error(), Source: SourceRule}
	}

	rec := st.Recommendation
	st.Recommendation = nil
	if rec != nil && rec.Action != ActionNone {
		return Decision{Action: rec.Action, TargetItemID: rec.TargetItemID, Reason: rec.Reason, Source: SourceWorkflow}
	}

	if AllCompleted(st.WritingPlan) {
		if strings.TrimSpace(st.FinalAnswer) != "" {
			return Decision{Action: ActionFinish, Reason: "report already assembled", Source: SourceRule}
		}
		return Decision{Action: ActionSynthesize, Reason: "every chapter is completed", Source: SourceRule}
	}
	if len(st.ResearchPlan) == 0 {
		return Decision{Action: ActionResearch, Reason: "no research plan yet", Source: SourceRule}
	}
	if len(st.WritingPlan) == 0 && AllCompleted(st.ResearchPlan) {
		return Decision{Action: ActionWriting, Reason: "research completed", Source: SourceRule}
	}

	attempts := s.cfg.MaxItemAttempts
	if !anyActionable(st.ResearchPlan, attempts) && !anyActionable(st.WritingPlan, attempts) {
		if len(st.WritingPlan) == 0 && CountStatus(st.ResearchPlan, StatusCompleted) > 0 {
			return Decision{Action: ActionWriting, Reason: "no research left to run, writing from partial research", Source: SourceRule}
		}
		return Decision{Action: ActionFail, Reason: "no remaining item can make progress", Source: SourceRule}
	}
	return s.consult(ctx, st)
}

// consult asks the Drafter for the next action. Anything it cannot parse or
// recognize is FAIL.
func (s *Supervisor) consult(ctx context.Context, st *AgentState) Decision {
	p, err := buildPrompt(StageSupervisor, supervisorSystem, supervisorUser, map[string]any{
		"query":           st.Input,
		"step":            st.StepCount,
		"max_steps":       s.cfg.MaxSteps,
		"research_status": planStatus(st.ResearchPlan),
		"writing_status":  planStatus(st.WritingPlan),
		"errors":          recentErrors(st.ErrorLog, 5),
	})
	var rd routingDecision
	if err == nil {
		rd, err = ask[routingDecision](ctx, s.base, p)
	}
	if err != nil {
		st.RecordError(StageSupervisor, "", err)
		return Decision{Action: ActionFail, Reason: "routing decision unavailable: " + err.Error(), Source: SourceDrafter}
	}
	action := ParseMacroAction(rd.NextAction)
	if action == ActionNone || action == ActionUnknown {
		return Decision{Action: ActionFail, Reason: fmt.Sprintf("unrecognized routing decision %q", rd.NextAction), Source: SourceDrafter}
	}
	target := strings.TrimSpace(rd.TargetItemID)
	if it := st.Item(target); it == nil || !it.Actionable(s.cfg.MaxItemAttempts) {
		target = ""
	}
	return Decision{Action: action, TargetItemID: target, Reason: rd.Reasoning, Source: SourceDrafter}
}

func (s *Supervisor) record(st *AgentState, d Decision) {
	st.Apply(StateUpdate{SupervisorDecision: ptr(d.Action)})
	entry := fmt.Sprintf("step %d: %s via %s", st.StepCount, d.Action, d.Source)
	if d.TargetItemID != "" {
		entry += " -> " + d.TargetItemID
	}
	if d.Reason != "" {
		entry += ": " + d.Reason
	}
	st.Step("%s", entry)
	s.log.Info("supervisor decision",
		zap.Int("step", st.StepCount),
		zap.String("action", d.Action.String()),
		zap.String("source", d.Source),
		zap.String("target", d.TargetItemID),
		zap.String("reason", d.Reason))
	s.tele.CountDecision(d.Action.String(), d.Source)
	if !d.Action.Terminal() && d.Action != ActionNone {
		s.emit(st, StageSupervisor, d.TargetItemID, d.Action)
	}
}

func (s *Supervisor) dispatch(ctx context.Context, st *AgentState, d Decision, run func(context.Context, *AgentState) Outcome) {
	st.Apply(StateUpdate{CurrentPlanItemID: ptr(d.TargetItemID)})
	out := run(ctx, st)
	st.Recommendation = &out
}

// fail ends the run with a user-readable explanation.
func (s *Supervisor) fail(st *AgentState, d Decision) {
	var msg string
	switch d.Source {
	case SourceCeiling:
		msg = fmt.Sprintf("The task was stopped because it reached the maximum of %d steps before completing.", s.cfg.MaxSteps)
	case SourceNoProgress:
		msg = fmt.Sprintf("The task was stopped after %d consecutive steps without research progress.", st.ConsecutiveNoProgress)
	default:
		reason := strings.TrimSpace(d.Reason)
		if reason == "" {
			reason = "an unrecoverable error occurred"
		}
		msg = "The task could not be completed: " + reason
	}
	if n := CountStatus(st.ResearchPlan, StatusCompleted); n > 0 {
		msg += fmt.Sprintf(" %d of %d research items had been completed.", n, len(st.ResearchPlan))
	}
	st.Apply(StateUpdate{SupervisorDecision: ptr(ActionFail), FinalAnswer: &msg})
	s.log.Warn("run failed", zap.Int("steps", st.StepCount), zap.String("source", d.Source), zap.String("reason", d.Reason))
	s.emit(st, StageSupervisor, "", ActionFail)
}
