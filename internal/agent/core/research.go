package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ResearchWorkflow runs outline_planner -> executor -> summarizer -> evaluator
// until the research plan is resolved or the Supervisor must arbitrate.
type ResearchWorkflow struct {
	*base
	log *zap.Logger
}

func newResearchWorkflow(b *base) *ResearchWorkflow {
	return &ResearchWorkflow{base: b, log: b.logger.Named("research")}
}

type planStub struct {
	ItemID       string     `json:"item_id"`
	Description  string     `json:"description"`
	Dependencies stringList `json:"dependencies"`
	TaskType     string     `json:"task_type"`
}

type outlinePlan struct {
	OverallOutline string     `json:"overall_outline"`
	Plan           []planStub `json:"plan"`
}

// Run executes every ready research item and returns the recommended next
// macro action. Insufficient findings loop back to the outline planner while
// planning attempts remain.
func (w *ResearchWorkflow) Run(ctx context.Context, st *AgentState) Outcome {
	ctx, span := tracer.Start(ctx, "research.run")
	defer span.End()

	target := ""
	if FindItem(st.ResearchPlan, st.CurrentPlanItemID) != nil {
		target = st.CurrentPlanItemID
	}
	replanned := false
	for {
		if len(st.ResearchPlan) == 0 || st.ReplanNeeded {
			added, err := w.planOutline(ctx, st)
			if err != nil {
				return w.planningFailed(st, err)
			}
			if replanned && len(added) == 0 {
				return w.settle(st)
			}
		}
		round := make(map[string]bool)
		if err := w.processReady(ctx, st, target, round); err != nil {
			return w.planningFailed(st, err)
		}
		target = ""
		out, replan := w.route(st, round)
		if !replan {
			span.SetAttributes(attribute.String("research.outcome", out.Action.String()))
			return out
		}
		st.Apply(StateUpdate{ReplanNeeded: ptr(true)})
		replanned = true
	}
}

func (w *ResearchWorkflow) planOutline(ctx context.Context, st *AgentState) ([]*PlanItem, error) {
	start := time.Now()
	st.Apply(StateUpdate{PlanningAttempts: ptr(st.PlanningAttempts + 1), ReplanNeeded: ptr(false)})

	feedback := ""
	if fb := st.SharedContext.Extra[extraResearchFeedback]; fb != "" {
		feedback = "Feedback for this revision:\n" + fb
	}
	noProgress := ""
	if st.ConsecutiveNoProgress > 0 {
		noProgress = fmt.Sprintf("The last %d searches found nothing new. Propose different angles.", st.ConsecutiveNoProgress)
	}
	p, err := buildPrompt(StageOutlinePlanner, outlinePlannerSystem, outlinePlannerUser, map[string]any{
		"query":       st.Input,
		"plan_status": planStatus(st.ResearchPlan),
		"feedback":    feedback,
		"no_progress": noProgress,
	})
	if err != nil {
		return nil, err
	}
	raw, err := w.draft(ctx, p)
	if err != nil {
		return nil, err
	}
	stubs, outline, err := decodeOutline(raw)
	if err != nil {
		return nil, err
	}
	if len(stubs) == 0 && len(st.ResearchPlan) == 0 {
		return nil, &PlanIntegrityError{Plan: "research", Reason: "planner returned no items"}
	}

	incoming := make([]*PlanItem, 0, len(stubs))
	for i, s := range stubs {
		if strings.EqualFold(strings.TrimSpace(s.TaskType), "WRITING") {
			continue
		}
		id := strings.TrimSpace(s.ItemID)
		if id == "" {
			id = fmt.Sprintf("research_%d", len(st.ResearchPlan)+i+1)
		}
		incoming = append(incoming, NewPlanItem(id, s.Description, s.Dependencies...))
	}
	merged, added := MergePlanItems(st.ResearchPlan, incoming)
	if err := ValidatePlan("research", merged); err != nil {
		return nil, err
	}

	st.Apply(StateUpdate{ResearchPlan: added})
	if outline != "" {
		st.setExtra(extraOverallOutline, outline)
	}
	delete(st.SharedContext.Extra, extraResearchFeedback)
	st.Step("outline planner attempt %d added %d research items (%d duplicates dropped)",
		st.PlanningAttempts, len(added), len(incoming)-len(added))
	w.log.Info("research plan updated",
		zap.Int("attempt", st.PlanningAttempts),
		zap.Int("added", len(added)),
		zap.Int("total", len(st.ResearchPlan)))
	w.tele.ObserveStage(StageOutlinePlanner, nil, time.Since(start))
	w.emit(st, StageOutlinePlanner, "", ActionNone)
	return added, nil
}

// decodeOutline accepts either {"overall_outline", "plan": [...]} or a bare
// array of stubs.
func decodeOutline(raw string) ([]planStub, string, error) {
	obj := Decode[outlinePlan](raw)
	if obj.Ok() && len(obj.Value.Plan) > 0 {
		return obj.Value.Plan, strings.TrimSpace(obj.Value.OverallOutline), nil
	}
	if arr := Decode[[]planStub](raw); arr.Ok() && len(arr.Value) > 0 {
		return arr.Value, "", nil
	}
	if !obj.Ok() {
		return nil, "", obj.Err
	}
	return nil, strings.TrimSpace(obj.Value.OverallOutline), nil
}

func (w *ResearchWorkflow) planningFailed(st *AgentState, err error) Outcome {
	st.RecordError(StageOutlinePlanner, "", err)
	w.log.Warn("research planning failed", zap.Int("attempt", st.PlanningAttempts), zap.Error(err))
	if st.PlanningAttempts < w.cfg.PlanningAttemptsThreshold {
		st.Apply(StateUpdate{ReplanNeeded: ptr(true)})
		return Outcome{Action: ActionResearch, Reason: "research planning failed, retrying: " + err.Error()}
	}
	if CountStatus(st.ResearchPlan, StatusCompleted) > 0 {
		return Outcome{Action: ActionWriting, Reason: "research planning failed, writing from partial research"}
	}
	return Outcome{Action: ActionFail, Reason: "research planning failed: " + err.Error()}
}

func (w *ResearchWorkflow) processReady(ctx context.Context, st *AgentState, target string, round map[string]bool) error {
	attempted := make(map[string]bool)
	for ctx.Err() == nil {
		if err := RefreshReadiness(st.ResearchPlan); err != nil {
			return err
		}
		item := w.next(st.ResearchPlan, target, attempted)
		if item == nil {
			return nil
		}
		attempted[item.ItemID] = true
		st.Apply(StateUpdate{CurrentPlanItemID: ptr(item.ItemID)})

		if !w.execute(ctx, st, item) {
			if blocked := BlockUnreachable(st.ResearchPlan, w.cfg.MaxItemAttempts); len(blocked) > 0 {
				st.Step("blocked research items %s", strings.Join(blocked, ", "))
			}
			continue
		}
		w.summarize(ctx, st, item)
		w.evaluate(ctx, st, item)
		round[item.ItemID] = true
	}
	return nil
}

// next prefers the targeted item, then the first ready item in plan order.
// Failed items are only retried when targeted.
func (w *ResearchWorkflow) next(plan []*PlanItem, target string, attempted map[string]bool) *PlanItem {
	if target != "" && !attempted[target] {
		if it := FindItem(plan, target); it != nil && it.Actionable(w.cfg.MaxItemAttempts) {
			return it
		}
	}
	for _, it := range plan {
		if it.Status == StatusReady && !attempted[it.ItemID] {
			return it
		}
	}
	return nil
}

func (w *ResearchWorkflow) execute(ctx context.Context, st *AgentState, item *PlanItem) bool {
	start := time.Now()
	if err := item.Transition(StatusInProgress); err != nil {
		st.RecordError(StageExecutor, item.ItemID, err)
		return false
	}
	item.AttemptCount++
	item.Log("attempt %d: searching %q", item.AttemptCount, item.Description)

	results, err := w.search(ctx, item.Description)
	if err == nil {
		item.Results = results
		item.Content = renderFindings(results)
		err = w.index(ctx, documentsFrom(results))
	}
	w.tele.ObserveStage(StageExecutor, err, time.Since(start))
	if err != nil {
		w.failItem(st, item, StageExecutor, err)
		st.Apply(StateUpdate{ConsecutiveNoProgress: ptr(st.ConsecutiveNoProgress + 1)})
		w.emit(st, StageExecutor, item.ItemID, ActionNone)
		return false
	}

	fresh := countNewURLs(st.ResearchPlan, item)
	item.Log("search returned %d results, %d new", len(results), fresh)
	if fresh == 0 {
		st.Apply(StateUpdate{ConsecutiveNoProgress: ptr(st.ConsecutiveNoProgress + 1)})
	} else {
		st.Apply(StateUpdate{ConsecutiveNoProgress: ptr(0)})
	}
	st.Step("researched %s: %d results", item.ItemID, len(results))
	w.log.Debug("item researched", zap.String("item_id", item.ItemID), zap.Int("results", len(results)), zap.Int("new", fresh))
	w.emit(st, StageExecutor, item.ItemID, ActionNone)
	return true
}

func (w *ResearchWorkflow) failItem(st *AgentState, item *PlanItem, stage string, err error) {
	if terr := item.Transition(StatusFailed); terr != nil {
		w.log.Error("cannot fail item", zap.String("item_id", item.ItemID), zap.Error(terr))
	}
	item.Log("%s failed on attempt %d: %v", stage, item.AttemptCount, err)
	st.RecordError(stage, item.ItemID, err)
	w.log.Warn("research item failed",
		zap.String("item_id", item.ItemID),
		zap.String("stage", stage),
		zap.Int("attempt", item.AttemptCount),
		zap.Error(err))
}

func (w *ResearchWorkflow) summarize(ctx context.Context, st *AgentState, item *PlanItem) {
	if item.Status == StatusFailed || len(item.Results) == 0 {
		return
	}
	p, err := buildPrompt(StageSummarizer, summarizerSystem, summarizerUser, map[string]any{
		"description": item.Description,
		"content":     truncate(item.Content, 8000),
	})
	if err == nil {
		var raw string
		raw, err = w.draft(ctx, p)
		if err == nil {
			item.Summary = strings.TrimSpace(raw)
		}
	}
	if err != nil {
		item.Log("summary unavailable, using raw findings: %v", err)
		st.RecordError(StageSummarizer, item.ItemID, err)
		return
	}
	w.emit(st, StageSummarizer, item.ItemID, ActionNone)
}

func (w *ResearchWorkflow) evaluate(ctx context.Context, st *AgentState, item *PlanItem) {
	p, err := buildPrompt(StageEvaluator, evaluatorSystem, evaluatorUser, map[string]any{
		"query":       st.Input,
		"description": item.Description,
		"content":     truncate(item.Digest(), 6000),
	})
	var ev Evaluation
	if err == nil {
		ev, err = ask[Evaluation](ctx, w.base, p)
	}
	if err != nil {
		ev = Evaluation{Summary: "evaluation unavailable", Reasoning: err.Error()}
		st.RecordError(StageEvaluator, item.ItemID, err)
	}
	item.EvaluationResults = &ev
	item.Log("evaluated: sufficient=%t", ev.IsSufficient)
	if terr := item.Transition(StatusCompleted); terr != nil {
		st.RecordError(StageEvaluator, item.ItemID, terr)
	}
	w.emit(st, StageEvaluator, item.ItemID, ActionNone)
}

// route decides the exit of one research round. A true second value asks Run
// to re-plan the outline.
func (w *ResearchWorkflow) route(st *AgentState, round map[string]bool) (Outcome, bool) {
	plan := st.ResearchPlan
	canReplan := st.PlanningAttempts < w.cfg.PlanningAttemptsThreshold
	if AllCompleted(plan) {
		if weak := insufficient(plan, round); len(weak) > 0 && canReplan {
			st.setExtra(extraResearchFeedback, feedbackLines("These findings were judged insufficient:", weak,
				func(it *PlanItem) string { return it.EvaluationResults.Reasoning }))
			return Outcome{}, true
		}
		return Outcome{Action: ActionWriting, Reason: "research plan completed"}, false
	}

	if blocked := BlockUnreachable(plan, w.cfg.MaxItemAttempts); len(blocked) > 0 {
		st.Step("blocked research items %s", strings.Join(blocked, ", "))
	}
	completed := CountStatus(plan, StatusCompleted)
	for _, it := range plan {
		if it.Status == StatusFailed && !it.Exhausted(w.cfg.MaxItemAttempts) {
			if completed > 0 {
				return Outcome{Reason: fmt.Sprintf("item %s failed; retry or proceed with partial research", it.ItemID)}, false
			}
			return Outcome{Action: ActionResearch, TargetItemID: it.ItemID, Reason: "retry failed item " + it.ItemID}, false
		}
	}
	if canReplan {
		var stuck []*PlanItem
		for _, it := range plan {
			if it.Status != StatusCompleted {
				stuck = append(stuck, it)
			}
		}
		st.setExtra(extraResearchFeedback, feedbackLines("These items could not be researched, try other angles:", stuck,
			func(it *PlanItem) string { return string(it.Status) }))
		return Outcome{}, true
	}
	return w.settle(st), false
}

// settle is the exit when no further research is possible.
func (w *ResearchWorkflow) settle(st *AgentState) Outcome {
	if CountStatus(st.ResearchPlan, StatusCompleted) > 0 {
		return Outcome{Action: ActionWriting, Reason: "proceeding with partial research"}
	}
	return Outcome{Action: ActionFail, Reason: "no research item could be completed"}
}

func insufficient(plan []*PlanItem, round map[string]bool) []*PlanItem {
	var out []*PlanItem
	for _, it := range plan {
		if round[it.ItemID] && it.EvaluationResults != nil && !it.EvaluationResults.IsSufficient {
			out = append(out, it)
		}
	}
	return out
}

func feedbackLines(header string, items []*PlanItem, detail func(*PlanItem) string) string {
	var b strings.Builder
	b.WriteString(header)
	for _, it := range items {
		fmt.Fprintf(&b, "\n- %s (%s): %s", it.ItemID, it.Description, detail(it))
	}
	return b.String()
}

func renderFindings(results []SearchResult) string {
	if len(results) == 0 {
		return "No results found for this query."
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\nURL: %s\n%s\n\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return strings.TrimRight(b.String(), "\n")
}

func documentsFrom(results []SearchResult) []Document {
	docs := make([]Document, 0, len(results))
	for _, r := range results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		docs = append(docs, Document{Title: r.Title, URL: r.URL, Text: r.Snippet})
	}
	return docs
}

// countNewURLs counts urls in item's results not already found by another
// research item.
func countNewURLs(plan []*PlanItem, item *PlanItem) int {
	seen := make(map[string]bool)
	for _, it := range plan {
		if it == item {
			continue
		}
		for _, r := range it.Results {
			seen[r.URL] = true
		}
	}
	n := 0
	for _, r := range item.Results {
		if r.URL != "" && !seen[r.URL] {
			seen[r.URL] = true
			n++
		}
	}
	return n
}
