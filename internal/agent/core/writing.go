package core

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	verdictCompleted     = "completed"
	verdictNeedsRevision = "needs_revision"
	verdictNeedsResearch = "needs_research"
)

// WritingWorkflow runs planner -> writer -> reviewer -> chapter_summarizer over
// the writing plan and assembles the final report once every chapter is done.
type WritingWorkflow struct {
	*base
	log *zap.Logger
}

func newWritingWorkflow(b *base) *WritingWorkflow {
	return &WritingWorkflow{base: b, log: b.logger.Named("writing")}
}

type reviewVerdict struct {
	Decision string `json:"decision"`
	Feedback string `json:"feedback"`
}

// Run drafts every ready chapter, handling revisions inline, and returns the
// recommended next macro action.
func (w *WritingWorkflow) Run(ctx context.Context, st *AgentState) Outcome {
	ctx, span := tracer.Start(ctx, "writing.run")
	defer span.End()

	if len(st.WritingPlan) == 0 {
		if CountStatus(st.ResearchPlan, StatusCompleted) == 0 {
			if anyActionable(st.ResearchPlan, w.cfg.MaxItemAttempts) {
				return Outcome{Action: ActionResearch, Reason: "no completed research to write from"}
			}
			return Outcome{Action: ActionFail, Reason: "no completed research to write from"}
		}
		if err := w.planChapters(ctx, st); err != nil {
			return w.planningFailed(st, err)
		}
	}

	target := ""
	if st.IsWritingItem(st.CurrentPlanItemID) {
		target = st.CurrentPlanItemID
	}
	limit := len(st.WritingPlan)*(w.cfg.MaxRevisions+2) + 1
	for i := 0; i < limit && ctx.Err() == nil; i++ {
		if err := RefreshReadiness(st.WritingPlan, st.ResearchPlan); err != nil {
			return w.planningFailed(st, err)
		}
		item := w.next(st.WritingPlan, target)
		target = ""
		if item == nil {
			break
		}
		st.Apply(StateUpdate{CurrentPlanItemID: ptr(item.ItemID)})
		if out, stop := w.writeChapter(ctx, st, item); stop {
			span.SetAttributes(attribute.String("writing.outcome", out.Action.String()))
			return out
		}
	}
	out := w.route(ctx, st)
	span.SetAttributes(attribute.String("writing.outcome", out.Action.String()))
	return out
}

func (w *WritingWorkflow) planChapters(ctx context.Context, st *AgentState) error {
	st.WritingAttempts++

	var research strings.Builder
	for _, it := range st.ResearchPlan {
		if it.Status != StatusCompleted {
			continue
		}
		fmt.Fprintf(&research, "- %s: %s\n  %s\n", it.ItemID, it.Description, truncate(it.Digest(), 600))
	}
	outline := ""
	if o := st.SharedContext.Extra[extraOverallOutline]; o != "" {
		outline = "Intended outline: " + o + "\n"
	}
	p, err := buildPrompt(StageWritingPlanner, writingPlannerSystem, writingPlannerUser, map[string]any{
		"query":    st.Input,
		"outline":  outline,
		"research": strings.TrimRight(research.String(), "\n"),
	})
	if err != nil {
		return err
	}
	raw, err := w.draft(ctx, p)
	if err != nil {
		return err
	}
	stubs, _, err := decodeOutline(raw)
	if err != nil {
		return err
	}
	if len(stubs) == 0 {
		return &PlanIntegrityError{Plan: "writing", Reason: "planner returned no chapters"}
	}

	// Dependencies are kept as given. Unknown ids fail validation below and
	// edges to unfinished research gate the chapter through readiness.
	incoming := make([]*PlanItem, 0, len(stubs))
	for i, s := range stubs {
		id := strings.TrimSpace(s.ItemID)
		if id == "" {
			id = fmt.Sprintf("chapter_%d", i+1)
		}
		deps := make([]string, 0, len(s.Dependencies))
		for _, d := range s.Dependencies {
			deps = append(deps, strings.TrimSpace(d))
		}
		incoming = append(incoming, NewPlanItem(id, s.Description, dedupeStrings(deps, "")...))
	}
	merged, added := MergePlanItems(nil, incoming)
	if err := ValidatePlan("writing", merged, st.ResearchPlan); err != nil {
		return err
	}
	st.Apply(StateUpdate{WritingPlan: added})
	st.Step("writing planner produced %d chapters", len(added))
	w.log.Info("writing plan created", zap.Int("chapters", len(added)), zap.Int("attempt", st.WritingAttempts))
	w.emit(st, StageWritingPlanner, "", ActionNone)
	return nil
}

func (w *WritingWorkflow) planningFailed(st *AgentState, err error) Outcome {
	st.RecordError(StageWritingPlanner, "", err)
	w.log.Warn("writing planning failed", zap.Int("attempt", st.WritingAttempts), zap.Error(err))
	if st.WritingAttempts < w.cfg.PlanningAttemptsThreshold {
		return Outcome{Action: ActionWriting, Reason: "writing planning failed, retrying: " + err.Error()}
	}
	return Outcome{Action: ActionFail, Reason: "writing planning failed: " + err.Error()}
}

// next picks the targeted chapter, then chapters awaiting revision, then ready
// chapters in plan order.
func (w *WritingWorkflow) next(plan []*PlanItem, target string) *PlanItem {
	if target != "" {
		if it := FindItem(plan, target); it != nil && it.Actionable(w.cfg.MaxItemAttempts) {
			return it
		}
	}
	for _, it := range plan {
		if it.Status == StatusNeedsRevision {
			return it
		}
	}
	for _, it := range plan {
		if it.Status == StatusReady {
			return it
		}
	}
	return nil
}

// writeChapter drafts and reviews one chapter. A true second value ends the
// writing invocation with the returned outcome.
func (w *WritingWorkflow) writeChapter(ctx context.Context, st *AgentState, item *PlanItem) (Outcome, bool) {
	if err := item.Transition(StatusInProgress); err != nil {
		st.RecordError(StageWriter, item.ItemID, err)
		return Outcome{}, false
	}
	item.AttemptCount++

	p, err := w.chapterPrompt(ctx, st, item)
	var draft string
	if err == nil {
		draft, err = w.draft(ctx, p)
	}
	if err == nil && strings.TrimSpace(draft) == "" {
		err = ModelError(StageWriter, fmt.Errorf("empty draft"))
	}
	if err != nil {
		if terr := item.Transition(StatusFailed); terr != nil {
			w.log.Error("cannot fail chapter", zap.String("item_id", item.ItemID), zap.Error(terr))
		}
		item.Log("draft %d failed: %v", item.AttemptCount, err)
		st.RecordError(StageWriter, item.ItemID, err)
		w.log.Warn("chapter draft failed", zap.String("item_id", item.ItemID), zap.Error(err))
		w.emit(st, StageWriter, item.ItemID, ActionNone)
		return Outcome{}, false
	}
	item.Content = strings.TrimSpace(draft)
	item.Log("draft %d written (%d chars)", item.AttemptCount, len(item.Content))
	w.emit(st, StageWriter, item.ItemID, ActionNone)

	verdict := w.review(ctx, st, item)
	switch verdict.Decision {
	case verdictNeedsRevision:
		if item.AttemptCount <= w.cfg.MaxRevisions {
			w.sendBack(st, item, verdict.Feedback)
			st.Step("chapter %s sent back for revision", item.ItemID)
			w.emit(st, StageReviewer, item.ItemID, ActionNone)
			return Outcome{}, false
		}
		item.Log("revision limit reached, accepting draft")
	case verdictNeedsResearch:
		if st.PlanningAttempts < w.cfg.PlanningAttemptsThreshold {
			w.sendBack(st, item, verdict.Feedback)
			st.setExtra(extraResearchFeedback, fmt.Sprintf("Chapter %q needs more research: %s", item.Description, verdict.Feedback))
			st.Apply(StateUpdate{ReplanNeeded: ptr(true)})
			st.Step("chapter %s requested supplementary research", item.ItemID)
			w.emit(st, StageReviewer, item.ItemID, ActionNone)
			return Outcome{Action: ActionResearch, Reason: "reviewer requested more research for " + item.ItemID}, true
		}
		item.Log("research budget exhausted, accepting draft")
	}
	w.accept(ctx, st, item)
	return Outcome{}, false
}

func (w *WritingWorkflow) sendBack(st *AgentState, item *PlanItem, feedback string) {
	if err := item.Transition(StatusNeedsRevision); err != nil {
		st.RecordError(StageReviewer, item.ItemID, err)
		return
	}
	item.Feedback = strings.TrimSpace(feedback)
	item.Log("review requested changes: %s", truncate(item.Feedback, 200))
}

func (w *WritingWorkflow) review(ctx context.Context, st *AgentState, item *PlanItem) reviewVerdict {
	p, err := buildPrompt(StageReviewer, reviewerSystem, reviewerUser, map[string]any{
		"query":   st.Input,
		"chapter": item.Description,
		"draft":   truncate(item.Content, 12000),
	})
	var v reviewVerdict
	if err == nil {
		v, err = ask[reviewVerdict](ctx, w.base, p)
	}
	if err != nil {
		item.Log("review unavailable, accepting draft: %v", err)
		st.RecordError(StageReviewer, item.ItemID, err)
		v = reviewVerdict{Decision: verdictCompleted}
	}
	v.Decision = strings.ToLower(strings.TrimSpace(v.Decision))
	item.EvaluationResults = &Evaluation{Decision: v.Decision, Feedback: v.Feedback}
	return v
}

// accept numbers the chapter's citations and completes it. Rejected drafts
// never reach the registry.
func (w *WritingWorkflow) accept(ctx context.Context, st *AgentState, item *PlanItem) {
	text, used := ApplyCitations(item.Content, st.SharedContext.Citations, researchTitles(st.ResearchPlan))
	item.Content = text
	item.Feedback = ""
	if err := item.Transition(StatusCompleted); err != nil {
		st.RecordError(StageReviewer, item.ItemID, err)
		return
	}
	item.Log("accepted with %d citation markers", len(used))
	st.Step("chapter %s completed", item.ItemID)
	w.log.Info("chapter completed",
		zap.String("item_id", item.ItemID),
		zap.Int("attempts", item.AttemptCount),
		zap.Int("citations", st.SharedContext.Citations.Len()))
	w.emit(st, StageReviewer, item.ItemID, ActionNone)
	w.summarizeChapter(ctx, st, item)
}

func (w *WritingWorkflow) summarizeChapter(ctx context.Context, st *AgentState, item *PlanItem) {
	p, err := buildPrompt(StageChapterSummarizer, chapterSummarizerSystem, chapterSummarizerUser, map[string]any{
		"chapter": item.Description,
		"content": truncate(item.Content, 8000),
	})
	if err == nil {
		var raw string
		raw, err = w.draft(ctx, p)
		if err == nil {
			item.Summary = strings.TrimSpace(raw)
		}
	}
	if err != nil {
		item.Log("chapter summary unavailable: %v", err)
		st.RecordError(StageChapterSummarizer, item.ItemID, err)
		return
	}
	w.emit(st, StageChapterSummarizer, item.ItemID, ActionNone)
}

func (w *WritingWorkflow) chapterPrompt(ctx context.Context, st *AgentState, item *PlanItem) (Prompt, error) {
	var previous *PlanItem
	for _, it := range st.WritingPlan {
		if it == item {
			break
		}
		if it.Status == StatusCompleted {
			previous = it
		}
	}
	var others strings.Builder
	for _, it := range st.WritingPlan {
		if it == item || it == previous || it.Status != StatusCompleted {
			continue
		}
		fmt.Fprintf(&others, "- %s: %s\n", it.Description, truncate(it.Digest(), 500))
	}
	prevText := "(none)"
	if previous != nil {
		prevText = "## " + previous.Description + "\n\n" + previous.Content
	}

	passages, err := w.retrieve(ctx, item.Description)
	if err != nil {
		item.Log("retrieval unavailable: %v", err)
		st.RecordError(StageWriter, item.ItemID, err)
	}
	var pb strings.Builder
	for _, ps := range passages {
		fmt.Fprintf(&pb, "- [%s] %s\n", ps.Source, truncate(ps.Content, 600))
	}

	feedback := ""
	if item.Feedback != "" {
		feedback = "Revision feedback from the reviewer:\n" + item.Feedback
	}
	return buildPrompt(StageWriter, writerSystem, writerUser, map[string]any{
		"query":    st.Input,
		"chapter":  item.Description,
		"research": researchMaterial(st.ResearchPlan, item),
		"passages": orNone(pb.String()),
		"previous": prevText,
		"others":   orNone(others.String()),
		"feedback": feedback,
	})
}

// researchMaterial renders the digests and sources of the research items the
// chapter depends on, or of all completed research when it names none.
func researchMaterial(research []*PlanItem, chapter *PlanItem) string {
	var picked []*PlanItem
	for _, dep := range chapter.Dependencies {
		if it := FindItem(research, dep); it != nil && it.Status == StatusCompleted {
			picked = append(picked, it)
		}
	}
	if len(picked) == 0 {
		for _, it := range research {
			if it.Status == StatusCompleted {
				picked = append(picked, it)
			}
		}
	}
	var b strings.Builder
	for _, it := range picked {
		fmt.Fprintf(&b, "### %s\n%s\nSources:\n", it.Description, truncate(it.Digest(), 2000))
		for i, r := range it.Results {
			if i == 8 {
				break
			}
			fmt.Fprintf(&b, "- %s: %s\n", r.Title, r.URL)
		}
		b.WriteString("\n")
	}
	return orNone(b.String())
}

func researchTitles(research []*PlanItem) map[string]string {
	titles := make(map[string]string)
	for _, it := range research {
		for _, r := range it.Results {
			if _, ok := titles[r.URL]; !ok && strings.TrimSpace(r.Title) != "" {
				titles[r.URL] = strings.TrimSpace(r.Title)
			}
		}
	}
	return titles
}

func (w *WritingWorkflow) route(ctx context.Context, st *AgentState) Outcome {
	plan := st.WritingPlan
	if AllCompleted(plan) {
		if err := w.Assemble(ctx, st); err != nil {
			st.RecordError(StageFinalAssembler, "", err)
			return Outcome{Action: ActionFail, Reason: "final assembly failed: " + err.Error()}
		}
		return Outcome{Action: ActionFinish, Reason: "report assembled"}
	}

	if blocked := BlockUnreachable(plan, w.cfg.MaxItemAttempts, st.ResearchPlan); len(blocked) > 0 {
		st.Step("blocked chapters %s", strings.Join(blocked, ", "))
	}
	for _, it := range plan {
		if it.Actionable(w.cfg.MaxItemAttempts) {
			return Outcome{Action: ActionWriting, TargetItemID: it.ItemID, Reason: "chapter " + it.ItemID + " still open"}
		}
	}
	for _, it := range plan {
		if it.Status != StatusPending {
			continue
		}
		for _, dep := range it.Dependencies {
			if d := FindItem(st.ResearchPlan, dep); d != nil && d.Status != StatusCompleted && anyActionable(st.ResearchPlan, w.cfg.MaxItemAttempts) {
				return Outcome{Action: ActionResearch, Reason: "chapter " + it.ItemID + " waits on research " + dep}
			}
		}
	}
	return Outcome{Action: ActionFail, Reason: "remaining chapters are blocked or failed"}
}

// Assemble concatenates the chapters in plan order and appends the reference
// list. It requires every chapter to be completed and is idempotent.
func (w *WritingWorkflow) Assemble(ctx context.Context, st *AgentState) error {
	_, span := tracer.Start(ctx, "writing.assemble")
	defer span.End()
	if !AllCompleted(st.WritingPlan) {
		return &PlanIntegrityError{Plan: "writing", Reason: "cannot assemble before every chapter is completed"}
	}
	var b strings.Builder
	for _, it := range st.WritingPlan {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", it.Description, strings.TrimSpace(it.Content))
	}
	sources := st.SharedContext.Citations.Sources()
	b.WriteString(RenderReferences(sources))
	answer := strings.TrimSpace(b.String())

	st.Apply(StateUpdate{FinalAnswer: &answer})
	st.FinalSources = sources
	st.Step("final report assembled: %d chapters, %d sources", len(st.WritingPlan), len(sources))
	span.SetAttributes(attribute.Int("sources", len(sources)))
	w.emit(st, StageFinalAssembler, "", ActionNone)
	return nil
}

func anyActionable(plan []*PlanItem, maxAttempts int) bool {
	for _, it := range plan {
		if it.Actionable(maxAttempts) {
			return true
		}
	}
	return false
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return strings.TrimRight(s, "\n")
}
