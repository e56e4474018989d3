package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const accepted = `{"decision": "completed", "feedback": ""}`

// researchedState returns a state whose two research items are completed.
func researchedState() *AgentState {
	st := NewAgentState("run", "tell me about widgets")
	results := widgetResults()
	for i, desc := range []string{"history of widgets", "impact of widgets"} {
		it := NewPlanItem(fmt.Sprintf("research_%d", i+1), desc)
		it.Status = StatusCompleted
		it.Summary = "summary of " + desc
		it.Results = results[desc]
		st.ResearchPlan = append(st.ResearchPlan, it)
	}
	return st
}

const twoChapterPlan = `{"plan": [
 {"item_id": "chapter_1", "description": "Background", "dependencies": ["research_1"]},
 {"item_id": "chapter_2", "description": "Impact", "dependencies": ["research_2", "chapter_1"]}
]}`

func TestWritingDraftsChaptersAndAssembles(t *testing.T) {
	drafter := newStubDrafter().
		on(StageWritingPlanner, twoChapterPlan).
		on(StageWriter,
			"Widgets began in 1900 [ref:https://a.example/history]. Confirmed [ref:https://a.example/history].",
			"They reshaped industry [ref:https://b.example/impact|Impact Study], building on history [ref:https://a.example/history].").
		on(StageReviewer, accepted).
		on(StageChapterSummarizer, "chapter summary")
	w := newWritingWorkflow(testBase(drafter, &stubSearcher{}, nil))
	st := researchedState()

	out := w.Run(context.Background(), st)

	require.Equal(t, ActionFinish, out.Action, out.Reason)
	require.Len(t, st.WritingPlan, 2)
	c1, c2 := st.WritingPlan[0], st.WritingPlan[1]
	assert.Equal(t, StatusCompleted, c1.Status)
	assert.Equal(t, StatusCompleted, c2.Status)
	assert.Equal(t, "Widgets began in 1900 [1]. Confirmed [1].", c1.Content)
	assert.Equal(t, "They reshaped industry [2], building on history [1].", c2.Content)
	assert.Equal(t, "chapter summary", c1.Summary)

	assert.Equal(t, []Source{
		{Number: 1, Title: "Widget history", URL: "https://a.example/history"},
		{Number: 2, Title: "Impact Study", URL: "https://b.example/impact"},
	}, st.FinalSources)
	assert.Contains(t, st.FinalAnswer, "## Background\n\nWidgets began in 1900 [1].")
	assert.Contains(t, st.FinalAnswer, "## Impact")
	assert.Contains(t, st.FinalAnswer, "## References\n\n[1] Widget history. https://a.example/history\n[2] Impact Study. https://b.example/impact")

	second := drafter.promptsFor(StageWriter)[1]
	assert.Contains(t, second.User, "## Background", "the previous chapter is passed in full")
	assert.Contains(t, second.User, "summary of impact of widgets")
}

func TestWritingRevisionLoop(t *testing.T) {
	drafter := newStubDrafter().
		on(StageWritingPlanner, `{"plan": [{"item_id": "chapter_1", "description": "Background", "dependencies": ["research_1"]}]}`).
		on(StageWriter, "first draft [ref:https://rejected.example]", "second draft [ref:https://a.example/history]").
		on(StageReviewer, `{"decision": "needs_revision", "feedback": "cite the history source"}`, accepted).
		on(StageChapterSummarizer, "s")
	w := newWritingWorkflow(testBase(drafter, &stubSearcher{}, nil))
	st := researchedState()

	out := w.Run(context.Background(), st)

	require.Equal(t, ActionFinish, out.Action)
	c1 := st.WritingPlan[0]
	assert.Equal(t, 2, c1.AttemptCount)
	assert.Equal(t, "second draft [1]", c1.Content)
	assert.Empty(t, c1.Feedback)
	assert.Equal(t, 1, st.SharedContext.Citations.Len(), "rejected drafts never consume numbers")
	_, ok := st.SharedContext.Citations.Lookup("https://rejected.example")
	assert.False(t, ok)

	prompts := drafter.promptsFor(StageWriter)
	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[0].User, "cite the history source")
	assert.Contains(t, prompts[1].User, "cite the history source")
}

func TestWritingRevisionLimitAcceptsDraft(t *testing.T) {
	drafter := newStubDrafter().
		on(StageWritingPlanner, `{"plan": [{"item_id": "chapter_1", "description": "Background"}]}`).
		on(StageWriter, "draft").
		on(StageReviewer, `{"decision": "needs_revision", "feedback": "again"}`).
		on(StageChapterSummarizer, "s")
	b := testBase(drafter, &stubSearcher{}, nil)
	b.cfg.MaxRevisions = 1
	w := newWritingWorkflow(b)
	st := researchedState()

	out := w.Run(context.Background(), st)

	assert.Equal(t, ActionFinish, out.Action)
	assert.Equal(t, 2, st.WritingPlan[0].AttemptCount)
	assert.Equal(t, StatusCompleted, st.WritingPlan[0].Status)
}

func TestWritingReviewerRequestsResearch(t *testing.T) {
	drafter := newStubDrafter().
		on(StageWritingPlanner, `{"plan": [{"item_id": "chapter_1", "description": "Background", "dependencies": ["research_1"]}]}`).
		on(StageWriter, "thin draft").
		on(StageReviewer, `{"decision": "needs_research", "feedback": "missing pricing data"}`)
	w := newWritingWorkflow(testBase(drafter, &stubSearcher{}, nil))
	st := researchedState()
	st.PlanningAttempts = 1

	out := w.Run(context.Background(), st)

	assert.Equal(t, ActionResearch, out.Action)
	assert.True(t, st.ReplanNeeded)
	assert.Equal(t, StatusNeedsRevision, st.WritingPlan[0].Status)
	assert.Contains(t, st.SharedContext.Extra[extraResearchFeedback], "missing pricing data")
	assert.Zero(t, st.SharedContext.Citations.Len())
}

func TestWritingDraftFailureIsRetriedByTarget(t *testing.T) {
	drafter := newStubDrafter().
		on(StageWritingPlanner, `{"plan": [{"item_id": "chapter_1", "description": "Background"}]}`)
	drafter.errs[StageWriter] = errors.New("upstream 503")
	w := newWritingWorkflow(testBase(drafter, &stubSearcher{}, nil))
	st := researchedState()

	out := w.Run(context.Background(), st)

	assert.Equal(t, ActionWriting, out.Action)
	assert.Equal(t, "chapter_1", out.TargetItemID)
	assert.Equal(t, StatusFailed, st.WritingPlan[0].Status)

	delete(drafter.errs, StageWriter)
	drafter.on(StageWriter, "recovered").on(StageReviewer, accepted).on(StageChapterSummarizer, "s")
	st.CurrentPlanItemID = out.TargetItemID
	out = w.Run(context.Background(), st)
	assert.Equal(t, ActionFinish, out.Action)
	assert.Equal(t, 2, st.WritingPlan[0].AttemptCount)
}

func TestWritingPlanRejectsDanglingDependency(t *testing.T) {
	drafter := newStubDrafter().
		on(StageWritingPlanner, `{"plan": [{"description": "Intro", "dependencies": ["research_1", "research_9"]}]}`)
	w := newWritingWorkflow(testBase(drafter, &stubSearcher{}, nil))
	st := researchedState()

	out := w.Run(context.Background(), st)

	assert.Equal(t, ActionWriting, out.Action, "planning is retried under the threshold")
	assert.Empty(t, st.WritingPlan, "an invalid plan is not applied")
	require.Len(t, st.ErrorLog, 1)
	assert.Equal(t, StageWritingPlanner, st.ErrorLog[0].Stage)
	assert.Contains(t, st.ErrorLog[0].Error, "research_9")
	assert.Zero(t, drafter.calls[StageWriter])

	var pie *PlanIntegrityError
	require.True(t, errors.As(w.planChapters(context.Background(), researchedState()), &pie))
	assert.Equal(t, "research_9", pie.Dependency)
}

func TestWritingPlanFailsAfterRepeatedDanglingDependencies(t *testing.T) {
	drafter := newStubDrafter().
		on(StageWritingPlanner, `{"plan": [{"item_id": "chapter_1", "description": "Intro", "dependencies": ["ghost"]}]}`)
	w := newWritingWorkflow(testBase(drafter, &stubSearcher{}, nil))
	st := researchedState()

	var out Outcome
	for i := 0; i < DefaultConfig().PlanningAttemptsThreshold; i++ {
		out = w.Run(context.Background(), st)
	}

	assert.Equal(t, ActionFail, out.Action)
	assert.Len(t, st.ErrorLog, DefaultConfig().PlanningAttemptsThreshold)
}

// researchWithFailedSecond returns researchedState with research_2 failed
// after attempts searches.
func researchWithFailedSecond(attempts int) *AgentState {
	st := researchedState()
	r2 := st.ResearchPlan[1]
	r2.Status = StatusFailed
	r2.AttemptCount = attempts
	r2.Summary = ""
	r2.Results = nil
	return st
}

func TestWritingBlocksChapterOnExhaustedResearch(t *testing.T) {
	drafter := newStubDrafter().
		on(StageWritingPlanner, twoChapterPlan).
		on(StageWriter, "Old [ref:https://a.example/history].").
		on(StageReviewer, accepted).
		on(StageChapterSummarizer, "s")
	w := newWritingWorkflow(testBase(drafter, &stubSearcher{}, nil))
	st := researchWithFailedSecond(DefaultConfig().MaxItemAttempts)

	out := w.Run(context.Background(), st)

	assert.Equal(t, ActionFail, out.Action)
	c1, c2 := st.WritingPlan[0], st.WritingPlan[1]
	assert.Equal(t, []string{"research_2", "chapter_1"}, c2.Dependencies, "declared edges are kept")
	assert.Equal(t, StatusCompleted, c1.Status)
	assert.Equal(t, StatusBlocked, c2.Status)
	assert.Empty(t, c2.Content)
	assert.Equal(t, 1, drafter.calls[StageWriter])
	assert.Empty(t, st.FinalAnswer)
}

func TestWritingWaitsOnRetryableResearch(t *testing.T) {
	drafter := newStubDrafter().
		on(StageWritingPlanner, twoChapterPlan).
		on(StageWriter, "Old [ref:https://a.example/history].").
		on(StageReviewer, accepted).
		on(StageChapterSummarizer, "s")
	w := newWritingWorkflow(testBase(drafter, &stubSearcher{}, nil))
	st := researchWithFailedSecond(1)

	out := w.Run(context.Background(), st)

	assert.Equal(t, ActionResearch, out.Action)
	assert.Equal(t, StatusPending, st.WritingPlan[1].Status)
	assert.Empty(t, st.FinalAnswer)
}

func TestAssembleIsIdempotent(t *testing.T) {
	w := newWritingWorkflow(testBase(newStubDrafter(), &stubSearcher{}, nil))
	st := researchedState()
	c := NewPlanItem("chapter_1", "Only", "research_1")
	c.Status = StatusCompleted
	c.Content, _ = ApplyCitations("text [ref:https://a.example/history]", st.SharedContext.Citations, nil)
	st.WritingPlan = []*PlanItem{c}

	require.NoError(t, w.Assemble(context.Background(), st))
	first, sources := st.FinalAnswer, st.FinalSources
	require.NoError(t, w.Assemble(context.Background(), st))
	assert.Equal(t, first, st.FinalAnswer)
	assert.Equal(t, sources, st.FinalSources)
	assert.Len(t, st.FinalSources, 1)
}

func TestAssembleRequiresCompletedPlan(t *testing.T) {
	w := newWritingWorkflow(testBase(newStubDrafter(), &stubSearcher{}, nil))
	st := researchedState()
	st.WritingPlan = []*PlanItem{NewPlanItem("chapter_1", "Only", "research_1")}

	var pie *PlanIntegrityError
	assert.True(t, errors.As(w.Assemble(context.Background(), st), &pie))
	assert.Empty(t, st.FinalAnswer)
}

func TestWriterUsesRetrievedPassages(t *testing.T) {
	corpus := &stubCorpus{docs: []Document{{Title: "T", URL: "https://p.example", Text: "passage text"}}}
	drafter := newStubDrafter().
		on(StageWritingPlanner, `{"plan": [{"item_id": "chapter_1", "description": "Background"}]}`).
		on(StageWriter, "x").on(StageReviewer, accepted).on(StageChapterSummarizer, "s")
	w := newWritingWorkflow(testBase(drafter, &stubSearcher{}, corpus))

	w.Run(context.Background(), researchedState())

	p := drafter.promptsFor(StageWriter)[0]
	assert.Contains(t, p.User, "[https://p.example] passage text")
}
