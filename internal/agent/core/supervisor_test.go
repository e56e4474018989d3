package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, d Drafter, s Searcher, cfg Config, corpus Corpus) *Engine {
	t.Helper()
	caps := Capabilities{Drafter: d, Searcher: s}
	if corpus != nil {
		caps.NewCorpus = func() (Corpus, error) { return corpus, nil }
	}
	e, err := NewEngine(caps, Options{Config: cfg})
	require.NoError(t, err)
	return e
}

func TestNewEngineRequiresCapabilities(t *testing.T) {
	_, err := NewEngine(Capabilities{Searcher: &stubSearcher{}}, Options{})
	assert.Error(t, err)
	_, err = NewEngine(Capabilities{Drafter: newStubDrafter()}, Options{})
	assert.Error(t, err)
}

func TestEngineRunsToFinish(t *testing.T) {
	drafter := newStubDrafter().
		on(StageOutlinePlanner, twoItemPlan).
		on(StageSummarizer, "condensed").
		on(StageEvaluator, sufficient).
		on(StageWritingPlanner, twoChapterPlan).
		on(StageWriter, "Old [ref:https://a.example/history].", "New [ref:https://b.example/impact] and old [ref:https://a.example/history].").
		on(StageReviewer, accepted).
		on(StageChapterSummarizer, "chapter summary")
	corpus := &stubCorpus{}
	rec := &recorder{}
	e := newTestEngine(t, drafter, &stubSearcher{results: widgetResults()}, DefaultConfig(), corpus)
	st := e.NewState("tell me about widgets")

	require.NoError(t, e.Run(context.Background(), st, rec))

	assert.Equal(t, ActionFinish, st.SupervisorDecision)
	assert.Equal(t, 3, st.StepCount)
	assert.NotEmpty(t, st.RunID)
	assert.Len(t, st.FinalSources, 2)
	assert.Contains(t, st.FinalAnswer, "## References")
	assert.Zero(t, drafter.calls[StageSupervisor], "workflow recommendations carry the run")

	steps := strings.Join(st.IntermediateSteps, "\n")
	assert.Contains(t, steps, "step 1: RESEARCH via rule")
	assert.Contains(t, steps, "step 2: WRITING via workflow")
	assert.Contains(t, steps, "step 3: FINISH via workflow")

	stages := rec.stages()
	assert.Less(t, lastIndexOf(stages, StageEvaluator), indexOf(stages, StageWritingPlanner))
	assert.Less(t, indexOf(stages, StageFinalAssembler), lastIndexOf(stages, StageSupervisor))
	last := rec.events[len(rec.events)-1]
	assert.Equal(t, StageSupervisor, last.Stage)
	assert.Equal(t, ActionFinish, last.Action)
}

// A search that fails on every attempt exhausts the item and the run fails
// with an explanation.
func TestEngineFailsWhenSearchAlwaysFails(t *testing.T) {
	drafter := newStubDrafter().
		on(StageOutlinePlanner, `{"plan": [{"item_id": "research_1", "description": "history of widgets"}]}`)
	searcher := &stubSearcher{err: errors.New("quota exceeded")}
	e := newTestEngine(t, drafter, searcher, DefaultConfig(), nil)
	st := e.NewState("widgets")

	require.NoError(t, e.Run(context.Background(), st, nil))

	assert.Equal(t, ActionFail, st.SupervisorDecision)
	assert.NotEmpty(t, st.FinalAnswer)
	item := st.ResearchPlan[0]
	assert.Equal(t, StatusFailed, item.Status)
	assert.LessOrEqual(t, item.AttemptCount, DefaultConfig().MaxItemAttempts)
	assert.LessOrEqual(t, st.StepCount, DefaultConfig().MaxSteps)
	assert.Empty(t, st.WritingPlan)
}

func TestEngineStopsAtStepCeiling(t *testing.T) {
	drafter := newStubDrafter().on(StageOutlinePlanner, "I would rather chat.")
	cfg := DefaultConfig()
	cfg.MaxSteps = 5
	cfg.PlanningAttemptsThreshold = 100
	e := newTestEngine(t, drafter, &stubSearcher{}, cfg, nil)
	st := e.NewState("widgets")

	require.NoError(t, e.Run(context.Background(), st, nil))

	assert.Equal(t, ActionFail, st.SupervisorDecision)
	assert.Equal(t, 5, st.StepCount)
	assert.Equal(t, 5, drafter.calls[StageOutlinePlanner])
	assert.Contains(t, st.FinalAnswer, "maximum of 5 steps")
	var found bool
	for _, e := range st.ErrorLog {
		found = found || strings.Contains(e.Error, "steps ceiling reached")
	}
	assert.True(t, found)
}

func TestEngineUnparseableDrafterNeverPassesCeiling(t *testing.T) {
	drafter := newStubDrafter()
	for _, stage := range []string{StageOutlinePlanner, StageSupervisor, StageEvaluator, StageWritingPlanner} {
		drafter.on(stage, "sorry, I cannot answer in JSON")
	}
	cfg := DefaultConfig()
	cfg.MaxSteps = 5
	e := newTestEngine(t, drafter, &stubSearcher{}, cfg, nil)
	st := e.NewState("widgets")

	require.NoError(t, e.Run(context.Background(), st, nil))

	assert.Equal(t, ActionFail, st.SupervisorDecision)
	assert.LessOrEqual(t, st.StepCount, 5)
	assert.True(t, strings.HasPrefix(st.FinalAnswer, "The task could not be completed"))
}

func TestEngineNoProgressThreshold(t *testing.T) {
	drafter := newStubDrafter().
		on(StageOutlinePlanner, `{"plan": [{"item_id": "research_1", "description": "obscure topic"}]}`).
		on(StageEvaluator, `{"is_sufficient": false, "reasoning": "nothing found"}`).
		on(StageSupervisor, `{"next_action": "RESEARCH"}`)
	cfg := DefaultConfig()
	cfg.NoProgressThreshold = 1
	e := newTestEngine(t, drafter, &stubSearcher{}, cfg, nil)
	st := e.NewState("widgets")

	require.NoError(t, e.Run(context.Background(), st, nil))

	assert.Equal(t, ActionFail, st.SupervisorDecision)
	assert.Contains(t, st.FinalAnswer, "without research progress")
}

func TestEngineCancelledContext(t *testing.T) {
	e := newTestEngine(t, newStubDrafter(), &stubSearcher{}, DefaultConfig(), nil)
	st := e.NewState("widgets")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Run(ctx, st, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ActionFail, st.SupervisorDecision)
	assert.NotEmpty(t, st.FinalAnswer)
}

func partialState() *AgentState {
	st := researchedState()
	st.ResearchPlan[1].Status = StatusFailed
	st.ResearchPlan[1].AttemptCount = 1
	return st
}

func TestDecideConsultsDrafterWhenNoRuleApplies(t *testing.T) {
	drafter := newStubDrafter().
		on(StageSupervisor, "I'd suggest: ```json\n{\"next_action\": \"research\", \"target_item_id\": \"research_2\"}\n```")
	sup := newSupervisor(testBase(drafter, &stubSearcher{}, nil))
	st := partialState()

	d := sup.Decide(context.Background(), st)

	assert.Equal(t, Decision{Action: ActionResearch, TargetItemID: "research_2", Source: SourceDrafter}, d)
	assert.Equal(t, 1, st.StepCount)
	prompt := drafter.promptsFor(StageSupervisor)[0]
	assert.Contains(t, prompt.User, "research_2 [failed]")
}

func TestDecideDropsNonActionableTarget(t *testing.T) {
	drafter := newStubDrafter().on(StageSupervisor, `{"next_action": "WRITING", "target_item_id": "research_1"}`)
	sup := newSupervisor(testBase(drafter, &stubSearcher{}, nil))

	d := sup.Decide(context.Background(), partialState())

	assert.Equal(t, ActionWriting, d.Action)
	assert.Empty(t, d.TargetItemID)
}

func TestDecideFailsClosed(t *testing.T) {
	for name, reply := range map[string]string{
		"prose":   "Let's keep going!",
		"unknown": `{"next_action": "DANCE"}`,
		"empty":   `{"next_action": ""}`,
	} {
		t.Run(name, func(t *testing.T) {
			drafter := newStubDrafter().on(StageSupervisor, reply)
			sup := newSupervisor(testBase(drafter, &stubSearcher{}, nil))
			d := sup.Decide(context.Background(), partialState())
			assert.Equal(t, ActionFail, d.Action)
			assert.Equal(t, SourceDrafter, d.Source)
		})
	}
}

func TestDecidePriorityOrder(t *testing.T) {
	sup := newSupervisor(testBase(newStubDrafter(), &stubSearcher{}, nil))

	st := NewAgentState("run", "q")
	assert.Equal(t, ActionResearch, sup.Decide(context.Background(), st).Action)

	st = researchedState()
	assert.Equal(t, Decision{Action: ActionWriting, Reason: "research completed", Source: SourceRule}, sup.Decide(context.Background(), st))

	st.Recommendation = &Outcome{Action: ActionUnknown, Reason: "garbled"}
	d := sup.Decide(context.Background(), st)
	assert.Equal(t, ActionUnknown, d.Action)
	assert.Equal(t, SourceWorkflow, d.Source)
	assert.Nil(t, st.Recommendation)

	c := NewPlanItem("chapter_1", "Only", "research_1")
	c.Status = StatusCompleted
	st.WritingPlan = []*PlanItem{c}
	assert.Equal(t, ActionSynthesize, sup.Decide(context.Background(), st).Action)
	st.FinalAnswer = "done"
	assert.Equal(t, ActionFinish, sup.Decide(context.Background(), st).Action)

	st.ConsecutiveNoProgress = sup.cfg.NoProgressThreshold
	assert.Equal(t, SourceNoProgress, sup.Decide(context.Background(), st).Source)

	st.StepCount = sup.cfg.MaxSteps
	d = sup.Decide(context.Background(), st)
	assert.Equal(t, SourceCeiling, d.Source)
	assert.Equal(t, sup.cfg.MaxSteps, st.StepCount, "the ceiling is never passed")
}

func TestDecideFailsWhenNothingIsActionable(t *testing.T) {
	drafter := newStubDrafter()
	sup := newSupervisor(testBase(drafter, &stubSearcher{}, nil))
	st := NewAgentState("run", "q")
	it := NewPlanItem("research_1", "x")
	it.Status = StatusFailed
	it.AttemptCount = 3
	st.ResearchPlan = []*PlanItem{it}

	d := sup.Decide(context.Background(), st)

	assert.Equal(t, ActionFail, d.Action)
	assert.Zero(t, drafter.calls[StageSupervisor])
}

func TestUnknownRecommendationEndsRunWithMessage(t *testing.T) {
	sup := newSupervisor(testBase(newStubDrafter(), &stubSearcher{}, nil))
	st := researchedState()
	st.Recommendation = &Outcome{Action: ActionUnknown, Reason: "garbled signal"}

	require.NoError(t, sup.Run(context.Background(), st))

	assert.Equal(t, ActionFail, st.SupervisorDecision)
	assert.Equal(t, "The task could not be completed: garbled signal 2 of 2 research items had been completed.", st.FinalAnswer)
}
