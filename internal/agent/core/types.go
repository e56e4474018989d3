package core

import (
	"context"
)

// ItemStatus is the lifecycle state of a PlanItem.
type ItemStatus string

const (
	StatusPending       ItemStatus = "pending"
	StatusReady         ItemStatus = "ready"
	StatusInProgress    ItemStatus = "in_progress"
	StatusCompleted     ItemStatus = "completed"
	StatusNeedsRevision ItemStatus = "needs_revision"
	StatusFailed        ItemStatus = "failed"
	StatusBlocked       ItemStatus = "blocked"
)

// PlanItem is one schedulable unit of research or writing work.
type PlanItem struct {
	ItemID            string         `json:"item_id"`
	Description       string         `json:"description"`
	Dependencies      []string       `json:"dependencies"`
	Status            ItemStatus     `json:"status"`
	Content           string         `json:"content"`
	Summary           string         `json:"summary,omitempty"`
	ExecutionLog      []string       `json:"execution_log"`
	EvaluationResults *Evaluation    `json:"evaluation_results,omitempty"`
	AttemptCount      int            `json:"attempt_count"`
	Feedback          string         `json:"feedback,omitempty"`
	Results           []SearchResult `json:"results,omitempty"`
}

// Evaluation is the last structured verdict recorded for an item. Research
// items use IsSufficient/Reasoning, writing items use Decision/Feedback.
type Evaluation struct {
	Summary      string `json:"evaluation_summary,omitempty"`
	IsSufficient bool   `json:"is_sufficient"`
	Reasoning    string `json:"reasoning,omitempty"`
	Decision     string `json:"decision,omitempty"`
	Feedback     string `json:"feedback,omitempty"`
}

// SearchResult is one hit returned by a Searcher.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Document is a unit of text handed to an Indexer.
type Document struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Text  string `json:"text"`
}

// Passage is a retrieved fragment and where it came from.
type Passage struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Source is one numbered entry of the final reference list.
type Source struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	URL    string `json:"url"`
}

// ErrorRecord is an entry of the run-wide error log.
type ErrorRecord struct {
	Stage  string `json:"stage"`
	ItemID string `json:"item_id,omitempty"`
	Error  string `json:"error"`
}

// Prompt is the structured context handed to the Drafter. Stage names the
// calling stage so adapters and tests can route on it.
type Prompt struct {
	Stage  string `json:"stage"`
	System string `json:"system"`
	User   string `json:"user"`
}

// Searcher runs a web search. An empty result is not an error.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// Indexer stores documents for later retrieval.
type Indexer interface {
	Index(ctx context.Context, docs []Document) error
}

// Retriever returns the passages most relevant to query. Retrieval against an
// empty index returns an empty list.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Passage, error)
}

// Corpus is a per-run index supporting both directions.
type Corpus interface {
	Indexer
	Retriever
}

// Drafter is the language-model call. Output is untrusted text.
type Drafter interface {
	Draft(ctx context.Context, p Prompt) (string, error)
}

// Stage names used in logs, error records and stage events.
const (
	StageOutlinePlanner    = "outline_planner"
	StageExecutor          = "research_executor"
	StageSummarizer        = "research_summarizer"
	StageEvaluator         = "research_evaluator"
	StageWritingPlanner    = "writing_planner"
	StageWriter            = "writing_executor"
	StageReviewer          = "writing_reviewer"
	StageChapterSummarizer = "chapter_summarizer"
	StageFinalAssembler    = "final_assembler"
	StageSupervisor        = "supervisor"
)

// StageEvent is published after a stage completes. State is the live run
// state; observers must not mutate it.
type StageEvent struct {
	Stage  string
	ItemID string
	Action MacroAction
	State  *AgentState
}

// Observer receives stage events in completion order.
type Observer interface {
	OnStage(ev StageEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev StageEvent)

func (f ObserverFunc) OnStage(ev StageEvent) { f(ev) }

type nopObserver struct{}

func (nopObserver) OnStage(StageEvent) {}
