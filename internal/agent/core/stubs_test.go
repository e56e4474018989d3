package core

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// stubDrafter replies per stage from a queue; the last reply repeats.
type stubDrafter struct {
	mu      sync.Mutex
	replies map[string][]string
	errs    map[string]error
	calls   map[string]int
	prompts []Prompt
}

func newStubDrafter() *stubDrafter {
	return &stubDrafter{replies: map[string][]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (d *stubDrafter) on(stage string, replies ...string) *stubDrafter {
	d.replies[stage] = append(d.replies[stage], replies...)
	return d
}

func (d *stubDrafter) Draft(_ context.Context, p Prompt) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[p.Stage]++
	d.prompts = append(d.prompts, p)
	if err := d.errs[p.Stage]; err != nil {
		return "", err
	}
	q := d.replies[p.Stage]
	if len(q) == 0 {
		return "", fmt.Errorf("no reply scripted for %s", p.Stage)
	}
	r := q[0]
	if len(q) > 1 {
		d.replies[p.Stage] = q[1:]
	}
	return r, nil
}

func (d *stubDrafter) promptsFor(stage string) []Prompt {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Prompt
	for _, p := range d.prompts {
		if p.Stage == stage {
			out = append(out, p)
		}
	}
	return out
}

type stubSearcher struct {
	mu      sync.Mutex
	results map[string][]SearchResult
	err     error
	queries []string
}

func (s *stubSearcher) Search(_ context.Context, query string, _ int) ([]SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	return s.results[query], nil
}

type stubCorpus struct {
	mu   sync.Mutex
	docs []Document
}

func (c *stubCorpus) Index(_ context.Context, docs []Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, docs...)
	return nil
}

func (c *stubCorpus) Retrieve(_ context.Context, query string, topK int) ([]Passage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Passage
	for _, d := range c.docs {
		if len(out) == topK {
			break
		}
		out = append(out, Passage{Content: d.Text, Source: d.URL})
	}
	return out, nil
}

type recorder struct {
	mu     sync.Mutex
	events []StageEvent
}

func (r *recorder) OnStage(ev StageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Stage)
	}
	return out
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

func lastIndexOf(list []string, v string) int {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i] == v {
			return i
		}
	}
	return -1
}

func testBase(d Drafter, s Searcher, c Corpus) *base {
	return &base{
		cfg:      DefaultConfig(),
		drafter:  d,
		searcher: s,
		corpus:   c,
		logger:   zap.NewNop(),
		obs:      nopObserver{},
	}
}

const twoItemPlan = `Here is the plan:
` + "```json" + `
{"overall_outline": "history then impact",
 "plan": [
  {"item_id": "research_1", "description": "history of widgets", "dependencies": []},
  {"item_id": "research_2", "description": "impact of widgets", "dependencies": []}
 ]}
` + "```"

const sufficient = `{"evaluation_summary": "ok", "is_sufficient": true, "reasoning": "covers the goal"}`

func widgetResults() map[string][]SearchResult {
	return map[string][]SearchResult{
		"history of widgets": {{Title: "Widget history", URL: "https://a.example/history", Snippet: "Widgets date back to 1900."}},
		"impact of widgets":  {{Title: "Widget impact", URL: "https://b.example/impact", Snippet: "Widgets changed industry."}},
	}
}
