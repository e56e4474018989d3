// Package stream projects engine stage events onto the server-push event
// vocabulary consumed by chat clients.
package stream

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/core"
)

// Event types.
const (
	TypeProgress   = "progress"
	TypeChapter    = "chapter"
	TypeReferences = "references"
	TypeSources    = "sources"
	TypeError      = "error"
	TypeEnd        = "end"
)

// Done is the payload of the terminal event.
const Done = "[DONE]"

// Event is one server-push message.
type Event struct {
	Type string
	Data any
}

type Progress struct {
	Type        string `json:"type"`
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	Description string `json:"description"`
}

type Chapter struct {
	ItemID  string `json:"item_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type References struct {
	Content string `json:"content"`
}

type Sources struct {
	Sources []core.Source `json:"sources"`
}

type Error struct {
	Error string `json:"error"`
}

// Encode renders e as a text/event-stream frame. String payloads are written
// as is; everything else is JSON.
func (e Event) Encode() ([]byte, error) {
	var data string
	switch v := e.Data.(type) {
	case string:
		data = v
	case nil:
		data = "{}"
	default:
		b, err := sonic.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s event: %w", e.Type, err)
		}
		data = string(b)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, data)), nil
}

// Sink delivers one event to the client.
type Sink func(Event) error

// WriterSink encodes events onto w, calling flush after each frame when it is
// not nil.
func WriterSink(w io.Writer, flush func()) Sink {
	return func(ev Event) error {
		frame, err := ev.Encode()
		if err != nil {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
		return nil
	}
}

// Projector is a core.Observer that turns stage events into client events.
// Chapters are sent once each, and Close sends the terminal event exactly
// once. After the first delivery error nothing else is sent.
type Projector struct {
	mu        sync.Mutex
	sink      Sink
	log       *zap.Logger
	chapters  map[string]bool
	assembled bool
	failed    bool
	err       error
	closeOnce sync.Once
}

func NewProjector(sink Sink, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{sink: sink, log: logger.Named("projector"), chapters: map[string]bool{}}
}

// OnStage implements core.Observer.
func (p *Projector) OnStage(ev core.StageEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := ev.State
	if st == nil {
		return
	}

	switch ev.Stage {
	case core.StageOutlinePlanner:
		p.send(TypeProgress, Progress{Type: "planning", Total: len(st.ResearchPlan), Description: "research plan ready"})
	case core.StageExecutor:
		p.progress("research", st.ResearchPlan, ev.ItemID)
	case core.StageWritingPlanner:
		p.send(TypeProgress, Progress{Type: "outlining", Total: len(st.WritingPlan), Description: "chapter outline ready"})
	case core.StageWriter:
		p.progress("writing", st.WritingPlan, ev.ItemID)
	}

	for _, it := range st.WritingPlan {
		if it.Status != core.StatusCompleted || p.chapters[it.ItemID] {
			continue
		}
		p.chapters[it.ItemID] = true
		p.send(TypeChapter, Chapter{ItemID: it.ItemID, Title: it.Description, Content: it.Content})
	}

	switch {
	case ev.Stage == core.StageFinalAssembler && !p.assembled:
		p.assembled = true
		p.send(TypeReferences, References{Content: core.RenderReferences(st.FinalSources)})
		p.send(TypeSources, Sources{Sources: st.FinalSources})
	case ev.Stage == core.StageSupervisor && ev.Action == core.ActionFail && !p.failed:
		p.failed = true
		p.send(TypeError, Error{Error: st.FinalAnswer})
	}
}

func (p *Projector) progress(phase string, plan []*core.PlanItem, itemID string) {
	for i, it := range plan {
		if it.ItemID == itemID {
			p.send(TypeProgress, Progress{Type: phase, Current: i + 1, Total: len(plan), Description: it.Description})
			return
		}
	}
}

// Fail sends an error event unless the run already reported one.
func (p *Projector) Fail(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed {
		return
	}
	p.failed = true
	p.send(TypeError, Error{Error: msg})
}

// Close sends the terminal event. Later calls do nothing.
func (p *Projector) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.send(TypeEnd, Done)
	})
}

// Err returns the first delivery error.
func (p *Projector) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Projector) send(typ string, data any) {
	if p.err != nil {
		return
	}
	if err := p.sink(Event{Type: typ, Data: data}); err != nil {
		p.err = err
		p.log.Warn("event delivery failed", zap.String("event", typ), zap.Error(err))
	}
}

// Runner is satisfied by *core.Engine.
type Runner interface {
	Run(ctx context.Context, st *core.AgentState, obs core.Observer) error
}

// Run drives st through r and projects every stage onto sink. The terminal
// event is sent on every path, including panics.
func Run(ctx context.Context, r Runner, st *core.AgentState, sink Sink, logger *zap.Logger) error {
	p := NewProjector(sink, logger)
	defer p.Close()
	err := r.Run(ctx, st, p)
	if err != nil {
		p.Fail(err.Error())
	}
	return err
}
