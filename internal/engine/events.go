package engine

import (
	"encoding/json"
	"sync"
)

// EventType discriminates the streamed event union.
type EventType string

const (
	EventStatus              EventType = "status"
	EventClarificationNeeded EventType = "clarification_needed"
	EventInterimFindings     EventType = "interim_findings"
	EventFinalReport         EventType = "final_report"
	EventError               EventType = "error"
	EventToolRequest         EventType = "tool_request"
	EventToolResponse        EventType = "tool_response"
)

// Event is one unit of turn progress pushed to the caller. Only the
// fields relevant to the Type are populated.
type Event struct {
	Type      EventType       `json:"type"`
	Agent     string          `json:"agent,omitempty"`
	Message   string          `json:"message,omitempty"`
	IsPartial bool            `json:"is_partial,omitempty"`
	Question  string          `json:"question,omitempty"`
	Findings  string          `json:"findings,omitempty"`
	Markdown  string          `json:"markdown,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
}

// EventSink receives events in the exact order the underlying
// operations complete. Implementations must not block indefinitely;
// the engine pushes from within the turn's single goroutine.
type EventSink interface {
	Send(Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(Event)

func (f SinkFunc) Send(ev Event) { f(ev) }

// NopSink discards all events.
var NopSink EventSink = SinkFunc(func(Event) {})

// ChannelSink bridges the engine's synchronous event pushes to a
// consumer goroutine. The turn goroutine is the only sender; it must
// call Close once ProcessTurn returns so receivers can range to
// completion.
type ChannelSink struct {
	ch   chan Event
	once sync.Once
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

func (c *ChannelSink) Send(ev Event) { c.ch <- ev }

// Events is the receive side.
func (c *ChannelSink) Events() <-chan Event { return c.ch }

// Close ends the stream. Call only after the producing turn returned.
func (c *ChannelSink) Close() {
	c.once.Do(func() { close(c.ch) })
}

// CollectorSink buffers events for inspection, mainly in tests and the
// one-shot CLI.
type CollectorSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *CollectorSink) Send(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of everything received so far.
func (c *CollectorSink) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}
