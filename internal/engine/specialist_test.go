package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/deepresearch/internal/registry"
)

func newTestRunner(prov *scriptedProvider, reg *registry.Registry) *SpecialistRunner {
	if reg == nil {
		reg = testRegistry()
	}
	return NewSpecialistRunner(prov, reg, 0, testLogger(), nil)
}

func TestSpecialistUnknownName(t *testing.T) {
	prov := &scriptedProvider{}
	r := newTestRunner(prov, nil)

	out := r.Run(context.Background(), "no_such_agent", nil, SharedContext{}, NopSink)

	if !strings.HasPrefix(out, "error:") {
		t.Fatalf("output = %q, want error prefix", out)
	}
	if prov.calls() != 0 {
		t.Fatalf("provider called %d times for unknown specialist", prov.calls())
	}
}

func TestSpecialistMissingModel(t *testing.T) {
	reg := registry.New()
	reg.RegisterAgent(registry.AgentCard{Name: "bare", PromptTemplate: "x"})
	r := newTestRunner(&scriptedProvider{}, reg)

	out := r.Run(context.Background(), "bare", nil, SharedContext{}, NopSink)

	if !strings.Contains(out, "no model configured") {
		t.Fatalf("output = %q", out)
	}
}

func TestSpecialistTerminatesOnPlainText(t *testing.T) {
	prov := &scriptedProvider{turns: []providerTurn{textTurn("the answer")}}
	r := newTestRunner(prov, nil)

	out := r.Run(context.Background(), registry.ResearchAgent, json.RawMessage(`{}`), SharedContext{}, NopSink)

	if out != "the answer" {
		t.Fatalf("output = %q", out)
	}
	if prov.calls() != 1 {
		t.Fatalf("provider calls = %d, want 1", prov.calls())
	}
}

func TestSpecialistIterationCap(t *testing.T) {
	reg := testRegistry()
	reg.RegisterTool(registry.ToolFunc{
		ToolName:        "lookup",
		ToolDescription: "test lookup",
		Fn: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		},
	})
	// the model keeps asking for tools and never settles
	prov := &scriptedProvider{turns: []providerTurn{
		callTurn("lookup", "t1", `{}`),
		callTurn("lookup", "t2", `{}`),
		callTurn("lookup", "t3", `{}`),
		callTurn("lookup", "t4", `{}`),
	}}
	r := newTestRunner(prov, reg)

	out := r.Run(context.Background(), registry.ResearchAgent, json.RawMessage(`{}`), SharedContext{}, NopSink)

	if out != maxIterationsMessage {
		t.Fatalf("output = %q, want cap marker", out)
	}
	if prov.calls() != DefaultMaxSpecialistIterations {
		t.Fatalf("provider calls = %d, want %d", prov.calls(), DefaultMaxSpecialistIterations)
	}
}

func TestSpecialistCapKeepsLastText(t *testing.T) {
	reg := testRegistry()
	reg.RegisterTool(registry.ToolFunc{
		ToolName:        "lookup",
		ToolDescription: "test lookup",
		Fn: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		},
	})
	withText := providerTurn{chunks: append(textTurn("partial notes").chunks, callTurn("lookup", "t3", `{}`).chunks...)}
	prov := &scriptedProvider{turns: []providerTurn{
		callTurn("lookup", "t1", `{}`),
		callTurn("lookup", "t2", `{}`),
		withText,
	}}
	r := newTestRunner(prov, reg)

	out := r.Run(context.Background(), registry.ResearchAgent, json.RawMessage(`{}`), SharedContext{}, NopSink)

	if out != "partial notes" {
		t.Fatalf("output = %q, want the last accumulated text", out)
	}
}

func TestSpecialistToolErrorFoldedIntoHistory(t *testing.T) {
	reg := testRegistry()
	reg.RegisterTool(registry.ToolFunc{
		ToolName:        "lookup",
		ToolDescription: "test lookup",
		Fn: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("rate limited")
		},
	})
	prov := &scriptedProvider{turns: []providerTurn{
		callTurn("lookup", "t1", `{}`),
		textTurn("could not verify, sources unavailable"),
	}}
	r := newTestRunner(prov, reg)

	out := r.Run(context.Background(), registry.ResearchAgent, json.RawMessage(`{}`), SharedContext{}, NopSink)

	if out != "could not verify, sources unavailable" {
		t.Fatalf("output = %q", out)
	}
	prov.mu.Lock()
	defer prov.mu.Unlock()
	second := prov.reqs[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "t1" || !strings.Contains(last.Content, "rate limited") {
		t.Fatalf("tool failure not folded into history: %+v", last)
	}
}

func TestSpecialistPromptFallsBackToRawInput(t *testing.T) {
	reg := registry.New()
	reg.RegisterAgent(registry.AgentCard{
		Name:           "broken",
		Model:          "test-model",
		PromptTemplate: "{{.Nope",
	})
	prov := &scriptedProvider{turns: []providerTurn{textTurn("ok")}}
	r := newTestRunner(prov, reg)

	input := json.RawMessage(`{"focus":"x"}`)
	r.Run(context.Background(), "broken", input, SharedContext{}, NopSink)

	prov.mu.Lock()
	defer prov.mu.Unlock()
	if got := prov.reqs[0].Messages[0].Content; got != string(input) {
		t.Fatalf("prompt = %q, want raw input", got)
	}
}

func TestUsableFinding(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"a real finding", true},
		{"", false},
		{"   ", false},
		{"error: tool blew up", false},
		{maxIterationsMessage, false},
		{"  error: padded  ", false},
	}
	for _, tc := range cases {
		if got := usableFinding(tc.in); got != tc.want {
			t.Errorf("usableFinding(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
