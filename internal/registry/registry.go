package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/deepresearch/models"
)

var tracer trace.Tracer = otel.Tracer("deepresearch/internal/registry")

// NotFoundError reports a name that resolved to nothing.
type NotFoundError struct {
	Kind string // "agent" or "tool"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not registered: %s", e.Kind, e.Name)
}

// AgentCard is the registry entry for a specialist agent: its prompt
// template, model routing, and the data tools it may call.
type AgentCard struct {
	Name           string
	Description    string
	Model          string
	PromptTemplate string
	Tools          []string
	Temperature    float64
	MaxTokens      int
}

// DataTool is a named, independently invocable capability with a
// JSON-in/JSON-out contract. Invoke may return an error value but must
// never panic the process.
type DataTool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// ToolFunc adapts a function to the DataTool interface.
type ToolFunc struct {
	ToolName        string
	ToolDescription string
	Fn              func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

func (t ToolFunc) Name() string        { return t.ToolName }
func (t ToolFunc) Description() string { return t.ToolDescription }
func (t ToolFunc) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	return t.Fn(ctx, input)
}

// Registry maps names to agent cards and data tools. Lookups return a
// typed NotFoundError instead of zero values so callers can branch on
// resolution failures explicitly.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]AgentCard
	tools  map[string]DataTool
}

func New() *Registry {
	return &Registry{
		agents: make(map[string]AgentCard),
		tools:  make(map[string]DataTool),
	}
}

// RegisterAgent adds or replaces an agent card.
func (r *Registry) RegisterAgent(card AgentCard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[card.Name] = card
}

// RegisterTool adds or replaces a data tool.
func (r *Registry) RegisterTool(t DataTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Agent resolves an agent card by name.
func (r *Registry) Agent(name string) (AgentCard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	card, ok := r.agents[name]
	if !ok {
		return AgentCard{}, &NotFoundError{Kind: "agent", Name: name}
	}
	return card, nil
}

// Invoke runs the named data tool.
func (r *Registry) Invoke(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Kind: "tool", Name: name}
	}
	ctx, span := tracer.Start(ctx, "registry.invoke_tool",
		trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()
	out, err := tool.Invoke(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "completed")
	return out, nil
}

// Definitions builds provider tool declarations for the given names,
// resolving agents first and data tools second. Unknown names are
// skipped; the caller decides whether missing entries matter.
func (r *Registry) Definitions(names []string) []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []models.ToolDefinition
	for _, name := range names {
		if card, ok := r.agents[name]; ok {
			defs = append(defs, models.ToolDefinition{
				Name:        card.Name,
				Description: card.Description,
				Parameters:  genericObjectSchema(),
			})
			continue
		}
		if tool, ok := r.tools[name]; ok {
			defs = append(defs, models.ToolDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  genericObjectSchema(),
			})
		}
	}
	return defs
}

// ToolNames lists all registered data tools.
func (r *Registry) ToolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

func genericObjectSchema() map[string]interface{} {
	return map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
	}
}
