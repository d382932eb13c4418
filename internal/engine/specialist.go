package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"text/template"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/deepresearch/internal/provider"
	"github.com/mohammad-safakhou/deepresearch/internal/registry"
	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
	"github.com/mohammad-safakhou/deepresearch/models"
)

// DefaultMaxSpecialistIterations bounds how many model calls one
// delegated request may spend before the loop gives up.
const DefaultMaxSpecialistIterations = 3

// maxIterationsMessage is the terminal marker when the cap is hit with
// no usable text. Research-finding classification skips it.
const maxIterationsMessage = "max iterations reached without a final answer"

// errPrefix marks recovered specialist failures. They flow back to the
// orchestrator as ordinary tool output, never as process faults.
const errPrefix = "error:"

var specialistTracer trace.Tracer = otel.Tracer("deepresearch/internal/engine/specialist")

// SharedContext is the slice of session state a specialist may see.
type SharedContext struct {
	Topic         string
	OriginalQuery string
	Findings      []string
	DataTools     []string
}

// SpecialistRunner executes one delegated request: a bounded loop that
// alternates model calls and data-tool invocations until the model
// stops requesting tools or the iteration cap is hit.
type SpecialistRunner struct {
	provider      provider.Provider
	registry      *registry.Registry
	maxIterations int
	logger        *log.Logger
	telemetry     *telemetry.Telemetry
}

// NewSpecialistRunner wires a runner. maxIterations <= 0 selects the
// default cap.
func NewSpecialistRunner(p provider.Provider, reg *registry.Registry, maxIterations int, logger *log.Logger, tele *telemetry.Telemetry) *SpecialistRunner {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxSpecialistIterations
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SPECIALIST] ", log.LstdFlags)
	}
	return &SpecialistRunner{
		provider:      p,
		registry:      reg,
		maxIterations: maxIterations,
		logger:        logger,
		telemetry:     tele,
	}
}

// Run resolves the named specialist and drives it to a final text
// answer. Every failure mode is folded into the returned string so one
// bad specialist can never abort the surrounding turn.
func (r *SpecialistRunner) Run(ctx context.Context, name string, input json.RawMessage, shared SharedContext, sink EventSink) string {
	ctx, span := specialistTracer.Start(ctx, "engine.run_specialist",
		trace.WithAttributes(attribute.String("specialist.name", name)))
	defer span.End()

	card, err := r.registry.Agent(name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Sprintf("%s specialist %s could not be resolved: %v", errPrefix, name, err)
	}
	if card.Model == "" {
		msg := fmt.Sprintf("%s specialist %s has no model configured", errPrefix, name)
		span.SetStatus(codes.Error, msg)
		return msg
	}

	history := []models.ChatMessage{{Role: "user", Content: r.renderPrompt(card, input, shared)}}
	tools := r.registry.Definitions(card.Tools)

	lastText := ""
	iterations := 0
	defer func() { r.telemetry.RecordSpecialistRun(iterations) }()

	for i := 0; i < r.maxIterations; i++ {
		iterations++
		text, calls, err := r.invokeModel(ctx, card, history, tools, name, sink)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Sprintf("%s specialist %s model invocation failed: %v", errPrefix, name, err)
		}
		history = append(history, models.ChatMessage{Role: "assistant", Content: text, ToolCalls: calls})
		lastText = text

		if len(calls) == 0 {
			// terminal: a tool-call-free iteration is the final answer
			span.SetAttributes(attribute.Int("specialist.iterations", iterations))
			span.SetStatus(codes.Ok, "completed")
			return text
		}

		for _, call := range calls {
			out, invErr := r.registry.Invoke(ctx, call.Name, call.Arguments)
			r.telemetry.RecordToolInvocation(call.Name, invErr)
			if invErr != nil {
				r.logger.Printf("tool %s failed for %s: %v", call.Name, name, invErr)
				out = errorPayload(invErr)
			}
			sink.Send(Event{Type: EventToolResponse, Agent: name, ToolName: call.Name, Output: out})
			history = append(history, models.ChatMessage{Role: "tool", ToolCallID: call.ID, Content: string(out)})
		}
	}

	span.SetAttributes(attribute.Int("specialist.iterations", iterations))
	span.SetStatus(codes.Ok, "iteration cap reached")
	r.logger.Printf("specialist %s hit the iteration cap (%d)", name, r.maxIterations)
	if strings.TrimSpace(lastText) == "" {
		return maxIterationsMessage
	}
	return lastText
}

// invokeModel streams one model call, forwarding partial text and tool
// requests to the sink as they arrive.
func (r *SpecialistRunner) invokeModel(ctx context.Context, card registry.AgentCard, history []models.ChatMessage, tools []models.ToolDefinition, agent string, sink EventSink) (string, []models.ToolCallRequest, error) {
	req := models.ChatRequest{
		Model:       card.Model,
		Messages:    history,
		Tools:       tools,
		Temperature: card.Temperature,
		MaxTokens:   card.MaxTokens,
	}
	stream, err := r.provider.GenerateStream(ctx, req)
	if err != nil {
		return "", nil, err
	}
	var text strings.Builder
	var calls []models.ToolCallRequest
	for chunk := range stream {
		if chunk.Err != nil {
			return "", nil, chunk.Err
		}
		if chunk.TextDelta != "" {
			text.WriteString(chunk.TextDelta)
			r.telemetry.RecordTextDelta()
			sink.Send(Event{Type: EventStatus, Agent: agent, Message: chunk.TextDelta, IsPartial: true})
		}
		for _, call := range chunk.ToolCalls {
			sink.Send(Event{Type: EventToolRequest, Agent: agent, ToolName: call.Name, Input: call.Arguments})
			calls = append(calls, call)
		}
	}
	return text.String(), calls, nil
}

// renderPrompt fills the card's template; on any failure it falls back
// to a single user message carrying the raw JSON of the input.
func (r *SpecialistRunner) renderPrompt(card registry.AgentCard, input json.RawMessage, shared SharedContext) string {
	data := struct {
		Topic         string
		OriginalQuery string
		Findings      string
		DataTools     string
		Input         string
	}{
		Topic:         shared.Topic,
		OriginalQuery: shared.OriginalQuery,
		Findings:      strings.Join(shared.Findings, "\n\n"),
		DataTools:     strings.Join(shared.DataTools, ", "),
		Input:         string(input),
	}
	tmpl, err := template.New(card.Name).Parse(card.PromptTemplate)
	if err != nil {
		r.logger.Printf("prompt template for %s failed to parse: %v", card.Name, err)
		return string(input)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		r.logger.Printf("prompt template for %s failed to render: %v", card.Name, err)
		return string(input)
	}
	return b.String()
}

// errorPayload shapes a recovered failure as a JSON object so the model
// sees it as ordinary tool output.
func errorPayload(err error) json.RawMessage {
	b, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return json.RawMessage(`{"error":"tool invocation failed"}`)
	}
	return b
}

// usableFinding reports whether a specialist result should be folded
// into accumulated findings: non-empty and neither a recovered error
// nor the iteration-cap marker.
func usableFinding(result string) bool {
	trimmed := strings.TrimSpace(result)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, errPrefix) {
		return false
	}
	return trimmed != maxIterationsMessage
}
