package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/deepresearch/internal/provider"
	"github.com/mohammad-safakhou/deepresearch/internal/registry"
	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
	"github.com/mohammad-safakhou/deepresearch/models"
)

// NextAction tells the caller how the session proceeds after a turn.
type NextAction string

const (
	NextActionProcessing        NextAction = "processing"
	NextActionAwaitingUser      NextAction = "awaiting_user_clarification"
	NextActionReportReady       NextAction = "report_ready"
	NextActionError             NextAction = "error"
	NextActionCompletedNoReport NextAction = "completed_no_report"
)

var turnTracer trace.Tracer = otel.Tracer("deepresearch/internal/engine")

// TurnInput is the request for one orchestrator decision cycle. At
// least one of SessionID and UserQuery must be set.
type TurnInput struct {
	SessionID                   string   `json:"session_id,omitempty"`
	UserQuery                   string   `json:"user_query,omitempty"`
	UserResponseToClarification string   `json:"user_response_to_clarification,omitempty"`
	OrchestratorModelID         string   `json:"orchestrator_model_id,omitempty"`
	DataToolsForResearch        []string `json:"data_tools_for_research,omitempty"`
}

// TurnResult is the terminal object of one turn.
type TurnResult struct {
	SessionID           string     `json:"session_id"`
	NextAction          NextAction `json:"next_action"`
	OutputForUI         *Event     `json:"output_for_ui,omitempty"`
	FinalReportMarkdown string     `json:"final_report_markdown,omitempty"`
	Error               string     `json:"error,omitempty"`
}

// Config tunes the engine.
type Config struct {
	// DefaultModel routes the orchestrator when neither the session nor
	// the request names one.
	DefaultModel string
	// DefaultDataTools seeds the data-tool allowlist of new sessions.
	DefaultDataTools []string
	// MaxSpecialistIterations bounds each delegated specialist run.
	MaxSpecialistIterations int
}

// Engine executes exactly one orchestrator decision cycle per call. It
// owns the loaded ResearchState for the duration of that call only;
// cross-turn races on the same session id are last-writer-wins.
type Engine struct {
	cfg         Config
	provider    provider.Provider
	registry    *registry.Registry
	store       SessionStore
	specialists *SpecialistRunner
	logger      *log.Logger
	telemetry   *telemetry.Telemetry
}

// New wires an engine from its collaborators.
func New(cfg Config, p provider.Provider, reg *registry.Registry, store SessionStore, logger *log.Logger, tele *telemetry.Telemetry) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[TURN] ", log.LstdFlags)
	}
	return &Engine{
		cfg:         cfg,
		provider:    p,
		registry:    reg,
		store:       store,
		specialists: NewSpecialistRunner(p, reg, cfg.MaxSpecialistIterations, logger, tele),
		logger:      logger,
		telemetry:   tele,
	}
}

// ProcessTurn advances one session by exactly one orchestrator decision
// cycle: resolve state, call the orchestrator once, resolve any
// delegations, persist, and report the next action. Fatal failures
// surface as a single error event plus NextActionError; specialist and
// tool failures are folded into the transcript and never abort a turn.
func (e *Engine) ProcessTurn(ctx context.Context, in TurnInput, sink EventSink) TurnResult {
	start := time.Now()
	ctx, span := turnTracer.Start(ctx, "engine.process_turn",
		trace.WithAttributes(attribute.String("session.id", in.SessionID)))
	defer span.End()

	if sink == nil {
		sink = NopSink
	}
	if in.SessionID == "" && strings.TrimSpace(in.UserQuery) == "" {
		// no store write happens on invalid input
		return e.fatal(span, sink, start, "", "either a session id or a user query is required")
	}

	st, result := e.resolveState(ctx, in, sink)
	if result != nil {
		span.SetStatus(codes.Error, result.Error)
		e.telemetry.RecordTurn(string(NextActionError), time.Since(start))
		return *result
	}
	if in.OrchestratorModelID != "" {
		st.OrchestratorModelID = in.OrchestratorModelID
	}
	if len(in.DataToolsForResearch) > 0 {
		st.AvailableDataTools = append([]string(nil), in.DataToolsForResearch...)
	}

	st.AdvanceIteration()
	span.SetAttributes(
		attribute.String("session.id", st.SessionID),
		attribute.Int("session.iteration", st.Iteration),
	)
	e.logger.Printf("session %s iteration %d", st.SessionID, st.Iteration)

	card, err := e.registry.Agent(registry.OrchestratorAgent)
	if err != nil {
		return e.fatal(span, sink, start, st.SessionID, fmt.Sprintf("orchestrator could not be resolved: %v", err))
	}
	model := st.OrchestratorModelID
	if model == "" {
		model = card.Model
	}
	if model == "" {
		model = e.cfg.DefaultModel
	}

	text, calls, err := e.invokeOrchestrator(ctx, card, model, st, sink)
	if err != nil {
		return e.fatal(span, sink, start, st.SessionID, fmt.Sprintf("orchestrator invocation failed: %v", err))
	}

	// persist the orchestrator output before resolving delegations
	st.AppendMessage(modelMessage(text, calls))
	if err := e.store.Save(ctx, st.SessionID, st); err != nil {
		return e.fatal(span, sink, start, st.SessionID, fmt.Sprintf("session save failed: %v", err))
	}
	if strings.TrimSpace(text) == "" && len(calls) == 0 {
		sink.Send(Event{Type: EventStatus, Agent: registry.OrchestratorAgent, Message: "orchestrator produced an empty turn"})
	}

	var res TurnResult
	if len(calls) == 0 {
		res = e.finishDirect(ctx, st, text, sink)
	} else {
		res = e.runDelegations(ctx, st, calls, sink)
	}
	span.SetAttributes(attribute.String("turn.next_action", string(res.NextAction)))
	if res.Error != "" {
		span.SetStatus(codes.Error, res.Error)
	} else {
		span.SetStatus(codes.Ok, "completed")
	}
	e.telemetry.RecordTurn(string(res.NextAction), time.Since(start))
	e.logger.Printf("session %s turn done in %v: %s", st.SessionID, time.Since(start), res.NextAction)
	return res
}

// resolveState loads or creates the session state for this turn. A nil
// state with a non-nil result means the turn failed before any write.
func (e *Engine) resolveState(ctx context.Context, in TurnInput, sink EventSink) (*ResearchState, *TurnResult) {
	if in.SessionID == "" {
		return e.freshState(in), nil
	}
	st, err := e.store.Load(ctx, in.SessionID)
	if err != nil || st == nil {
		if strings.TrimSpace(in.UserQuery) == "" {
			res := TurnResult{
				SessionID:  in.SessionID,
				NextAction: NextActionError,
				Error:      fmt.Sprintf("session %s could not be restored and no query was given to start over", in.SessionID),
			}
			sink.Send(Event{Type: EventError, Message: res.Error})
			return nil, &res
		}
		st = e.freshState(in)
		sink.Send(Event{Type: EventStatus, Message: "previous session could not be restored; starting a fresh one"})
		e.logger.Printf("session %s load failed (%v); recreating from query", in.SessionID, err)
		return st, nil
	}
	switch {
	case in.UserResponseToClarification != "":
		st.AnswerClarification(in.UserResponseToClarification)
		sink.Send(Event{Type: EventStatus, Message: "clarification received; resuming research"})
	case strings.TrimSpace(in.UserQuery) != "":
		// continuation with a new query on an existing session
		st.RefocusQuery(in.UserQuery)
		sink.Send(Event{Type: EventStatus, Message: "refocusing research on the new query"})
	}
	return st, nil
}

func (e *Engine) freshState(in TurnInput) *ResearchState {
	id := in.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	model := in.OrchestratorModelID
	if model == "" {
		model = e.cfg.DefaultModel
	}
	tools := in.DataToolsForResearch
	if len(tools) == 0 {
		tools = e.cfg.DefaultDataTools
	}
	return NewResearchState(id, in.UserQuery, model, tools)
}

// invokeOrchestrator renders the orchestrator input, runs one streamed
// model call, and returns the accumulated text and tool-call requests
// in arrival order. Every delta is forwarded to the sink immediately.
func (e *Engine) invokeOrchestrator(ctx context.Context, card registry.AgentCard, model string, st *ResearchState, sink EventSink) (string, []models.ToolCallRequest, error) {
	msgs := e.renderOrchestratorMessages(card, st)
	req := models.ChatRequest{
		Model:       model,
		Messages:    msgs,
		Tools:       e.registry.Definitions(card.Tools),
		Temperature: card.Temperature,
	}
	if req.Temperature == 0 {
		req.Temperature = 0.5
	}
	stream, err := e.provider.GenerateStream(ctx, req)
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
			e.telemetry.RecordTextDelta()
			sink.Send(Event{Type: EventStatus, Agent: registry.OrchestratorAgent, Message: chunk.TextDelta, IsPartial: true})
		}
		for _, call := range chunk.ToolCalls {
			if call.ID == "" {
				call.ID = "call_" + uuid.NewString()
			}
			sink.Send(Event{Type: EventToolRequest, Agent: registry.OrchestratorAgent, ToolName: call.Name, Input: call.Arguments})
			calls = append(calls, call)
		}
	}
	return text.String(), calls, nil
}

// renderOrchestratorMessages builds the orchestrator's input: an
// optional system persona, the full transcript, then a fresh prompt
// summarizing topic, query, and available data tools. Render failures
// fall back to a minimal message rather than aborting the turn.
func (e *Engine) renderOrchestratorMessages(card registry.AgentCard, st *ResearchState) []models.ChatMessage {
	var msgs []models.ChatMessage
	if card.Description != "" {
		msgs = append(msgs, models.ChatMessage{Role: "system", Content: card.Description})
	}
	msgs = append(msgs, toChatMessages(st.ConversationHistory)...)

	data := struct {
		Topic         string
		OriginalQuery string
		DataTools     string
	}{st.CurrentResearchTopic, st.OriginalQuery, strings.Join(st.AvailableDataTools, ", ")}
	prompt := fmt.Sprintf("Research topic: %s\nOriginal query: %s", st.CurrentResearchTopic, st.OriginalQuery)
	if tmpl, err := template.New(card.Name).Parse(card.PromptTemplate); err != nil {
		e.logger.Printf("orchestrator prompt parse failed: %v", err)
	} else {
		var b strings.Builder
		if err := tmpl.Execute(&b, data); err != nil {
			e.logger.Printf("orchestrator prompt render failed: %v", err)
		} else {
			prompt = b.String()
		}
	}
	return append(msgs, models.ChatMessage{Role: "user", Content: prompt})
}

// finishDirect handles a turn whose orchestrator requested no tools:
// non-empty text is the final answer.
func (e *Engine) finishDirect(ctx context.Context, st *ResearchState, text string, sink EventSink) TurnResult {
	final := strings.TrimSpace(text)
	if final == "" {
		return TurnResult{SessionID: st.SessionID, NextAction: NextActionCompletedNoReport}
	}
	st.SetFinalReport(final)
	ev := Event{Type: EventFinalReport, Agent: registry.OrchestratorAgent, Markdown: final}
	sink.Send(ev)
	if err := e.store.Save(ctx, st.SessionID, st); err != nil {
		return e.saveFailed(st.SessionID, sink, err)
	}
	return TurnResult{
		SessionID:           st.SessionID,
		NextAction:          NextActionReportReady,
		OutputForUI:         &ev,
		FinalReportMarkdown: final,
	}
}

// runDelegations resolves each orchestrator tool-call request through
// the specialist sub-loop, sequentially and in request order, then
// appends the merged tool message and persists.
func (e *Engine) runDelegations(ctx context.Context, st *ResearchState, calls []models.ToolCallRequest, sink EventSink) TurnResult {
	shared := SharedContext{
		Topic:         st.CurrentResearchTopic,
		OriginalQuery: st.OriginalQuery,
		Findings:      st.AccumulatedFindings,
		DataTools:     st.AvailableDataTools,
	}
	var uiEvent *Event
	responses := make([]Part, 0, len(calls))
	for _, call := range calls {
		result := e.specialists.Run(ctx, call.Name, call.Arguments, shared, sink)
		output, _ := json.Marshal(result)
		responses = append(responses, Part{ToolResponse: &ToolResponse{Name: call.Name, Output: output, Ref: call.ID}})
		sink.Send(Event{Type: EventToolResponse, Agent: registry.OrchestratorAgent, ToolName: call.Name, Output: output})

		lower := strings.ToLower(call.Name)
		if strings.Contains(lower, "clarification") {
			st.MarkClarification(result)
			ev := Event{Type: EventClarificationNeeded, Agent: call.Name, Question: result}
			sink.Send(ev)
			uiEvent = &ev
		}
		if call.Name == registry.ReportWriterAgent {
			st.SetFinalReport(result)
			ev := Event{Type: EventFinalReport, Agent: call.Name, Markdown: result}
			sink.Send(ev)
			uiEvent = &ev
		}
		if strings.Contains(lower, "research") && usableFinding(result) {
			st.AppendFinding(result)
			shared.Findings = st.AccumulatedFindings
			sink.Send(Event{Type: EventInterimFindings, Agent: call.Name, Findings: result})
		}
	}
	// one merged tool message, response order matching request order.
	// A reported next action must reflect persisted state, so this save
	// is as fatal as the one before delegations.
	st.AppendMessage(Message{Role: RoleTool, Parts: responses})
	if err := e.store.Save(ctx, st.SessionID, st); err != nil {
		return e.saveFailed(st.SessionID, sink, err)
	}

	res := TurnResult{SessionID: st.SessionID, OutputForUI: uiEvent}
	switch {
	case st.NeedsClarification:
		res.NextAction = NextActionAwaitingUser
	case st.FinalReportMarkdown != "":
		res.NextAction = NextActionReportReady
		res.FinalReportMarkdown = st.FinalReportMarkdown
	default:
		res.NextAction = NextActionProcessing
	}
	return res
}

// saveFailed is the terminal path for persistence failures after the
// orchestrator already ran.
func (e *Engine) saveFailed(sessionID string, sink EventSink, err error) TurnResult {
	msg := fmt.Sprintf("session save failed: %v", err)
	e.logger.Printf("session %s %s", sessionID, msg)
	sink.Send(Event{Type: EventError, Message: msg})
	return TurnResult{SessionID: sessionID, NextAction: NextActionError, Error: msg}
}

// fatal emits a single error event and the terminal error result.
func (e *Engine) fatal(span trace.Span, sink EventSink, start time.Time, sessionID, msg string) TurnResult {
	span.SetStatus(codes.Error, msg)
	e.logger.Printf("turn failed: %s", msg)
	sink.Send(Event{Type: EventError, Message: msg})
	e.telemetry.RecordTurn(string(NextActionError), time.Since(start))
	return TurnResult{SessionID: sessionID, NextAction: NextActionError, Error: msg}
}

// modelMessage assembles the orchestrator's transcript entry from its
// accumulated text and tool-call parts.
func modelMessage(text string, calls []models.ToolCallRequest) Message {
	var parts []Part
	if text != "" {
		parts = append(parts, Part{Text: text})
	}
	for _, call := range calls {
		parts = append(parts, Part{ToolRequest: &ToolRequest{Name: call.Name, Input: call.Arguments, Ref: call.ID}})
	}
	return Message{Role: RoleModel, Parts: parts}
}

// toChatMessages maps the persisted transcript onto the provider wire
// shape: model messages become assistant turns with tool calls, tool
// messages fan out into one tool result per response part.
func toChatMessages(history []Message) []models.ChatMessage {
	var out []models.ChatMessage
	for _, msg := range history {
		switch msg.Role {
		case RoleModel:
			cm := models.ChatMessage{Role: "assistant", Content: msg.Text()}
			for _, req := range msg.ToolRequests() {
				cm.ToolCalls = append(cm.ToolCalls, models.ToolCallRequest{ID: req.Ref, Name: req.Name, Arguments: req.Input})
			}
			out = append(out, cm)
		case RoleTool:
			for _, p := range msg.Parts {
				if p.ToolResponse == nil {
					continue
				}
				out = append(out, models.ChatMessage{
					Role:       "tool",
					ToolCallID: p.ToolResponse.Ref,
					Content:    string(p.ToolResponse.Output),
				})
			}
		case RoleSystem:
			out = append(out, models.ChatMessage{Role: "system", Content: msg.Text()})
		default:
			out = append(out, models.ChatMessage{Role: "user", Content: msg.Text()})
		}
	}
	return out
}
