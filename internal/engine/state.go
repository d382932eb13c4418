package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrSessionNotFound is returned by session stores when no state exists
// for the requested id.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore is the external persistence collaborator. Save must
// tolerate ids it has never seen (create-on-save).
type SessionStore interface {
	Load(ctx context.Context, id string) (*ResearchState, error)
	Save(ctx context.Context, id string, state *ResearchState) error
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleTool   Role = "tool"
	RoleSystem Role = "system"
)

// ToolRequest is an agent asking the host to execute a named capability.
type ToolRequest struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
	Ref   string          `json:"ref"`
}

// ToolResponse carries a capability's output back, correlated by Ref.
type ToolResponse struct {
	Name   string          `json:"name"`
	Output json.RawMessage `json:"output,omitempty"`
	Ref    string          `json:"ref"`
}

// Part is one element of a message: text, a tool request, or a tool
// response. Exactly one field is set.
type Part struct {
	Text         string        `json:"text,omitempty"`
	ToolRequest  *ToolRequest  `json:"tool_request,omitempty"`
	ToolResponse *ToolResponse `json:"tool_response,omitempty"`
}

// Message is one entry in the conversation transcript.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// ToolRequests returns the message's tool-request parts in order.
func (m Message) ToolRequests() []ToolRequest {
	var out []ToolRequest
	for _, p := range m.Parts {
		if p.ToolRequest != nil {
			out = append(out, *p.ToolRequest)
		}
	}
	return out
}

// ResearchState is the persisted conversation state of one session. It
// is exclusively owned by the single in-flight turn that loaded it; all
// mutation goes through methods so the invariants stay in one place.
type ResearchState struct {
	SessionID            string    `json:"session_id"`
	Iteration            int       `json:"iteration"`
	OriginalQuery        string    `json:"original_query"`
	CurrentResearchTopic string    `json:"current_research_topic"`
	ConversationHistory  []Message `json:"conversation_history"`
	AccumulatedFindings  []string  `json:"accumulated_findings,omitempty"`
	ClarificationRounds  int       `json:"clarification_rounds"`
	NeedsClarification   bool      `json:"needs_clarification"`
	StatusMessage        string    `json:"status_message,omitempty"`
	FinalReportMarkdown  string    `json:"final_report_markdown,omitempty"`
	OrchestratorModelID  string    `json:"orchestrator_model_id"`
	AvailableDataTools   []string  `json:"available_data_tools,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// NewResearchState creates the state for a fresh session. The original
// query is immutable afterwards and doubles as the initial research
// topic and the first user message.
func NewResearchState(sessionID, query, modelID string, dataTools []string) *ResearchState {
	now := time.Now().UTC()
	st := &ResearchState{
		SessionID:            sessionID,
		OriginalQuery:        query,
		CurrentResearchTopic: query,
		OrchestratorModelID:  modelID,
		AvailableDataTools:   append([]string(nil), dataTools...),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	st.AppendMessage(Message{Role: RoleUser, Parts: []Part{{Text: query}}})
	return st
}

// AdvanceIteration marks the start of a new orchestrator cycle.
func (s *ResearchState) AdvanceIteration() int {
	s.Iteration++
	s.touch()
	return s.Iteration
}

// AppendMessage appends to the transcript. History only ever grows.
func (s *ResearchState) AppendMessage(msg Message) {
	s.ConversationHistory = append(s.ConversationHistory, msg)
	s.touch()
}

// AppendUserMessage appends a plain-text user message.
func (s *ResearchState) AppendUserMessage(text string) {
	s.AppendMessage(Message{Role: RoleUser, Parts: []Part{{Text: text}}})
}

// AppendFinding records a research specialist's raw output.
func (s *ResearchState) AppendFinding(text string) {
	s.AccumulatedFindings = append(s.AccumulatedFindings, text)
	s.touch()
}

// MarkClarification flags the session as waiting on the user and
// records the question as the last status message.
func (s *ResearchState) MarkClarification(question string) {
	s.NeedsClarification = true
	s.ClarificationRounds++
	s.StatusMessage = question
	s.touch()
}

// AnswerClarification folds the user's clarifying answer into the
// transcript, refines the research topic, and clears the flag.
func (s *ResearchState) AnswerClarification(answer string) {
	s.AppendUserMessage(answer)
	s.NeedsClarification = false
	if trimmed := strings.TrimSpace(answer); trimmed != "" {
		s.CurrentResearchTopic = s.OriginalQuery + " — " + trimmed
	}
	s.touch()
}

// RefocusQuery starts a new line of inquiry on an existing session.
// The transcript is preserved; only the working topic changes.
func (s *ResearchState) RefocusQuery(query string) {
	s.AppendUserMessage(query)
	s.CurrentResearchTopic = query
	s.touch()
}

// SetFinalReport records the terminal report for this session.
func (s *ResearchState) SetFinalReport(markdown string) {
	s.FinalReportMarkdown = markdown
	s.touch()
}

// SetStatus records a human-readable progress note.
func (s *ResearchState) SetStatus(msg string) {
	s.StatusMessage = msg
	s.touch()
}

// FindingsText joins accumulated findings for prompt rendering.
func (s *ResearchState) FindingsText() string {
	return strings.Join(s.AccumulatedFindings, "\n\n")
}

func (s *ResearchState) touch() { s.UpdatedAt = time.Now().UTC() }
