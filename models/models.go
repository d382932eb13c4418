package models

import "encoding/json"

// ChatMessage is one provider-facing conversation message.
type ChatMessage struct {
	Role       string            `json:"role"`
	Content    string            `json:"content,omitempty"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// ToolDefinition declares a callable capability to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ToolCallRequest is the model asking the host to invoke a tool. ID is
// the correlation ref echoed back in the matching tool response.
type ToolCallRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ChatRequest is one generation request against a model.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
}

// StreamChunk is one streamed unit of a generation: zero or more text
// deltas plus zero or more fully assembled tool-call requests. A chunk
// with Err set terminates the stream.
type StreamChunk struct {
	TextDelta string
	ToolCalls []ToolCallRequest
	Err       error
}
