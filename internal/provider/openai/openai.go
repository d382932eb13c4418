package openai_provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepresearch/models"
)

const defaultAPIURL = "https://api.openai.com/v1"

// client implements streaming chat completions against OpenAI's API.
type client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new OpenAI client. timeout bounds the whole
// stream; zero means no client-side limit (the caller's context still
// applies).
func NewClient(apiKey, baseURL string, timeout time.Duration) *client {
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	return &client{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// wire types for the chat completions endpoint

type wireToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description,omitempty"`
		Parameters  map[string]interface{} `json:"parameters,omitempty"`
	} `json:"function"`
}

type request struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type streamDelta struct {
	Content   string `json:"content"`
	ToolCalls []struct {
		Index    int    `json:"index"`
		ID       string `json:"id"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

type streamEvent struct {
	Choices []struct {
		Delta        streamDelta `json:"delta"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// GenerateStream sends a streaming chat completion request. Text deltas
// are forwarded as they arrive; tool calls are assembled from their
// argument fragments and flushed once complete.
func (c *client) GenerateStream(ctx context.Context, req models.ChatRequest) (<-chan models.StreamChunk, error) {
	payload := request{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, toWireMessage(m))
	}
	for _, t := range req.Tools {
		wt := wireTool{Type: "function"}
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		payload.Tools = append(payload.Tools, wt)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	out := make(chan models.StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		c.consume(resp.Body, out)
	}()
	return out, nil
}

// pendingCall accumulates a tool call streamed as argument fragments.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func (c *client) consume(body io.Reader, out chan<- models.StreamChunk) {
	pending := map[int]*pendingCall{}
	flush := func() {
		if len(pending) == 0 {
			return
		}
		indexes := make([]int, 0, len(pending))
		for i := range pending {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		var calls []models.ToolCallRequest
		for _, i := range indexes {
			p := pending[i]
			args := p.args.String()
			if args == "" {
				args = "{}"
			}
			calls = append(calls, models.ToolCallRequest{ID: p.id, Name: p.name, Arguments: json.RawMessage(args)})
		}
		pending = map[int]*pendingCall{}
		out <- models.StreamChunk{ToolCalls: calls}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			out <- models.StreamChunk{Err: fmt.Errorf("failed to parse stream event: %w", err)}
			return
		}
		for _, choice := range ev.Choices {
			if choice.Delta.Content != "" {
				out <- models.StreamChunk{TextDelta: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				p, ok := pending[tc.Index]
				if !ok {
					p = &pendingCall{}
					pending[tc.Index] = p
				}
				if tc.ID != "" {
					p.id = tc.ID
				}
				if tc.Function.Name != "" {
					p.name = tc.Function.Name
				}
				p.args.WriteString(tc.Function.Arguments)
			}
			if choice.FinishReason != "" {
				flush()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		out <- models.StreamChunk{Err: fmt.Errorf("stream read failed: %w", err)}
		return
	}
	// some backends end the stream without a finish_reason
	flush()
}

func toWireMessage(m models.ChatMessage) wireMessage {
	wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
	for _, tc := range m.ToolCalls {
		wtc := wireToolCall{ID: tc.ID, Type: "function"}
		wtc.Function.Name = tc.Name
		wtc.Function.Arguments = string(tc.Arguments)
		wm.ToolCalls = append(wm.ToolCalls, wtc)
	}
	return wm
}
