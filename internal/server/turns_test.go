package server

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/deepresearch/internal/engine"
	"github.com/mohammad-safakhou/deepresearch/internal/registry"
	"github.com/mohammad-safakhou/deepresearch/internal/session/inmemory"
	"github.com/mohammad-safakhou/deepresearch/models"
)

// fixedProvider answers every call with the same text.
type fixedProvider struct {
	text string
}

func (p fixedProvider) GenerateStream(ctx context.Context, req models.ChatRequest) (<-chan models.StreamChunk, error) {
	ch := make(chan models.StreamChunk, 1)
	ch <- models.StreamChunk{TextDelta: p.text}
	close(ch)
	return ch, nil
}

func newTestTurnHandler(text string) *TurnHandler {
	reg := registry.New()
	routing := registry.Routing{Orchestrator: "m", Research: "m", Report: "m", Clarification: "m"}
	for _, card := range registry.DefaultAgentCards(routing, nil) {
		reg.RegisterAgent(card)
	}
	eng := engine.New(engine.Config{DefaultModel: "m"}, fixedProvider{text: text}, reg, inmemory.New(),
		log.New(io.Discard, "", 0), nil)
	return &TurnHandler{Engine: eng, Logger: log.New(io.Discard, "", 0)}
}

func TestTurnEndpointStreamsSSE(t *testing.T) {
	e := echo.New()
	h := newTestTurnHandler("# Report\n\ndone")
	h.Register(e.Group("/api/research"))

	req := httptest.NewRequest(http.MethodPost, "/api/research/turn",
		strings.NewReader(`{"user_query":"anything"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: final_report\n") {
		t.Fatalf("no final_report frame in:\n%s", body)
	}
	if !strings.Contains(body, "event: done\n") {
		t.Fatalf("no terminal done frame in:\n%s", body)
	}
	if !strings.Contains(body, `"next_action":"report_ready"`) {
		t.Fatalf("done frame lacks next action:\n%s", body)
	}
	// partial status deltas stream before the report
	if strings.Index(body, "event: status") > strings.Index(body, "event: final_report") {
		t.Fatal("status frames did not precede the report")
	}
}

func TestTurnEndpointInvalidInputStreamsError(t *testing.T) {
	e := echo.New()
	h := newTestTurnHandler("whatever")
	h.Register(e.Group("/api/research"))

	req := httptest.NewRequest(http.MethodPost, "/api/research/turn", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	// contract errors surface inside the stream, not as HTTP failures
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: error\n") {
		t.Fatalf("no error frame in:\n%s", body)
	}
	if !strings.Contains(body, `"next_action":"error"`) {
		t.Fatalf("done frame lacks error action:\n%s", body)
	}
}

func TestTurnEndpointRejectsMalformedBody(t *testing.T) {
	e := echo.New()
	h := newTestTurnHandler("whatever")
	h.Register(e.Group("/api/research"))

	req := httptest.NewRequest(http.MethodPost, "/api/research/turn", strings.NewReader(`{not json`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
