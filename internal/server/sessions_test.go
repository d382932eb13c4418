package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/deepresearch/internal/engine"
	"github.com/mohammad-safakhou/deepresearch/internal/session/inmemory"
)

func TestSessionEndpoint(t *testing.T) {
	store := inmemory.New()
	st := engine.NewResearchState("s1", "history of Go", "m", []string{"web_search"})
	st.AdvanceIteration()
	st.AppendFinding("Go was announced in 2009")
	st.SetFinalReport("# Go\n\nreport")
	if err := store.Save(context.Background(), "s1", st); err != nil {
		t.Fatalf("save: %v", err)
	}

	e := echo.New()
	(&SessionHandler{Store: store}).Register(e.Group("/api/research"))

	req := httptest.NewRequest(http.MethodGet, "/api/research/sessions/s1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got SessionSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SessionID != "s1" || got.Iteration != 1 || got.FindingCount != 1 || !got.HasFinalReport {
		t.Fatalf("summary = %+v", got)
	}
}

func TestSessionEndpointNotFound(t *testing.T) {
	e := echo.New()
	(&SessionHandler{Store: inmemory.New()}).Register(e.Group("/api/research"))

	req := httptest.NewRequest(http.MethodGet, "/api/research/sessions/ghost", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
