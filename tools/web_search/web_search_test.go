package web_search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohammad-safakhou/deepresearch/tools/web_search/models"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search/serper"
)

type stubSearcher struct {
	gotQuery string
	gotK     int
	results  []models.Result
	err      error
}

func (s *stubSearcher) Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]models.Result, error) {
	s.gotQuery = q
	s.gotK = k
	return s.results, s.err
}

func TestNewWebSearcher(t *testing.T) {
	if _, err := NewWebSearcher(SerperProvider, "k"); err != nil {
		t.Fatalf("serper: %v", err)
	}
	if _, err := NewWebSearcher(BraveProvider, "k"); err != nil {
		t.Fatalf("brave: %v", err)
	}
	if _, err := NewWebSearcher("duckduckgo", "k"); err == nil {
		t.Fatal("unknown provider accepted")
	}
}

func TestToolInvokeClampsResults(t *testing.T) {
	stub := &stubSearcher{results: []models.Result{{Title: "t", URL: "u", Snippet: "s"}}}
	tool := Tool{Searcher: stub, MaxResults: 5}

	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"query":"go history","max_results":50}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if stub.gotQuery != "go history" || stub.gotK != 5 {
		t.Fatalf("searcher got q=%q k=%d", stub.gotQuery, stub.gotK)
	}
	var res struct {
		Results []models.Result `json:"results"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].Title != "t" {
		t.Fatalf("results = %+v", res.Results)
	}
}

func TestToolInvokeRequiresQuery(t *testing.T) {
	tool := Tool{Searcher: &stubSearcher{}}
	if _, err := tool.Invoke(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatal("empty query accepted")
	}
}

func TestSerperDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-KEY"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["q"] != "golang" {
			t.Errorf("query = %v", payload["q"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]any{
				{"title": "Go", "link": "https://go.dev", "snippet": "The Go programming language"},
				{"title": "Wiki", "link": "https://en.wikipedia.org/wiki/Go", "snippet": "Go article"},
			},
		})
	}))
	defer srv.Close()

	s := serper.Search{ApiKey: "test-key", Endpoint: srv.URL}
	results, err := s.Discover(context.Background(), "golang", 1, nil, 0)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want clamped to 1", len(results))
	}
	if results[0].URL != "https://go.dev" {
		t.Fatalf("result = %+v", results[0])
	}
}

func TestSerperDiscoverErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	s := serper.Search{ApiKey: "bad", Endpoint: srv.URL}
	if _, err := s.Discover(context.Background(), "golang", 3, nil, 0); err == nil {
		t.Fatal("403 accepted")
	}
}
