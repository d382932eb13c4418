package web_search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/deepresearch/tools/web_search/brave"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search/models"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search/serper"
)

// WebSearcher discovers pages for a query.
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

func NewWebSearcher(provider Provider, apiKey string) (WebSearcher, error) {
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: apiKey}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

// Tool exposes a WebSearcher as a registry data tool.
type Tool struct {
	Searcher   WebSearcher
	MaxResults int
}

type toolInput struct {
	Query       string   `json:"query"`
	MaxResults  int      `json:"max_results,omitempty"`
	Sites       []string `json:"sites,omitempty"`
	RecencyDays int      `json:"recency_days,omitempty"`
}

func (t Tool) Name() string { return "web_search" }

func (t Tool) Description() string {
	return "Searches the web; input {query, max_results?, sites?, recency_days?}, output a list of {title, url, snippet}"
}

func (t Tool) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in toolInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid web_search input: %w", err)
	}
	if in.Query == "" {
		return nil, errors.New("web_search requires a query")
	}
	k := in.MaxResults
	if k <= 0 || (t.MaxResults > 0 && k > t.MaxResults) {
		k = t.MaxResults
	}
	if k <= 0 {
		k = 10
	}
	results, err := t.Searcher.Discover(ctx, in.Query, k, in.Sites, in.RecencyDays)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"results": results})
}
