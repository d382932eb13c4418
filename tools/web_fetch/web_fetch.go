package web_fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/deepresearch/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/deepresearch/tools/web_fetch/models"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

// WebFetcher renders a page and extracts its readable content.
type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	ChromedpFetcherType FetcherType = "chromedp"
)

func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch fetcherType {
	case ChromedpFetcherType, "":
		return chromedp.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	default:
		return nil, fmt.Errorf("unsupported fetcher type: %s", fetcherType)
	}
}

// Tool exposes a WebFetcher as the web_extract registry data tool.
type Tool struct {
	Fetcher WebFetcher
}

func (t Tool) Name() string { return "web_extract" }

func (t Tool) Description() string {
	return "Fetches a page and extracts its article content; input {url}, output {url, title, text, ...}"
}

func (t Tool) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid web_extract input: %w", err)
	}
	if in.URL == "" {
		return nil, errors.New("web_extract requires a url")
	}
	result, err := t.Fetcher.Exec(ctx, in.URL)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}
