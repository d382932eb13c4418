package docs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
)

// Document is one reference file loaded into the lookup index.
type Document struct {
	Path  string `json:"path"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Hit is one lookup result.
type Hit struct {
	Path    string  `json:"path"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// Index is an in-memory full-text index over a local documentation
// corpus, built once at startup.
type Index struct {
	bleve bleve.Index
	meta  map[string]Document
	mu    sync.RWMutex
}

// NewIndex indexes every .md and .txt file under dir.
func NewIndex(dir string) (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	ix := &Index{bleve: idx, meta: make(map[string]Document)}
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return ix.Add(Document{Path: path, Title: docTitle(string(raw), path), Text: string(raw)})
	})
	if err != nil {
		return nil, fmt.Errorf("indexing docs under %s: %w", dir, err)
	}
	return ix, nil
}

// Add indexes one document.
func (ix *Index) Add(doc Document) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.meta[doc.Path] = doc
	return ix.bleve.Index(doc.Path, doc)
}

// Search returns the top k hits for a query string.
func (ix *Index) Search(q string, k int) ([]Hit, error) {
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := ix.bleve.Search(req)
	if err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []Hit
	for i, hit := range res.Hits {
		doc := ix.meta[hit.ID]
		out = append(out, Hit{
			Path:    hit.ID,
			Title:   doc.Title,
			Snippet: snippet(doc.Text),
			Score:   hit.Score,
			Rank:    i + 1,
		})
	}
	return out, nil
}

func docTitle(text, path string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line != "" {
			return line
		}
	}
	return filepath.Base(path)
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	const maxRunes = 280
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}

// Tool exposes the index as the docs_lookup registry data tool.
type Tool struct {
	Index *Index
}

func (t Tool) Name() string { return "docs_lookup" }

func (t Tool) Description() string {
	return "Full-text lookup over the local reference corpus; input {query, k?}, output a list of {path, title, snippet, score}"
}

func (t Tool) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Query string `json:"query"`
		K     int    `json:"k,omitempty"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid docs_lookup input: %w", err)
	}
	if in.Query == "" {
		return nil, errors.New("docs_lookup requires a query")
	}
	if in.K <= 0 {
		in.K = 5
	}
	hits, err := t.Index.Search(in.Query, in.K)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"hits": hits})
}
