// Package index uploads papers to a remote semantic index and ranks them
// against free-text queries.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/paper-cli/internal/resilience"
	"github.com/sells-group/paper-cli/pkg/gemini"
)

const (
	DefaultTopK = 5
	MaxTopK     = 20
)

var (
	// ErrMissingKey is returned by a client built without credentials.
	ErrMissingKey = eris.New("index: no Google API key configured")
	// ErrUploadFailed means the remote side rejected the file.
	ErrUploadFailed = eris.New("index: remote processing failed")
	// ErrMalformedResponse means the ranking reply could not be parsed.
	ErrMalformedResponse = eris.New("index: malformed ranking response")
)

// Handle identifies an uploaded document in the remote index.
type Handle struct {
	Name string
	URI  string
}

// Hit is one ranked search result.
type Hit struct {
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason,omitempty"`
}

// Client is the contract the Index stage and the find command consume.
type Client interface {
	Upload(ctx context.Context, path, id string) (Handle, error)
	Query(ctx context.Context, text string, topK int) ([]Hit, error)
	Passages(ctx context.Context, query, id string, limit int) ([]string, error)
}

// Config tunes the Gemini-backed index.
type Config struct {
	Model        string
	PollInterval time.Duration
}

// New returns a Gemini-backed index, or one that always fails with
// ErrMissingKey when apiKey is empty.
func New(ctx context.Context, apiKey string, cfg Config) (Client, func() error, error) {
	if apiKey == "" {
		return unconfigured{}, func() error { return nil }, nil
	}
	api, err := gemini.NewClient(ctx, apiKey)
	if err != nil {
		return nil, nil, err
	}
	return NewGemini(api, cfg), api.Close, nil
}

type unconfigured struct{}

func (unconfigured) Upload(context.Context, string, string) (Handle, error) {
	return Handle{}, ErrMissingKey
}

func (unconfigured) Query(context.Context, string, int) ([]Hit, error) {
	return nil, ErrMissingKey
}

func (unconfigured) Passages(context.Context, string, string, int) ([]string, error) {
	return nil, ErrMissingKey
}

// GeminiIndex stores PDFs with the Gemini Files API. Display names are
// document IDs.
type GeminiIndex struct {
	api gemini.Client
	cfg Config
}

// NewGemini wraps a Gemini client.
func NewGemini(api gemini.Client, cfg Config) *GeminiIndex {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	return &GeminiIndex{api: api, cfg: cfg}
}

// Upload sends the file and waits until the remote side reports it active.
// The caller bounds the wait through ctx.
func (g *GeminiIndex) Upload(ctx context.Context, path, id string) (Handle, error) {
	f, err := g.api.UploadFile(ctx, path, id)
	if err != nil {
		return Handle{}, classify(err)
	}

	for f.State == gemini.StateProcessing {
		zap.L().Debug("index: waiting for remote processing",
			zap.String("document", id),
			zap.String("file", f.Name),
		)
		t := time.NewTimer(g.cfg.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return Handle{}, eris.Wrapf(ctx.Err(), "index: waiting for %s", f.Name)
		case <-t.C:
		}
		if f, err = g.api.GetFile(ctx, f.Name); err != nil {
			return Handle{}, classify(err)
		}
	}

	if f.State == gemini.StateFailed {
		return Handle{}, eris.Wrapf(ErrUploadFailed, "index: %s (%s)", id, f.Name)
	}
	return Handle{Name: f.Name, URI: f.URI}, nil
}

// Query asks the model to rank every indexed document against text.
func (g *GeminiIndex) Query(ctx context.Context, text string, topK int) ([]Hit, error) {
	topK = ClampTopK(topK)

	files, err := g.api.ListFiles(ctx)
	if err != nil {
		return nil, classify(err)
	}
	names := displayNames(files)
	if len(names) == 0 {
		return nil, nil
	}

	raw, err := g.api.Generate(ctx, gemini.GenerateRequest{
		Model:  g.cfg.Model,
		Prompt: rankingPrompt(text, names, topK),
		JSON:   true,
	})
	if err != nil {
		return nil, classify(err)
	}
	return parseRanking(raw, names, topK)
}

// Passages extracts up to limit verbatim passages relevant to query from
// one indexed document.
func (g *GeminiIndex) Passages(ctx context.Context, query, id string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 3
	}
	files, err := g.api.ListFiles(ctx)
	if err != nil {
		return nil, classify(err)
	}

	var target *gemini.File
	for i := range files {
		if files[i].DisplayName == id && files[i].State == gemini.StateActive {
			target = &files[i]
		}
	}
	if target == nil {
		return nil, eris.Errorf("index: %s is not indexed", id)
	}

	raw, err := g.api.Generate(ctx, gemini.GenerateRequest{
		Model:  g.cfg.Model,
		Prompt: passagesPrompt(query, limit),
		Files:  []gemini.File{*target},
	})
	if err != nil {
		return nil, classify(err)
	}

	var out []string
	for _, p := range strings.Split(raw, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ClampTopK bounds a requested result count to 1..MaxTopK, defaulting to
// DefaultTopK.
func ClampTopK(k int) int {
	switch {
	case k <= 0:
		return DefaultTopK
	case k > MaxTopK:
		return MaxTopK
	default:
		return k
	}
}

func displayNames(files []gemini.File) []string {
	seen := make(map[string]bool, len(files))
	var names []string
	for _, f := range files {
		if f.DisplayName == "" || seen[f.DisplayName] {
			continue
		}
		seen[f.DisplayName] = true
		names = append(names, f.DisplayName)
	}
	slices.Sort(names)
	return names
}

func rankingPrompt(query string, names []string, topK int) string {
	var sb strings.Builder
	sb.WriteString("Given these uploaded papers, rank them by relevance to this query:\n\n")
	fmt.Fprintf(&sb, "Query: %s\n\nPapers available:\n", query)
	for _, n := range names {
		fmt.Fprintf(&sb, "- %s\n", n)
	}
	fmt.Fprintf(&sb, "\nReturn a JSON array of the top %d most relevant papers with format:\n", topK)
	sb.WriteString(`[{"filename": "paper-name", "score": 0.95, "reason": "brief explanation"}]`)
	sb.WriteString("\n\nOnly include papers that are actually relevant. Score from 0.0 to 1.0.\n")
	sb.WriteString("Return ONLY the JSON array, no other text.")
	return sb.String()
}

func passagesPrompt(query string, limit int) string {
	return fmt.Sprintf("From this paper, extract the %d most relevant passages for:\n\n"+
		"Query: %s\n\n"+
		"Return each passage as a separate paragraph. Include page/section references if visible.\n"+
		"Focus on exact quotes and specific details, not summaries.", limit, query)
}

type rankedEntry struct {
	Filename string   `json:"filename"`
	Score    *float64 `json:"score"`
	Reason   string   `json:"reason"`
}

// parseRanking decodes the model's JSON ranking. Names outside known are
// dropped; a missing score counts as 0.5.
func parseRanking(raw string, known []string, topK int) ([]Hit, error) {
	body := stripCodeFence(raw)
	if start, end := strings.Index(body, "["), strings.LastIndex(body, "]"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var entries []rankedEntry
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		return nil, eris.Wrapf(ErrMalformedResponse, "index: %v", err)
	}

	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}

	seen := make(map[string]bool)
	hits := make([]Hit, 0, len(entries))
	for _, e := range entries {
		id := strings.TrimSuffix(strings.TrimSpace(e.Filename), ".pdf")
		if !knownSet[id] || seen[id] {
			continue
		}
		seen[id] = true
		score := 0.5
		if e.Score != nil {
			score = min(max(*e.Score, 0), 1)
		}
		hits = append(hits, Hit{DocumentID: id, Score: score, Reason: e.Reason})
	}

	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// classify marks retryable Google API responses as transient.
func classify(err error) error {
	if status, ok := gemini.StatusCode(err); ok && (resilience.IsTransientHTTPStatus(status) || status >= 500) {
		return resilience.NewTransientError(err, status)
	}
	return err
}
