// Package library exposes read access to processed papers: listing, fuzzy
// name resolution, full text and section reads, summaries and search.
package library

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/paper-cli/internal/index"
	"github.com/sells-group/paper-cli/internal/model"
	"github.com/sells-group/paper-cli/internal/store"
)

var (
	// ErrNoContent means the document exists but the stage produced no output.
	ErrNoContent = errors.New("library: stage output not available")
	// ErrSectionNotFound means no heading matched the requested section.
	ErrSectionNotFound = errors.New("library: section not found")
)

// Library reads documents and stage outputs from a Store.
type Library struct {
	store store.Store
	index index.Client
}

// New creates a Library. idx may be nil when search is not needed.
func New(st store.Store, idx index.Client) *Library {
	return &Library{store: st, index: idx}
}

// Entry is one document with the status of each stage.
type Entry struct {
	Document model.Document                       `json:"document"`
	Stages   map[model.Stage]model.ArtifactStatus `json:"stages"`
}

// Has reports whether the stage has a completed artifact.
func (e Entry) Has(stage model.Stage) bool {
	return e.Stages[stage] == model.ArtifactDone
}

// List returns every document in ID order with per-stage status. Stages that
// never ran are reported pending.
func (l *Library) List(ctx context.Context) ([]Entry, error) {
	docs, err := l.store.ListDocuments(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "library: list documents")
	}
	out := make([]Entry, 0, len(docs))
	for _, d := range docs {
		arts, err := l.store.ListArtifacts(ctx, d.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "library: list artifacts for %s", d.ID)
		}
		out = append(out, newEntry(d, arts))
	}
	return out, nil
}

func newEntry(d model.Document, arts []model.Artifact) Entry {
	e := Entry{Document: d, Stages: make(map[model.Stage]model.ArtifactStatus, len(model.Stages))}
	for _, st := range model.Stages {
		e.Stages[st] = model.ArtifactPending
	}
	for _, a := range arts {
		e.Stages[a.Stage] = a.Status
	}
	return e
}

// Describe resolves name and returns its entry together with the stored
// artifacts.
func (l *Library) Describe(ctx context.Context, name string) (Entry, []model.Artifact, error) {
	doc, err := l.Resolve(ctx, name)
	if err != nil {
		return Entry{}, nil, err
	}
	arts, err := l.store.ListArtifacts(ctx, doc.ID)
	if err != nil {
		return Entry{}, nil, eris.Wrapf(err, "library: list artifacts for %s", doc.ID)
	}
	return newEntry(*doc, arts), arts, nil
}

// Resolve finds a document by exact ID, falling back to the first ID (in ID
// order) that contains name case-insensitively.
func (l *Library) Resolve(ctx context.Context, name string) (*model.Document, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, eris.Wrap(store.ErrNotFound, "library: empty document name")
	}
	doc, err := l.store.Resolve(ctx, name)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(err, "library: resolve %s", name)
	}

	docs, err := l.store.ListDocuments(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "library: list documents")
	}
	needle := strings.ToLower(name)
	for _, d := range docs {
		if strings.Contains(d.ID, needle) {
			return &d, nil
		}
	}
	return nil, eris.Wrapf(store.ErrNotFound, "library: no document matches %q", name)
}

// Content resolves name and returns the stored output of stage.
func (l *Library) Content(ctx context.Context, name string, stage model.Stage) (model.Document, []byte, error) {
	doc, err := l.Resolve(ctx, name)
	if err != nil {
		return model.Document{}, nil, err
	}
	b, err := l.store.ReadContent(ctx, doc.ID, stage)
	if errors.Is(err, store.ErrNotFound) {
		return *doc, nil, eris.Wrapf(ErrNoContent, "library: %s has no %s output", doc.ID, stage)
	}
	if err != nil {
		return *doc, nil, eris.Wrapf(err, "library: read %s of %s", stage, doc.ID)
	}
	return *doc, b, nil
}

// ConvertedText returns the converted text of the named document.
func (l *Library) ConvertedText(ctx context.Context, name string) (model.Document, []byte, error) {
	return l.Content(ctx, name, model.StageConvert)
}

// Summary returns the stored summary of the named document.
func (l *Library) Summary(ctx context.Context, name string) (model.Document, []byte, error) {
	return l.Content(ctx, name, model.StageSummarize)
}

// Read returns the converted text, or only the named section when section
// is non-empty.
func (l *Library) Read(ctx context.Context, name, section string) (model.Document, string, error) {
	doc, b, err := l.ConvertedText(ctx, name)
	if err != nil {
		return doc, "", err
	}
	if section == "" {
		return doc, string(b), nil
	}
	text, ok := ExtractSection(string(b), section)
	if !ok {
		return doc, "", eris.Wrapf(ErrSectionNotFound, "library: %q in %s", section, doc.ID)
	}
	return doc, text, nil
}

// Find ranks documents against query using the index.
func (l *Library) Find(ctx context.Context, query string, topK int) ([]index.Hit, error) {
	if l.index == nil {
		return nil, index.ErrMissingKey
	}
	hits, err := l.index.Query(ctx, query, index.ClampTopK(topK))
	if err != nil {
		return nil, eris.Wrap(err, "library: find")
	}
	return hits, nil
}

// Passages returns passages of the named document relevant to query.
func (l *Library) Passages(ctx context.Context, name, query string, limit int) (model.Document, []string, error) {
	doc, err := l.Resolve(ctx, name)
	if err != nil {
		return model.Document{}, nil, err
	}
	if l.index == nil {
		return *doc, nil, index.ErrMissingKey
	}
	out, err := l.index.Passages(ctx, query, doc.ID, limit)
	if err != nil {
		return *doc, nil, eris.Wrapf(err, "library: passages in %s", doc.ID)
	}
	return *doc, out, nil
}
