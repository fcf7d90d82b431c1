package store

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/paper-cli/internal/model"
)

type artifactKey struct {
	id    string
	stage model.Stage
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[string]model.Document
	artifacts map[artifactKey]model.Artifact
	content   map[artifactKey][]byte
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		docs:      make(map[string]model.Document),
		artifacts: make(map[artifactKey]model.Artifact),
		content:   make(map[artifactKey][]byte),
	}
}

func (s *MemoryStore) Register(_ context.Context, doc model.Document) (model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.docs[doc.ID]; ok {
		if relocated(existing, doc) {
			existing.SourcePath = doc.SourcePath
			s.docs[doc.ID] = existing
		}
		return existing, nil
	}
	doc.DiscoveredAt = doc.DiscoveredAt.UTC()
	s.docs[doc.ID] = doc
	return doc, nil
}

func (s *MemoryStore) Resolve(_ context.Context, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: document %s", id)
	}
	return &d, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetArtifact(_ context.Context, id string, stage model.Stage) (*model.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[artifactKey{id, stage}]
	if !ok {
		return nil, nil
	}
	return cloneArtifact(a), nil
}

func (s *MemoryStore) ListArtifacts(_ context.Context, id string) ([]model.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Artifact
	for _, st := range model.Stages {
		if a, ok := s.artifacts[artifactKey{id, st}]; ok {
			out = append(out, *cloneArtifact(a))
		}
	}
	return out, nil
}

func (s *MemoryStore) PutArtifact(_ context.Context, a model.Artifact, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := artifactKey{a.DocumentID, a.Stage}
	if content != nil {
		s.content[key] = append([]byte(nil), content...)
		a.Location = "memory://" + a.DocumentID + "/" + string(a.Stage)
	}
	s.artifacts[key] = *cloneArtifact(a)
	return nil
}

func (s *MemoryStore) ReadContent(_ context.Context, id string, stage model.Stage) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.content[artifactKey{id, stage}]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: %s content for %s", stage, id)
	}
	return append([]byte(nil), b...), nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneArtifact(a model.Artifact) *model.Artifact {
	if a.Metadata != nil {
		m := make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			m[k] = v
		}
		a.Metadata = m
	}
	return &a
}
