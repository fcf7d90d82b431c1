package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/paper-cli/internal/model"
)

// Layout names the directories of an on-disk paper library.
type Layout struct {
	Papers    string
	Markdown  string
	Summaries string
}

// FileStore keeps stage content as plain files next to the user's papers
// (markdown/<id>.md, summaries/<id>.summary.md) and records statuses in a
// Ledger.
type FileStore struct {
	layout Layout
	ledger Ledger

	// beforeRename runs after the temp file is synced and before it replaces
	// the destination. Tests use it to interrupt a publish.
	beforeRename func(tmp, final string) error
}

// NewFileStore creates the content directories if needed.
func NewFileStore(layout Layout, ledger Ledger) (*FileStore, error) {
	for _, dir := range []string{layout.Markdown, layout.Summaries} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "store: create %s", dir)
		}
	}
	return &FileStore{layout: layout, ledger: ledger}, nil
}

// Layout returns the directories the store reads and writes.
func (s *FileStore) Layout() Layout { return s.layout }

// ContentPath returns where the content of a stage lives, or "" for stages
// that produce no local content.
func (s *FileStore) ContentPath(id string, stage model.Stage) string {
	switch stage {
	case model.StageConvert:
		return filepath.Join(s.layout.Markdown, id+".md")
	case model.StageSummarize:
		return filepath.Join(s.layout.Summaries, id+".summary.md")
	default:
		return ""
	}
}

func (s *FileStore) Register(ctx context.Context, doc model.Document) (model.Document, error) {
	stored, err := s.ledger.UpsertDocument(ctx, doc)
	if err != nil || !relocated(stored, doc) {
		return stored, err
	}
	if err := s.ledger.MoveDocument(ctx, doc.ID, doc.SourcePath); err != nil {
		return model.Document{}, err
	}
	zap.L().Info("store: source moved",
		zap.String("document", doc.ID),
		zap.String("from", stored.SourcePath),
		zap.String("to", doc.SourcePath),
	)
	stored.SourcePath = doc.SourcePath
	return stored, nil
}

func (s *FileStore) Resolve(ctx context.Context, id string) (*model.Document, error) {
	return s.ledger.GetDocument(ctx, id)
}

func (s *FileStore) ListDocuments(ctx context.Context) ([]model.Document, error) {
	return s.ledger.ListDocuments(ctx)
}

// GetArtifact reads the ledger. A content file with no ledger row (for
// example, markdown converted before the ledger existed) is reported as a
// Done artifact so it is not produced again.
func (s *FileStore) GetArtifact(ctx context.Context, id string, stage model.Stage) (*model.Artifact, error) {
	a, err := s.ledger.GetArtifact(ctx, id, stage)
	if err != nil || a != nil {
		return a, err
	}
	path := s.ContentPath(id, stage)
	if path == "" {
		return nil, nil
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return nil, nil
	}
	return &model.Artifact{
		DocumentID: id,
		Stage:      stage,
		Status:     model.ArtifactDone,
		Location:   path,
		Metadata:   map[string]string{"adopted": "true"},
		ProducedAt: info.ModTime().UTC(),
	}, nil
}

func (s *FileStore) ListArtifacts(ctx context.Context, id string) ([]model.Artifact, error) {
	recorded, err := s.ledger.ListArtifacts(ctx, id)
	if err != nil {
		return nil, err
	}
	seen := make(map[model.Stage]bool, len(recorded))
	for _, a := range recorded {
		seen[a.Stage] = true
	}
	for _, st := range model.Stages {
		if seen[st] {
			continue
		}
		a, err := s.GetArtifact(ctx, id, st)
		if err != nil {
			return nil, err
		}
		if a != nil {
			recorded = append(recorded, *a)
		}
	}
	sortArtifacts(recorded)
	return recorded, nil
}

// PutArtifact publishes content (when non-nil) with write-temp, fsync and
// rename, then upserts the ledger row. If publishing fails the previous
// content and row are left untouched.
func (s *FileStore) PutArtifact(ctx context.Context, a model.Artifact, content []byte) error {
	if content != nil {
		path := s.ContentPath(a.DocumentID, a.Stage)
		if path == "" {
			return eris.Errorf("store: stage %s has no content location", a.Stage)
		}
		if err := s.publish(path, content); err != nil {
			return err
		}
		a.Location = path
	}
	return s.ledger.UpsertArtifact(ctx, a)
}

func (s *FileStore) publish(final string, content []byte) error {
	dir := filepath.Dir(final)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(final)+".*.tmp")
	if err != nil {
		return eris.Wrapf(err, "store: create temp for %s", final)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
	}

	if _, err := tmp.Write(content); err != nil {
		cleanup()
		return eris.Wrapf(err, "store: write %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return eris.Wrapf(err, "store: sync %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return eris.Wrapf(err, "store: close %s", tmpName)
	}
	if s.beforeRename != nil {
		if err := s.beforeRename(tmpName, final); err != nil {
			os.Remove(tmpName) //nolint:errcheck
			return eris.Wrapf(err, "store: publish %s", final)
		}
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return eris.Wrapf(err, "store: rename %s", final)
	}

	// Persist the rename itself; not all platforms support syncing a directory.
	if d, err := os.Open(dir); err == nil {
		if err := d.Sync(); err != nil {
			zap.L().Debug("store: dir sync failed", zap.String("dir", dir), zap.Error(err))
		}
		d.Close() //nolint:errcheck
	}
	return nil
}

func (s *FileStore) ReadContent(_ context.Context, id string, stage model.Stage) ([]byte, error) {
	path := s.ContentPath(id, stage)
	if path == "" {
		return nil, eris.Wrapf(ErrNotFound, "store: %s has no content for stage %s", id, stage)
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "store: %s content for %s", stage, id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: read %s", path)
	}
	return b, nil
}

func (s *FileStore) Close() error {
	return s.ledger.Close()
}
