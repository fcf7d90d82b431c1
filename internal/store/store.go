package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/paper-cli/internal/model"
)

// ErrNotFound is returned when a document or artifact content is unknown.
var ErrNotFound = errors.New("store: not found")

// Store is the Document Store: documents, their per-stage artifacts and the
// artifact content. Writes for distinct (document, stage) keys are
// independent; a write is visible to every subsequent read in the process.
type Store interface {
	// Register inserts the document if its ID is unknown and returns the
	// stored record. A known ID keeps its record, except that the source
	// path follows the file when the recorded path no longer exists.
	Register(ctx context.Context, doc model.Document) (model.Document, error)
	Resolve(ctx context.Context, id string) (*model.Document, error)
	ListDocuments(ctx context.Context) ([]model.Document, error)

	// GetArtifact returns nil, nil when the stage has never recorded a result.
	GetArtifact(ctx context.Context, id string, stage model.Stage) (*model.Artifact, error)
	ListArtifacts(ctx context.Context, id string) ([]model.Artifact, error)
	// PutArtifact replaces the current artifact for (DocumentID, Stage).
	// Content, when non-nil, is published atomically before the status row.
	PutArtifact(ctx context.Context, a model.Artifact, content []byte) error
	ReadContent(ctx context.Context, id string, stage model.Stage) ([]byte, error)

	Close() error
}

// Ledger persists document and artifact metadata.
type Ledger interface {
	UpsertDocument(ctx context.Context, doc model.Document) (model.Document, error)
	MoveDocument(ctx context.Context, id, sourcePath string) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	ListDocuments(ctx context.Context) ([]model.Document, error)
	UpsertArtifact(ctx context.Context, a model.Artifact) error
	GetArtifact(ctx context.Context, id string, stage model.Stage) (*model.Artifact, error)
	ListArtifacts(ctx context.Context, id string) ([]model.Artifact, error)

	Migrate(ctx context.Context) error
	Close() error
}

// LedgerConfig selects and configures the ledger backend.
type LedgerConfig struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
	Pool        *PoolConfig
}

// OpenLedger opens and migrates the configured ledger.
func OpenLedger(ctx context.Context, cfg LedgerConfig) (Ledger, error) {
	var (
		l   Ledger
		err error
	)
	switch cfg.Driver {
	case "postgres":
		l, err = NewPostgres(ctx, cfg.DatabaseURL, cfg.Pool)
	case "sqlite", "":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrapf(err, "store: create %s", dir)
			}
		}
		l, err = NewSQLite(cfg.SQLitePath)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := l.Migrate(ctx); err != nil {
		l.Close() //nolint:errcheck
		return nil, err
	}
	return l, nil
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	return b, eris.Wrap(err, "store: marshal metadata")
}

func decodeMetadata(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal metadata")
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// relocated reports whether a known document's recorded source is gone and
// incoming names a file that exists.
func relocated(stored, incoming model.Document) bool {
	if incoming.SourcePath == "" || stored.SourcePath == incoming.SourcePath {
		return false
	}
	if _, err := os.Stat(stored.SourcePath); err == nil {
		return false
	}
	_, err := os.Stat(incoming.SourcePath)
	return err == nil
}
