package store

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/paper-cli/internal/model"
)

// SQLiteLedger implements Ledger using modernc.org/sqlite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas below are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteLedger{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	source_path   TEXT NOT NULL,
	discovered_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	document_id  TEXT NOT NULL,
	stage        TEXT NOT NULL,
	status       TEXT NOT NULL,
	failure_kind TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	location     TEXT NOT NULL DEFAULT '',
	ref          TEXT NOT NULL DEFAULT '',
	metadata     TEXT NOT NULL DEFAULT '{}',
	produced_at  DATETIME NOT NULL,
	PRIMARY KEY (document_id, stage)
);

CREATE INDEX IF NOT EXISTS idx_artifacts_status ON artifacts(stage, status);
`

func (s *SQLiteLedger) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

func (s *SQLiteLedger) UpsertDocument(ctx context.Context, doc model.Document) (model.Document, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, source_path, discovered_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		doc.ID, doc.SourcePath, doc.DiscoveredAt.UTC(),
	)
	if err != nil {
		return model.Document{}, eris.Wrapf(err, "sqlite: insert document %s", doc.ID)
	}
	stored, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		return model.Document{}, err
	}
	return *stored, nil
}

func (s *SQLiteLedger) MoveDocument(ctx context.Context, id, sourcePath string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET source_path = ? WHERE id = ?`, sourcePath, id)
	return eris.Wrapf(err, "sqlite: move document %s", id)
}

func (s *SQLiteLedger) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_path, discovered_at FROM documents WHERE id = ?`, id,
	)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: document %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %s", id)
	}
	return d, nil
}

func (s *SQLiteLedger) ListDocuments(ctx context.Context) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_path, discovered_at FROM documents ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

func (s *SQLiteLedger) UpsertArtifact(ctx context.Context, a model.Artifact) error {
	meta, err := encodeMetadata(a.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (document_id, stage, status, failure_kind, error, location, ref, metadata, produced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(document_id, stage) DO UPDATE SET
			status = excluded.status,
			failure_kind = excluded.failure_kind,
			error = excluded.error,
			location = excluded.location,
			ref = excluded.ref,
			metadata = excluded.metadata,
			produced_at = excluded.produced_at`,
		a.DocumentID, string(a.Stage), string(a.Status), string(a.FailureKind),
		a.Error, a.Location, a.Ref, string(meta), a.ProducedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert artifact %s/%s", a.DocumentID, a.Stage)
}

func (s *SQLiteLedger) GetArtifact(ctx context.Context, id string, stage model.Stage) (*model.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document_id, stage, status, failure_kind, error, location, ref, metadata, produced_at
		 FROM artifacts WHERE document_id = ? AND stage = ?`,
		id, string(stage),
	)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get artifact %s/%s", id, stage)
	}
	return a, nil
}

func (s *SQLiteLedger) ListArtifacts(ctx context.Context, id string) ([]model.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, stage, status, failure_kind, error, location, ref, metadata, produced_at
		 FROM artifacts WHERE document_id = ?`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list artifacts %s", id)
	}
	defer rows.Close()

	var out []model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan artifact")
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list artifacts iterate")
	}
	sortArtifacts(out)
	return out, nil
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanDocument(row scannable) (*model.Document, error) {
	var d model.Document
	if err := row.Scan(&d.ID, &d.SourcePath, &d.DiscoveredAt); err != nil {
		return nil, err
	}
	d.DiscoveredAt = d.DiscoveredAt.UTC()
	return &d, nil
}

func scanArtifact(row scannable) (*model.Artifact, error) {
	var (
		a                          model.Artifact
		stage, status, failureKind string
		meta                       string
		producedAt                 time.Time
	)
	err := row.Scan(&a.DocumentID, &stage, &status, &failureKind, &a.Error, &a.Location, &a.Ref, &meta, &producedAt)
	if err != nil {
		return nil, err
	}
	a.Stage = model.Stage(stage)
	a.Status = model.ArtifactStatus(status)
	a.FailureKind = model.FailureKind(failureKind)
	a.ProducedAt = producedAt.UTC()
	if a.Metadata, err = decodeMetadata([]byte(meta)); err != nil {
		return nil, err
	}
	return &a, nil
}

// sortArtifacts orders artifacts by pipeline stage order.
func sortArtifacts(as []model.Artifact) {
	slices.SortFunc(as, func(a, b model.Artifact) int {
		return slices.Index(model.Stages, a.Stage) - slices.Index(model.Stages, b.Stage)
	})
}
