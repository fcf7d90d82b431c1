package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/paper-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool used by the ledger; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresLedger implements Ledger using pgxpool.
type PostgresLedger struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresLedger with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresLedger, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresLedger{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS paper_documents (
	id            TEXT PRIMARY KEY,
	source_path   TEXT NOT NULL,
	discovered_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS paper_artifacts (
	document_id  TEXT NOT NULL,
	stage        TEXT NOT NULL,
	status       TEXT NOT NULL,
	failure_kind TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	location     TEXT NOT NULL DEFAULT '',
	ref          TEXT NOT NULL DEFAULT '',
	metadata     JSONB NOT NULL DEFAULT '{}'::jsonb,
	produced_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (document_id, stage)
);

CREATE INDEX IF NOT EXISTS idx_paper_artifacts_status ON paper_artifacts(stage, status);
`

func (s *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresLedger) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresLedger) UpsertDocument(ctx context.Context, doc model.Document) (model.Document, error) {
	var d model.Document
	// The no-op update makes RETURNING yield the existing row on conflict.
	err := s.pool.QueryRow(ctx,
		`INSERT INTO paper_documents (id, source_path, discovered_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET id = paper_documents.id
		 RETURNING id, source_path, discovered_at`,
		doc.ID, doc.SourcePath, doc.DiscoveredAt.UTC(),
	).Scan(&d.ID, &d.SourcePath, &d.DiscoveredAt)
	if err != nil {
		return model.Document{}, eris.Wrapf(err, "postgres: upsert document %s", doc.ID)
	}
	d.DiscoveredAt = d.DiscoveredAt.UTC()
	return d, nil
}

func (s *PostgresLedger) MoveDocument(ctx context.Context, id, sourcePath string) error {
	_, err := s.pool.Exec(ctx, `UPDATE paper_documents SET source_path = $1 WHERE id = $2`, sourcePath, id)
	return eris.Wrapf(err, "postgres: move document %s", id)
}

func (s *PostgresLedger) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var d model.Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, source_path, discovered_at FROM paper_documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.SourcePath, &d.DiscoveredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: document %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document %s", id)
	}
	d.DiscoveredAt = d.DiscoveredAt.UTC()
	return &d, nil
}

func (s *PostgresLedger) ListDocuments(ctx context.Context) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_path, discovered_at FROM paper_documents ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.SourcePath, &d.DiscoveredAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		d.DiscoveredAt = d.DiscoveredAt.UTC()
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

func (s *PostgresLedger) UpsertArtifact(ctx context.Context, a model.Artifact) error {
	meta, err := encodeMetadata(a.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO paper_artifacts (document_id, stage, status, failure_kind, error, location, ref, metadata, produced_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (document_id, stage) DO UPDATE SET
			status = EXCLUDED.status,
			failure_kind = EXCLUDED.failure_kind,
			error = EXCLUDED.error,
			location = EXCLUDED.location,
			ref = EXCLUDED.ref,
			metadata = EXCLUDED.metadata,
			produced_at = EXCLUDED.produced_at`,
		a.DocumentID, string(a.Stage), string(a.Status), string(a.FailureKind),
		a.Error, a.Location, a.Ref, meta, a.ProducedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert artifact %s/%s", a.DocumentID, a.Stage)
}

func (s *PostgresLedger) GetArtifact(ctx context.Context, id string, stage model.Stage) (*model.Artifact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT document_id, stage, status, failure_kind, error, location, ref, metadata, produced_at
		 FROM paper_artifacts WHERE document_id = $1 AND stage = $2`,
		id, string(stage),
	)
	a, err := scanPgArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get artifact %s/%s", id, stage)
	}
	return a, nil
}

func (s *PostgresLedger) ListArtifacts(ctx context.Context, id string) ([]model.Artifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT document_id, stage, status, failure_kind, error, location, ref, metadata, produced_at
		 FROM paper_artifacts WHERE document_id = $1`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list artifacts %s", id)
	}
	defer rows.Close()

	var out []model.Artifact
	for rows.Next() {
		a, err := scanPgArtifact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan artifact")
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list artifacts iterate")
	}
	sortArtifacts(out)
	return out, nil
}

func scanPgArtifact(row scannable) (*model.Artifact, error) {
	var (
		a                          model.Artifact
		stage, status, failureKind string
		meta                       []byte
	)
	err := row.Scan(&a.DocumentID, &stage, &status, &failureKind, &a.Error, &a.Location, &a.Ref, &meta, &a.ProducedAt)
	if err != nil {
		return nil, err
	}
	a.Stage = model.Stage(stage)
	a.Status = model.ArtifactStatus(status)
	a.FailureKind = model.FailureKind(failureKind)
	a.ProducedAt = a.ProducedAt.UTC()
	if a.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, err
	}
	return &a, nil
}
