package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/paper-cli/internal/model"
)

func newTestSQLiteLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	l, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck
	require.NoError(t, l.Migrate(context.Background()))
	return l
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	l := newTestSQLiteLedger(t)
	require.NoError(t, l.Migrate(context.Background()))
}

func TestSQLite_UpsertDocument_KeepsFirst(t *testing.T) {
	l := newTestSQLiteLedger(t)
	ctx := context.Background()

	first := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	d, err := l.UpsertDocument(ctx, model.Document{ID: "smith2020", SourcePath: "/p/smith2020.pdf", DiscoveredAt: first})
	require.NoError(t, err)
	assert.Equal(t, "smith2020", d.ID)

	again, err := l.UpsertDocument(ctx, model.Document{ID: "smith2020", SourcePath: "/moved/smith2020.pdf", DiscoveredAt: first.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "/p/smith2020.pdf", again.SourcePath)
	assert.True(t, first.Equal(again.DiscoveredAt))

	docs, err := l.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestSQLite_MoveDocument(t *testing.T) {
	l := newTestSQLiteLedger(t)
	ctx := context.Background()

	_, err := l.UpsertDocument(ctx, model.Document{ID: "smith2020", SourcePath: "/tmp/smith2020.pdf", DiscoveredAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, l.MoveDocument(ctx, "smith2020", "/papers/smith2020.pdf"))

	d, err := l.GetDocument(ctx, "smith2020")
	require.NoError(t, err)
	assert.Equal(t, "/papers/smith2020.pdf", d.SourcePath)
}

func TestSQLite_GetDocument_NotFound(t *testing.T) {
	l := newTestSQLiteLedger(t)

	_, err := l.GetDocument(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListDocuments_Ordered(t *testing.T) {
	l := newTestSQLiteLedger(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"c", "a", "b"} {
		_, err := l.UpsertDocument(ctx, model.Document{ID: id, SourcePath: id + ".pdf", DiscoveredAt: now})
		require.NoError(t, err)
	}

	docs, err := l.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})
}

func TestSQLite_Artifact_UpsertOverwrites(t *testing.T) {
	l := newTestSQLiteLedger(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC)

	require.NoError(t, l.UpsertArtifact(ctx, model.Artifact{
		DocumentID:  "doc",
		Stage:       model.StageSummarize,
		Status:      model.ArtifactFailed,
		FailureKind: model.FailureTransient,
		Error:       "timeout",
		ProducedAt:  at,
	}))
	require.NoError(t, l.UpsertArtifact(ctx, model.Artifact{
		DocumentID: "doc",
		Stage:      model.StageSummarize,
		Status:     model.ArtifactDone,
		Location:   "/s/doc.summary.md",
		Metadata:   map[string]string{"model": "claude"},
		ProducedAt: at.Add(time.Minute),
	}))

	a, err := l.GetArtifact(ctx, "doc", model.StageSummarize)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, model.ArtifactDone, a.Status)
	assert.Equal(t, model.FailureNone, a.FailureKind)
	assert.Empty(t, a.Error)
	assert.Equal(t, "/s/doc.summary.md", a.Location)
	assert.Equal(t, "claude", a.Metadata["model"])
	assert.True(t, at.Add(time.Minute).Equal(a.ProducedAt))
}

func TestSQLite_GetArtifact_Absent(t *testing.T) {
	l := newTestSQLiteLedger(t)

	a, err := l.GetArtifact(context.Background(), "doc", model.StageConvert)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestSQLite_ListArtifacts_StageOrder(t *testing.T) {
	l := newTestSQLiteLedger(t)
	ctx := context.Background()
	now := time.Now()

	for _, st := range []model.Stage{model.StageIndex, model.StageConvert, model.StageSummarize} {
		require.NoError(t, l.UpsertArtifact(ctx, model.Artifact{DocumentID: "doc", Stage: st, Status: model.ArtifactDone, ProducedAt: now}))
	}
	require.NoError(t, l.UpsertArtifact(ctx, model.Artifact{DocumentID: "other", Stage: model.StageConvert, Status: model.ArtifactDone, ProducedAt: now}))

	as, err := l.ListArtifacts(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, as, 3)
	assert.Equal(t, model.StageConvert, as[0].Stage)
	assert.Equal(t, model.StageSummarize, as[1].Stage)
	assert.Equal(t, model.StageIndex, as[2].Stage)
}

func TestOpenLedger_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	l, err := OpenLedger(context.Background(), LedgerConfig{Driver: "sqlite", SQLitePath: path})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck

	_, err = l.UpsertDocument(context.Background(), model.Document{ID: "x", SourcePath: "x.pdf", DiscoveredAt: time.Now()})
	require.NoError(t, err)
}

func TestOpenLedger_UnknownDriver(t *testing.T) {
	_, err := OpenLedger(context.Background(), LedgerConfig{Driver: "mongo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}
