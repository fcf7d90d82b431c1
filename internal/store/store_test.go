package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/paper-cli/internal/model"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	root := t.TempDir()
	s, err := NewFileStore(Layout{
		Papers:    filepath.Join(root, "papers"),
		Markdown:  filepath.Join(root, "markdown"),
		Summaries: filepath.Join(root, "summaries"),
	}, newTestSQLiteLedger(t))
	require.NoError(t, err)
	return s
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("RegisterIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		first := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

		d1, err := s.Register(ctx, model.Document{ID: "vaswani2017", SourcePath: "/p/vaswani2017.pdf", DiscoveredAt: first})
		require.NoError(t, err)
		d2, err := s.Register(ctx, model.Document{ID: "vaswani2017", SourcePath: "/p/vaswani2017.pdf", DiscoveredAt: first.Add(time.Hour)})
		require.NoError(t, err)

		assert.True(t, d1.DiscoveredAt.Equal(d2.DiscoveredAt))
		docs, err := s.ListDocuments(ctx)
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})

	t.Run("RegisterFollowsMovedSource", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		dir := t.TempDir()
		old := filepath.Join(dir, "tmp", "lecun1998.pdf")
		moved := filepath.Join(dir, "papers", "lecun1998.pdf")
		require.NoError(t, os.MkdirAll(filepath.Dir(old), 0o755))
		require.NoError(t, os.MkdirAll(filepath.Dir(moved), 0o755))
		require.NoError(t, os.WriteFile(old, []byte("%PDF-"), 0o644))
		require.NoError(t, os.WriteFile(moved, []byte("%PDF-"), 0o644))

		_, err := s.Register(ctx, model.NewDocument(old, time.Now()))
		require.NoError(t, err)

		d, err := s.Register(ctx, model.NewDocument(moved, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, old, d.SourcePath, "an existing source is kept")

		require.NoError(t, os.Remove(old))
		d, err = s.Register(ctx, model.NewDocument(moved, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, moved, d.SourcePath)

		got, err := s.Resolve(ctx, "lecun1998")
		require.NoError(t, err)
		assert.Equal(t, moved, got.SourcePath)
	})

	t.Run("ResolveUnknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Resolve(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PutAndReadContent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.PutArtifact(ctx, model.Artifact{
			DocumentID: "doc",
			Stage:      model.StageConvert,
			Status:     model.ArtifactDone,
			ProducedAt: time.Now(),
		}, []byte("# Title\n\nbody"))
		require.NoError(t, err)

		a, err := s.GetArtifact(ctx, "doc", model.StageConvert)
		require.NoError(t, err)
		require.NotNil(t, a)
		assert.True(t, a.Done())
		assert.NotEmpty(t, a.Location)

		b, err := s.ReadContent(ctx, "doc", model.StageConvert)
		require.NoError(t, err)
		assert.Equal(t, "# Title\n\nbody", string(b))
	})

	t.Run("ReadContentMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ReadContent(context.Background(), "doc", model.StageSummarize)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("GetArtifactAbsent", func(t *testing.T) {
		s := newStore(t)
		a, err := s.GetArtifact(context.Background(), "doc", model.StageIndex)
		require.NoError(t, err)
		assert.Nil(t, a)
	})

	t.Run("StatusOnlyArtifact", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.PutArtifact(ctx, model.Artifact{
			DocumentID: "doc",
			Stage:      model.StageIndex,
			Status:     model.ArtifactDone,
			Ref:        "files/xyz",
			ProducedAt: time.Now(),
		}, nil))

		a, err := s.GetArtifact(ctx, "doc", model.StageIndex)
		require.NoError(t, err)
		require.NotNil(t, a)
		assert.Equal(t, "files/xyz", a.Ref)
	})

	t.Run("FailureOverwritesStatusKeepsContent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.PutArtifact(ctx, model.Artifact{
			DocumentID: "doc", Stage: model.StageSummarize, Status: model.ArtifactDone, ProducedAt: time.Now(),
		}, []byte("old summary")))
		require.NoError(t, s.PutArtifact(ctx, model.Artifact{
			DocumentID: "doc", Stage: model.StageSummarize, Status: model.ArtifactFailed,
			FailureKind: model.FailureTransient, Error: "503", ProducedAt: time.Now(),
		}, nil))

		a, err := s.GetArtifact(ctx, "doc", model.StageSummarize)
		require.NoError(t, err)
		assert.Equal(t, model.ArtifactFailed, a.Status)
		b, err := s.ReadContent(ctx, "doc", model.StageSummarize)
		require.NoError(t, err)
		assert.Equal(t, "old summary", string(b))
	})

	t.Run("ListArtifactsStageOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, st := range []model.Stage{model.StageIndex, model.StageConvert} {
			require.NoError(t, s.PutArtifact(ctx, model.Artifact{DocumentID: "doc", Stage: st, Status: model.ArtifactDone, ProducedAt: time.Now()}, nil))
		}
		as, err := s.ListArtifacts(ctx, "doc")
		require.NoError(t, err)
		require.Len(t, as, 2)
		assert.Equal(t, model.StageConvert, as[0].Stage)
		assert.Equal(t, model.StageIndex, as[1].Stage)
	})

	t.Run("ConcurrentDistinctKeys", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		ids := []string{"a", "b", "c", "d"}
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				assert.NoError(t, s.PutArtifact(ctx, model.Artifact{
					DocumentID: id, Stage: model.StageConvert, Status: model.ArtifactDone, ProducedAt: time.Now(),
				}, []byte("text of "+id)))
			}(id)
		}
		wg.Wait()

		for _, id := range ids {
			b, err := s.ReadContent(ctx, id, model.StageConvert)
			require.NoError(t, err)
			assert.Equal(t, "text of "+id, string(b))
		}
	})
}

func TestMemoryStore(t *testing.T) {
	storeTestSuite(t, func(t *testing.T) Store { return NewMemory() })
}

func TestFileStore(t *testing.T) {
	storeTestSuite(t, func(t *testing.T) Store { return newTestFileStore(t) })
}

func TestMemoryStore_ArtifactIsCopied(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	meta := map[string]string{"k": "v"}
	require.NoError(t, s.PutArtifact(ctx, model.Artifact{DocumentID: "d", Stage: model.StageConvert, Status: model.ArtifactDone, Metadata: meta}, nil))

	meta["k"] = "changed"
	a, err := s.GetArtifact(ctx, "d", model.StageConvert)
	require.NoError(t, err)
	assert.Equal(t, "v", a.Metadata["k"])
}
