//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "db", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_SaveGet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	rec := Record{
		ArticleID:     "a1",
		TraceID:       "article-a1",
		Topic:         "sleep and the gut",
		Status:        "completed",
		FinalSummary:  "Done",
		ArtifactPaths: map[string]string{"a1_main.md": "output/md/a1_main.md"},
		Iterations:    3,
		Duration:      1500 * time.Millisecond,
	}
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, "Done", got.FinalSummary)
	assert.Equal(t, rec.ArtifactPaths, got.ArtifactPaths)
	assert.Equal(t, 3, got.Iterations)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.False(t, got.CreatedAt.IsZero())

	// Повторная запись заменяет итог
	rec.Status = "failed"
	rec.Error = "step limit exceeded"
	require.NoError(t, s.Save(ctx, rec))
	got, err = s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, "step limit exceeded", got.Error)
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	s := openTemp(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_List(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, s.Save(ctx, Record{ArticleID: id, Status: "completed", CreatedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	list, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ArticleID)
	assert.Equal(t, "mid", list[1].ArticleID)
}

func TestSQLiteStore_SaveRequiresID(t *testing.T) {
	s := openTemp(t)
	assert.Error(t, s.Save(context.Background(), Record{Status: "completed"}))
}
