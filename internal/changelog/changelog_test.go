package changelog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"noted/internal/store"
)

func openTestActor(t *testing.T) *store.Actor {
	t.Helper()
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	a, err := store.Open(filepath.Join(t.TempDir(), "noted.db"), l)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAppendStripsEmbeddingsFromPayload(t *testing.T) {
	ctx := context.Background()
	l := New(openTestActor(t), "device-a")

	payload := map[string]any{"title": "hi", "embeddings": []byte{1, 2, 3}}
	opID, err := l.Append(ctx, "note-1", KindCreate, payload, 1, "device-a")
	require.NoError(t, err)
	require.NotEmpty(t, opID)

	entries, err := l.SinceLamport(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "hi", entries[0].Payload["title"])
	_, hasEmbeddings := entries[0].Payload["embeddings"]
	require.False(t, hasEmbeddings)
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	l := New(openTestActor(t), "device-a")

	opID, err := l.Append(ctx, "note-1", KindCreate, map[string]any{}, 1, "device-a")
	require.NoError(t, err)

	exists, err := l.Exists(ctx, opID)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = l.Exists(ctx, "nonexistent")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSinceLamportOrdersAscendingAndFilters(t *testing.T) {
	ctx := context.Background()
	l := New(openTestActor(t), "device-a")

	_, err := l.Append(ctx, "n1", KindCreate, map[string]any{}, 5, "device-a")
	require.NoError(t, err)
	_, err = l.Append(ctx, "n2", KindCreate, map[string]any{}, 3, "device-a")
	require.NoError(t, err)
	_, err = l.Append(ctx, "n3", KindCreate, map[string]any{}, 8, "device-a")
	require.NoError(t, err)

	entries, err := l.SinceLamport(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "n1", entries[0].NoteID)
	require.Equal(t, "n3", entries[1].NoteID)
}

func TestSinceTimestamp(t *testing.T) {
	ctx := context.Background()
	l := New(openTestActor(t), "device-a")

	cutoff := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)
	_, err := l.Append(ctx, "n1", KindUpdate, map[string]any{}, 1, "device-a")
	require.NoError(t, err)

	entries, err := l.SinceTimestamp(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "n1", entries[0].NoteID)
}
