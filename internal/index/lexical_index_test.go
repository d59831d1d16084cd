package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLexicalIndexSearchFindsMatches(t *testing.T) {
	ctx := context.Background()
	idx := NewLexicalIndex(openTestActor(t))

	require.NoError(t, idx.IndexNote(ctx, "n1", "Grocery List", "milk and eggs"))
	require.NoError(t, idx.IndexNote(ctx, "n2", "Work Notes", "quarterly report"))

	ids, err := idx.Search(ctx, "milk")
	require.NoError(t, err)
	require.Equal(t, []string{"n1"}, ids)

	ids, err = idx.Search(ctx, "report")
	require.NoError(t, err)
	require.Equal(t, []string{"n2"}, ids)
}

func TestLexicalIndexDelete(t *testing.T) {
	ctx := context.Background()
	idx := NewLexicalIndex(openTestActor(t))

	require.NoError(t, idx.IndexNote(ctx, "n1", "Title", "body"))
	require.NoError(t, idx.Delete(ctx, "n1"))

	ids, err := idx.Search(ctx, "body")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestLexicalIndexReindexReplaces(t *testing.T) {
	ctx := context.Background()
	idx := NewLexicalIndex(openTestActor(t))

	require.NoError(t, idx.IndexNote(ctx, "n1", "first", "version"))
	require.NoError(t, idx.IndexNote(ctx, "n1", "second", "revision"))

	ids, err := idx.Search(ctx, "first")
	require.NoError(t, err)
	require.Empty(t, ids)

	ids, err = idx.Search(ctx, "second")
	require.NoError(t, err)
	require.Equal(t, []string{"n1"}, ids)
}
