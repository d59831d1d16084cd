package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVectorIndexKNNOrdersByClosestFirst(t *testing.T) {
	ctx := context.Background()
	v := NewVectorIndex(openTestActor(t))

	require.NoError(t, v.Add(ctx, "close", []float32{1, 0, 0}))
	require.NoError(t, v.Add(ctx, "far", []float32{0, 1, 0}))
	require.NoError(t, v.Add(ctx, "identical", []float32{1, 0, 0}))

	results := v.KNN([]float32{1, 0, 0}, 2)
	require.Len(t, results, 2)
	require.InDelta(t, 0, results[0].Distance, 1e-9)
	require.InDelta(t, 0, results[1].Distance, 1e-9)
}

func TestVectorIndexUpdateReplacesEmbedding(t *testing.T) {
	ctx := context.Background()
	v := NewVectorIndex(openTestActor(t))

	require.NoError(t, v.Add(ctx, "n1", []float32{1, 0, 0}))
	require.NoError(t, v.Update(ctx, "n1", []float32{0, 1, 0}))

	results := v.KNN([]float32{0, 1, 0}, 1)
	require.Len(t, results, 1)
	require.Equal(t, "n1", results[0].NoteID)
	require.InDelta(t, 0, results[0].Distance, 1e-9)
}

func TestVectorIndexDeleteCompacts(t *testing.T) {
	ctx := context.Background()
	v := NewVectorIndex(openTestActor(t))

	require.NoError(t, v.Add(ctx, "n1", []float32{1, 0, 0}))
	require.NoError(t, v.Add(ctx, "n2", []float32{0, 1, 0}))
	require.NoError(t, v.Add(ctx, "n3", []float32{0, 0, 1}))

	require.NoError(t, v.Delete(ctx, "n2"))

	results := v.KNN([]float32{0, 0, 1}, 3)
	require.Len(t, results, 2)
	ids := []string{results[0].NoteID, results[1].NoteID}
	require.ElementsMatch(t, []string{"n1", "n3"}, ids)
}

func TestVectorIndexLoadRestoresFromDisk(t *testing.T) {
	ctx := context.Background()
	actor := openTestActor(t)

	v := NewVectorIndex(actor)
	require.NoError(t, v.Add(ctx, "n1", []float32{0.5, 0.5, 0}))

	v2 := NewVectorIndex(actor)
	require.NoError(t, v2.Load(ctx))

	results := v2.KNN([]float32{0.5, 0.5, 0}, 1)
	require.Len(t, results, 1)
	require.Equal(t, "n1", results[0].NoteID)
}
