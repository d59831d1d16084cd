package clock

import (
	"context"
	"path/filepath"
	"testing"

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

func TestInitializeStartsAtZero(t *testing.T) {
	actor := openTestActor(t)
	c := New(actor)
	require.NoError(t, c.Initialize(context.Background()))
	require.Equal(t, uint64(0), c.Now())
}

func TestTickIsMonotonic(t *testing.T) {
	actor := openTestActor(t)
	c := New(actor)
	require.NoError(t, c.Initialize(context.Background()))

	require.Equal(t, uint64(1), c.Tick())
	require.Equal(t, uint64(2), c.Tick())
	require.Equal(t, uint64(2), c.Now())
}

func TestObserveTakesMaxThenIncrements(t *testing.T) {
	actor := openTestActor(t)
	c := New(actor)
	require.NoError(t, c.Initialize(context.Background()))

	c.Tick() // local = 1
	require.Equal(t, uint64(6), c.Observe(5))
	require.Equal(t, uint64(7), c.Observe(1)) // remote behind local: max(6,1)+1
}

func TestPersistSurvivesReload(t *testing.T) {
	ctx := context.Background()
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	path := filepath.Join(t.TempDir(), "noted.db")

	a, err := store.Open(path, l)
	require.NoError(t, err)

	c := New(a)
	require.NoError(t, c.Initialize(ctx))
	c.Tick()
	c.Tick()
	c.Tick()
	require.NoError(t, c.Persist(ctx))
	require.NoError(t, a.Close())

	a2, err := store.Open(path, l)
	require.NoError(t, err)
	t.Cleanup(func() { a2.Close() })

	c2 := New(a2)
	require.NoError(t, c2.Initialize(ctx))
	require.Equal(t, uint64(3), c2.Now())
}
