package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func openTestActor(t *testing.T) *Actor {
	t.Helper()
	path := filepath.Join(t.TempDir(), "noted.db")
	a, err := Open(path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSubmitWaitReturnsResult(t *testing.T) {
	a := openTestActor(t)

	_, err := a.Submit(context.Background(), func(tx *sql.Tx) (any, error) {
		_, err := tx.Exec("INSERT INTO device_id(uuid) VALUES (?)", "device-1")
		return nil, err
	}, true)
	require.NoError(t, err)

	val, err := a.Submit(context.Background(), func(tx *sql.Tx) (any, error) {
		row := tx.QueryRow("SELECT uuid FROM device_id")
		var id string
		if err := row.Scan(&id); err != nil {
			return nil, err
		}
		return id, nil
	}, true)
	require.NoError(t, err)
	require.Equal(t, "device-1", val)
}

func TestSubmitNoWaitDoesNotBlock(t *testing.T) {
	a := openTestActor(t)

	_, err := a.Submit(context.Background(), func(tx *sql.Tx) (any, error) {
		_, err := tx.Exec("INSERT INTO device_name(name) VALUES (?)", "laptop")
		return nil, err
	}, false)
	require.NoError(t, err)

	// Fire a waited no-op job to act as a barrier: since the queue is
	// FIFO, once this returns the unwaited job above has also completed.
	_, err = a.Submit(context.Background(), func(tx *sql.Tx) (any, error) {
		return nil, nil
	}, true)
	require.NoError(t, err)

	val, err := a.Submit(context.Background(), func(tx *sql.Tx) (any, error) {
		row := tx.QueryRow("SELECT name FROM device_name")
		var name string
		if err := row.Scan(&name); err != nil {
			return nil, err
		}
		return name, nil
	}, true)
	require.NoError(t, err)
	require.Equal(t, "laptop", val)
}

func TestSubmitWaitSurfacesJobError(t *testing.T) {
	a := openTestActor(t)

	_, err := a.Submit(context.Background(), func(tx *sql.Tx) (any, error) {
		_, err := tx.Exec("INSERT INTO nonexistent_table(x) VALUES (1)")
		return nil, err
	}, true)
	require.Error(t, err)
}

func TestActorJobFailureDoesNotKillActor(t *testing.T) {
	a := openTestActor(t)

	_, _ = a.Submit(context.Background(), func(tx *sql.Tx) (any, error) {
		_, err := tx.Exec("INSERT INTO nonexistent_table(x) VALUES (1)")
		return nil, err
	}, true)

	// The actor must still be alive and servicing jobs after a failure.
	_, err := a.Submit(context.Background(), func(tx *sql.Tx) (any, error) {
		_, err := tx.Exec("INSERT INTO device_id(uuid) VALUES (?)", "device-2")
		return nil, err
	}, true)
	require.NoError(t, err)
}
