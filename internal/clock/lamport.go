// Package clock implements the Lamport logical clock: a single
// monotonically non-decreasing integer, persisted through the Persistence
// Actor and advanced on every local mutation and every accepted remote
// operation.
package clock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"noted/internal/store"
)

// Lamport holds the in-memory authoritative value of the clock. The
// in-memory copy is the source of truth between persists; Persist writes
// it durably.
type Lamport struct {
	actor *store.Actor

	mu   sync.Mutex
	time uint64
}

func New(actor *store.Actor) *Lamport {
	return &Lamport{actor: actor}
}

// Initialize reads the persisted value, inserting 0 if none exists yet.
func (l *Lamport) Initialize(ctx context.Context) error {
	val, err := l.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		row := tx.QueryRow(`SELECT timestamp FROM lamport_clock`)
		var ts uint64
		switch err := row.Scan(&ts); err {
		case nil:
			return ts, nil
		case sql.ErrNoRows:
			if _, err := tx.Exec(`INSERT INTO lamport_clock(timestamp) VALUES (0)`); err != nil {
				return nil, fmt.Errorf("insert lamport_clock: %w", err)
			}
			return uint64(0), nil
		default:
			return nil, fmt.Errorf("select lamport_clock: %w", err)
		}
	}, true)
	if err != nil {
		return fmt.Errorf("clock.Initialize: %w", err)
	}

	l.mu.Lock()
	l.time = val.(uint64)
	l.mu.Unlock()
	return nil
}

// Tick advances the clock for a locally originated event: L <- L + 1.
func (l *Lamport) Tick() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.time++
	return l.time
}

// Observe advances the clock on receipt of a remote stamp:
// L <- max(L, remote) + 1.
func (l *Lamport) Observe(remote uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if remote > l.time {
		l.time = remote
	}
	l.time++
	return l.time
}

// Now returns the current clock value without advancing it.
func (l *Lamport) Now() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.time
}

// Persist writes the current in-memory value durably.
func (l *Lamport) Persist(ctx context.Context) error {
	l.mu.Lock()
	ts := l.time
	l.mu.Unlock()

	_, err := l.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		if _, err := tx.Exec(`DELETE FROM lamport_clock`); err != nil {
			return nil, err
		}
		_, err := tx.Exec(`INSERT INTO lamport_clock(timestamp) VALUES (?)`, ts)
		return nil, err
	}, true)
	if err != nil {
		return fmt.Errorf("clock.Persist: %w", err)
	}
	return nil
}
