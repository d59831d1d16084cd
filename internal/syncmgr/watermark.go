package syncmgr

import (
	"context"
	"database/sql"
	"fmt"

	"noted/internal/store"
)

// watermarks tracks, per peer, the highest Lamport timestamp of an
// operation we know to have been successfully delivered to that peer.
type watermarks struct {
	actor *store.Actor
}

func newWatermarks(actor *store.Actor) *watermarks {
	return &watermarks{actor: actor}
}

// Get returns the watermark for peerID, 0 if none recorded yet.
func (w *watermarks) Get(ctx context.Context, peerID string) (uint64, error) {
	val, err := w.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		row := tx.QueryRow(`SELECT last_lamport FROM last_lamport_sync WHERE peer_device_id = ?`, peerID)
		var lamport uint64
		switch err := row.Scan(&lamport); err {
		case nil:
			return lamport, nil
		case sql.ErrNoRows:
			return uint64(0), nil
		default:
			return nil, err
		}
	}, true)
	if err != nil {
		return 0, fmt.Errorf("watermarks.Get: %w", err)
	}
	return val.(uint64), nil
}

// Advance sets peerID's watermark to max(current, lamport).
func (w *watermarks) Advance(ctx context.Context, peerID string, lamport uint64) error {
	_, err := w.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		row := tx.QueryRow(`SELECT last_lamport FROM last_lamport_sync WHERE peer_device_id = ?`, peerID)
		var current uint64
		switch err := row.Scan(&current); err {
		case nil:
		case sql.ErrNoRows:
			current = 0
		default:
			return nil, err
		}
		if lamport <= current {
			return nil, nil
		}
		_, err := tx.Exec(`REPLACE INTO last_lamport_sync (peer_device_id, last_lamport) VALUES (?, ?)`, peerID, lamport)
		return nil, err
	}, true)
	if err != nil {
		return fmt.Errorf("watermarks.Advance: %w", err)
	}
	return nil
}
