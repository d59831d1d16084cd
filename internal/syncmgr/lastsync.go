package syncmgr

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"noted/internal/store"
)

const timeLayout = time.RFC3339Nano

// lastSync tracks the single-row "last time sync-down processed a new
// remote operation" timestamp (stamped whether that operation was applied,
// queued, or skipped with a warning), ported from sync_manager.py's
// create_last_sync_table/get_last_sync/update_last_sync.
type lastSync struct {
	actor *store.Actor
}

func newLastSync(actor *store.Actor) *lastSync {
	return &lastSync{actor: actor}
}

// Get returns the persisted timestamp, initializing it to now on first
// call.
func (l *lastSync) Get(ctx context.Context) (time.Time, error) {
	val, err := l.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		row := tx.QueryRow(`SELECT last_updated FROM last_sync WHERE id = 1`)
		var ts string
		switch err := row.Scan(&ts); err {
		case nil:
			return ts, nil
		case sql.ErrNoRows:
			now := time.Now().UTC().Format(timeLayout)
			if _, err := tx.Exec(`INSERT INTO last_sync (id, last_updated) VALUES (1, ?)`, now); err != nil {
				return nil, err
			}
			return now, nil
		default:
			return nil, err
		}
	}, true)
	if err != nil {
		return time.Time{}, fmt.Errorf("lastsync.Get: %w", err)
	}
	ts, err := time.Parse(timeLayout, val.(string))
	if err != nil {
		return time.Time{}, fmt.Errorf("lastsync.Get: parse: %w", err)
	}
	return ts, nil
}

// Touch stamps last_sync with the current time.
func (l *lastSync) Touch(ctx context.Context) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := l.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		res, err := tx.Exec(`UPDATE last_sync SET last_updated = ? WHERE id = 1`, now)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			_, err := tx.Exec(`INSERT INTO last_sync (id, last_updated) VALUES (1, ?)`, now)
			return nil, err
		}
		return nil, nil
	}, true)
	if err != nil {
		return fmt.Errorf("lastsync.Touch: %w", err)
	}
	return nil
}
