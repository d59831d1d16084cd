// Package changelog implements the append-only operation log every local
// mutation and every accepted remote operation is recorded into. It is the
// unit of exchange for synchronization: sync-up reads locally originated
// entries, sync-down appends remotely originated ones.
package changelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"noted/internal/store"
)

// Kind is the operation type recorded for a change.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Entry is a single change log row.
type Entry struct {
	OpID         string
	NoteID       string
	Kind         Kind
	Timestamp    time.Time
	DeviceID     string
	Payload      map[string]any
	LamportClock uint64
	OriginDevice string
}

// Log wraps the Persistence Actor with change-log-specific operations.
type Log struct {
	actor    *store.Actor
	deviceID string
}

func New(actor *store.Actor, deviceID string) *Log {
	return &Log{actor: actor, deviceID: deviceID}
}

// Append records a new operation, generating a fresh op_id. Any
// "embeddings" key in payload is stripped before persisting: embeddings are
// derived and recomputed on apply, never shipped over the wire or logged.
func (l *Log) Append(ctx context.Context, noteID string, kind Kind, payload map[string]any, lamport uint64, originDevice string) (string, error) {
	cleaned := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == "embeddings" {
			continue
		}
		cleaned[k] = v
	}
	encoded, err := json.Marshal(cleaned)
	if err != nil {
		return "", fmt.Errorf("changelog.Append: marshal payload: %w", err)
	}

	opID := uuid.NewString()
	_, err = l.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		_, err := tx.Exec(`INSERT INTO change_log
			(op_id, note_id, operation_type, timestamp, device_id, payload, lamport_clock, origin_device)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			opID, noteID, string(kind), time.Now().UTC().Format(time.RFC3339Nano), l.deviceID, encoded, lamport, originDevice)
		return nil, err
	}, true)
	if err != nil {
		return "", fmt.Errorf("changelog.Append: %w", err)
	}
	return opID, nil
}

// Exists reports whether an operation with this id has already been
// recorded, the basis of idempotent apply on the sync-down path.
func (l *Log) Exists(ctx context.Context, opID string) (bool, error) {
	val, err := l.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		row := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM change_log WHERE op_id = ?)`, opID)
		var exists int
		if err := row.Scan(&exists); err != nil {
			return nil, err
		}
		return exists != 0, nil
	}, true)
	if err != nil {
		return false, fmt.Errorf("changelog.Exists: %w", err)
	}
	return val.(bool), nil
}

// SinceLamport returns every entry with lamport_clock strictly greater
// than the given value, ascending. Used for sync-up: the caller filters to
// origin_device = self.
func (l *Log) SinceLamport(ctx context.Context, lamport uint64) ([]Entry, error) {
	return l.query(ctx, `SELECT op_id, note_id, operation_type, timestamp, device_id, payload, lamport_clock, origin_device
		FROM change_log WHERE lamport_clock > ? ORDER BY lamport_clock ASC`, lamport)
}

// SinceTimestamp returns every entry strictly newer than the given time,
// ascending by timestamp.
func (l *Log) SinceTimestamp(ctx context.Context, ts time.Time) ([]Entry, error) {
	return l.query(ctx, `SELECT op_id, note_id, operation_type, timestamp, device_id, payload, lamport_clock, origin_device
		FROM change_log WHERE timestamp > ? ORDER BY timestamp ASC`, ts.UTC().Format(time.RFC3339Nano))
}

func (l *Log) query(ctx context.Context, query string, arg any) ([]Entry, error) {
	val, err := l.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		rows, err := tx.Query(query, arg)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var entries []Entry
		for rows.Next() {
			var e Entry
			var kind, ts string
			var payload []byte
			if err := rows.Scan(&e.OpID, &e.NoteID, &kind, &ts, &e.DeviceID, &payload, &e.LamportClock, &e.OriginDevice); err != nil {
				return nil, err
			}
			e.Kind = Kind(kind)
			e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return nil, fmt.Errorf("parse timestamp: %w", err)
			}
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
			entries = append(entries, e)
		}
		return entries, rows.Err()
	}, true)
	if err != nil {
		return nil, err
	}
	return val.([]Entry), nil
}
