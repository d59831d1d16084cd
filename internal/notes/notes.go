// Package notes implements the authoritative note table: the only place a
// note's content ever lives. Every write recomputes the note's content
// hash from the post-image and stamps last_updated.
package notes

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"noted/internal/hashing"
	"noted/internal/store"
)

const timeLayout = time.RFC3339Nano

// Note is a single row of the notes table.
type Note struct {
	UUID        string
	Title       string
	Contents    string
	CreatedAt   time.Time
	LastUpdated time.Time
	Embedding   []byte
	Tags        string
	Deleted     bool
	ContentHash string
}

// Repository is the Notes Repository.
type Repository struct {
	actor *store.Actor
}

func New(actor *store.Actor) *Repository {
	return &Repository{actor: actor}
}

// Create creates a new note with a freshly generated uuid, used for
// locally originated creates. It returns the stored note.
func (r *Repository) Create(ctx context.Context, title, contents, tags string, embedding []byte) (Note, error) {
	now := time.Now().UTC()
	n := Note{
		UUID:        uuid.NewString(),
		Title:       title,
		Contents:    contents,
		CreatedAt:   now,
		LastUpdated: now,
		Embedding:   embedding,
		Tags:        tags,
		Deleted:     false,
	}
	n.ContentHash = hashing.ComputeNoteHash(n.Title, n.Contents, n.Tags, n.Embedding, n.Deleted)

	_, err := r.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		_, err := tx.Exec(`INSERT INTO notes
			(uuid, title, contents, created_at, last_updated, embeddings, tags, deleted, note_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			n.UUID, n.Title, n.Contents, n.CreatedAt.Format(timeLayout), n.LastUpdated.Format(timeLayout),
			n.Embedding, n.Tags, n.ContentHash)
		return nil, err
	}, true)
	if err != nil {
		return Note{}, fmt.Errorf("notes.Create: %w", err)
	}
	return n, nil
}

// Insert creates a note with an externally chosen uuid and timestamps,
// used by the apply path when reconciling a remote "create" operation.
func (r *Repository) Insert(ctx context.Context, id, title, contents, tags string, createdAt, lastUpdated time.Time, embedding []byte) error {
	hash := hashing.ComputeNoteHash(title, contents, tags, embedding, false)

	_, err := r.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		_, err := tx.Exec(`INSERT INTO notes
			(uuid, title, contents, created_at, last_updated, embeddings, tags, deleted, note_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			id, title, contents, createdAt.Format(timeLayout), lastUpdated.Format(timeLayout), embedding, tags, hash)
		return nil, err
	}, true)
	if err != nil {
		return fmt.Errorf("notes.Insert: %w", err)
	}
	return nil
}

// Update applies a partial update: any nil field pointer means "unchanged".
// Tombstoned notes are still mutable here (§9 "delete-then-update": the
// content hash recomputes, but the caller is responsible for never
// clearing the tombstone through this path).
func (r *Repository) Update(ctx context.Context, id string, title, contents, tags *string, embedding []byte) (Note, error) {
	val, err := r.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		n, err := scanNote(tx.QueryRow(`SELECT uuid, title, contents, created_at, last_updated, embeddings, tags, deleted, note_hash FROM notes WHERE uuid = ?`, id))
		if err != nil {
			return nil, err
		}

		if title != nil {
			n.Title = *title
		}
		if contents != nil {
			n.Contents = *contents
		}
		if tags != nil {
			n.Tags = *tags
		}
		if embedding != nil {
			n.Embedding = embedding
		}
		n.LastUpdated = time.Now().UTC()
		n.ContentHash = hashing.ComputeNoteHash(n.Title, n.Contents, n.Tags, n.Embedding, n.Deleted)

		_, err = tx.Exec(`UPDATE notes SET title = ?, contents = ?, tags = ?, embeddings = ?, last_updated = ?, note_hash = ?
			WHERE uuid = ?`,
			n.Title, n.Contents, n.Tags, n.Embedding, n.LastUpdated.Format(timeLayout), n.ContentHash, id)
		if err != nil {
			return nil, err
		}
		return n, nil
	}, true)
	if err != nil {
		if err == sql.ErrNoRows {
			return Note{}, ErrNotFound
		}
		return Note{}, fmt.Errorf("notes.Update: %w", err)
	}
	return val.(Note), nil
}

// ErrNotFound is returned when an operation targets a uuid that does not
// exist locally.
var ErrNotFound = fmt.Errorf("note not found")

// MarkDeleted tombstones a note. Idempotent: marking an already-deleted
// note deleted again recomputes the hash (deleted stays true) and is a
// no-op in effect.
func (r *Repository) MarkDeleted(ctx context.Context, id string) error {
	_, err := r.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		n, err := scanNote(tx.QueryRow(`SELECT uuid, title, contents, created_at, last_updated, embeddings, tags, deleted, note_hash FROM notes WHERE uuid = ?`, id))
		if err != nil {
			return nil, err
		}
		n.Deleted = true
		n.LastUpdated = time.Now().UTC()
		n.ContentHash = hashing.ComputeNoteHash(n.Title, n.Contents, n.Tags, n.Embedding, true)

		_, err = tx.Exec(`UPDATE notes SET deleted = 1, note_hash = ?, last_updated = ? WHERE uuid = ?`,
			n.ContentHash, n.LastUpdated.Format(timeLayout), id)
		return nil, err
	}, true)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("notes.MarkDeleted: %w", err)
	}
	return nil
}

// Get returns a single note by uuid, including tombstones.
func (r *Repository) Get(ctx context.Context, id string) (Note, error) {
	val, err := r.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		return scanNote(tx.QueryRow(`SELECT uuid, title, contents, created_at, last_updated, embeddings, tags, deleted, note_hash FROM notes WHERE uuid = ?`, id))
	}, true)
	if err != nil {
		if err == sql.ErrNoRows {
			return Note{}, ErrNotFound
		}
		return Note{}, fmt.Errorf("notes.Get: %w", err)
	}
	return val.(Note), nil
}

// Exists reports whether a note with this uuid exists locally.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.Get(ctx, id)
	if err == nil {
		return true, nil
	}
	if err == ErrNotFound {
		return false, nil
	}
	return false, err
}

// List returns every note, optionally including tombstones.
func (r *Repository) List(ctx context.Context, includeDeleted bool) ([]Note, error) {
	val, err := r.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		query := `SELECT uuid, title, contents, created_at, last_updated, embeddings, tags, deleted, note_hash FROM notes`
		if !includeDeleted {
			query += ` WHERE deleted = 0`
		}
		rows, err := tx.Query(query)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var notes []Note
		for rows.Next() {
			n, err := scanNote(rows)
			if err != nil {
				return nil, err
			}
			notes = append(notes, n)
		}
		return notes, rows.Err()
	}, true)
	if err != nil {
		return nil, fmt.Errorf("notes.List: %w", err)
	}
	return val.([]Note), nil
}

// CountNonDeleted returns the number of notes that are not tombstoned,
// used as the document count term in BM25 scoring.
func (r *Repository) CountNonDeleted(ctx context.Context) (int, error) {
	val, err := r.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		row := tx.QueryRow(`SELECT COUNT(*) FROM notes WHERE deleted = 0`)
		var n int
		if err := row.Scan(&n); err != nil {
			return nil, err
		}
		return n, nil
	}, true)
	if err != nil {
		return 0, fmt.Errorf("notes.CountNonDeleted: %w", err)
	}
	return val.(int), nil
}

// scanner abstracts *sql.Row and *sql.Rows, both of which expose Scan.
type scanner interface {
	Scan(dest ...any) error
}

func scanNote(s scanner) (Note, error) {
	var n Note
	var createdAt, lastUpdated string
	var deleted int
	if err := s.Scan(&n.UUID, &n.Title, &n.Contents, &createdAt, &lastUpdated, &n.Embedding, &n.Tags, &deleted, &n.ContentHash); err != nil {
		return Note{}, err
	}
	n.Deleted = deleted != 0

	var err error
	n.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return Note{}, fmt.Errorf("parse created_at: %w", err)
	}
	n.LastUpdated, err = time.Parse(timeLayout, lastUpdated)
	if err != nil {
		return Note{}, fmt.Errorf("parse last_updated: %w", err)
	}
	return n, nil
}
