// Package index implements the three derived search indexes: the token
// index backing BM25 lexical scoring, the FTS5 full-text index backing
// phrase/prefix lexical search, and the flat in-memory vector index
// backing semantic nearest-neighbour search. All three are rebuildable
// from the notes table and are never treated as sources of truth.
package index

import (
	"context"
	"database/sql"
	"fmt"

	"noted/internal/store"
)

// TokenIndex tracks per-note token frequencies for BM25 scoring.
type TokenIndex struct {
	actor *store.Actor
}

func NewTokenIndex(actor *store.Actor) *TokenIndex {
	return &TokenIndex{actor: actor}
}

// IndexNote tokenizes "title contents tags" and replaces every token row
// for this note with the freshly computed counts.
func (i *TokenIndex) IndexNote(ctx context.Context, noteID, title, contents, tags string) error {
	counts := Count(Tokenize(title + " " + contents + " " + tags))

	_, err := i.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		if _, err := tx.Exec(`DELETE FROM tokens WHERE note_id = ?`, noteID); err != nil {
			return nil, err
		}
		stmt, err := tx.Prepare(`INSERT INTO tokens (note_id, token, count) VALUES (?, ?, ?)`)
		if err != nil {
			return nil, err
		}
		defer stmt.Close()
		for token, count := range counts {
			if _, err := stmt.Exec(noteID, token, count); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}, true)
	if err != nil {
		return fmt.Errorf("tokenindex.IndexNote: %w", err)
	}
	return nil
}

// DeleteNote removes every token row for this note.
func (i *TokenIndex) DeleteNote(ctx context.Context, noteID string) error {
	_, err := i.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		_, err := tx.Exec(`DELETE FROM tokens WHERE note_id = ?`, noteID)
		return nil, err
	}, true)
	if err != nil {
		return fmt.Errorf("tokenindex.DeleteNote: %w", err)
	}
	return nil
}

// AverageDocumentLength returns the average token count per note across
// the whole index.
func (i *TokenIndex) AverageDocumentLength(ctx context.Context) (float64, error) {
	val, err := i.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		row := tx.QueryRow(`SELECT AVG(doc_len) FROM (SELECT SUM(count) AS doc_len FROM tokens GROUP BY note_id)`)
		var avg sql.NullFloat64
		if err := row.Scan(&avg); err != nil {
			return nil, err
		}
		return avg.Float64, nil
	}, true)
	if err != nil {
		return 0, fmt.Errorf("tokenindex.AverageDocumentLength: %w", err)
	}
	return val.(float64), nil
}

// TermFrequency returns how many times token appears in noteID, 0 if
// never indexed.
func (i *TokenIndex) TermFrequency(ctx context.Context, noteID, token string) (int, error) {
	val, err := i.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		row := tx.QueryRow(`SELECT count FROM tokens WHERE note_id = ? AND token = ?`, noteID, token)
		var count int
		switch err := row.Scan(&count); err {
		case nil:
			return count, nil
		case sql.ErrNoRows:
			return 0, nil
		default:
			return nil, err
		}
	}, true)
	if err != nil {
		return 0, fmt.Errorf("tokenindex.TermFrequency: %w", err)
	}
	return val.(int), nil
}

// NotesContainingToken returns the distinct note ids that contain token.
func (i *TokenIndex) NotesContainingToken(ctx context.Context, token string) ([]string, error) {
	val, err := i.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		rows, err := tx.Query(`SELECT DISTINCT note_id FROM tokens WHERE token = ?`, token)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, rows.Err()
	}, true)
	if err != nil {
		return nil, fmt.Errorf("tokenindex.NotesContainingToken: %w", err)
	}
	return val.([]string), nil
}
