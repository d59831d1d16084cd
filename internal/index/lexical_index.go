package index

import (
	"context"
	"database/sql"
	"fmt"

	"noted/internal/store"
)

// LexicalIndex is a phrase/prefix full-text index backed by SQLite's
// FTS5 virtual table mechanism.
type LexicalIndex struct {
	actor *store.Actor
}

func NewLexicalIndex(actor *store.Actor) *LexicalIndex {
	return &LexicalIndex{actor: actor}
}

// IndexNote replaces the FTS5 row for noteID with the given title and
// contents.
func (i *LexicalIndex) IndexNote(ctx context.Context, noteID, title, contents string) error {
	_, err := i.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		if _, err := tx.Exec(`DELETE FROM lexical WHERE note_id = ?`, noteID); err != nil {
			return nil, err
		}
		_, err := tx.Exec(`INSERT INTO lexical (note_id, title, contents) VALUES (?, ?, ?)`, noteID, title, contents)
		return nil, err
	}, true)
	if err != nil {
		return fmt.Errorf("lexicalindex.IndexNote: %w", err)
	}
	return nil
}

// Delete removes the FTS5 row for noteID, if any.
func (i *LexicalIndex) Delete(ctx context.Context, noteID string) error {
	_, err := i.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		_, err := tx.Exec(`DELETE FROM lexical WHERE note_id = ?`, noteID)
		return nil, err
	}, true)
	if err != nil {
		return fmt.Errorf("lexicalindex.Delete: %w", err)
	}
	return nil
}

// Search runs an FTS5 MATCH query (supports phrase/prefix syntax) and
// returns the matching note ids.
func (i *LexicalIndex) Search(ctx context.Context, query string) ([]string, error) {
	val, err := i.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		rows, err := tx.Query(`SELECT note_id FROM lexical WHERE lexical MATCH ?`, query)
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
		return nil, fmt.Errorf("lexicalindex.Search: %w", err)
	}
	return val.([]string), nil
}
