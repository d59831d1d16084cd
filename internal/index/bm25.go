package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"noted/internal/notes"
)

// ScoredNote pairs a note id with its relevance score.
type ScoredNote struct {
	NoteID string
	Score  float64
}

// BM25Scorer scores notes against a tokenized query using Okapi BM25,
// ported formula-for-formula from the original lexical_search.
type BM25Scorer struct {
	notes   *notes.Repository
	lexical *LexicalIndex
	tokens  *TokenIndex
}

func NewBM25Scorer(notesRepo *notes.Repository, lexical *LexicalIndex, tokens *TokenIndex) *BM25Scorer {
	return &BM25Scorer{notes: notesRepo, lexical: lexical, tokens: tokens}
}

// Score scores every note that contains at least one token of the query,
// returning results sorted by descending score. k1 and b are the
// standard BM25 tuning constants (1.5 and 0.75 in the original).
func (s *BM25Scorer) Score(ctx context.Context, queryTokens []string, k1, b float64) ([]ScoredNote, error) {
	totalNotes, err := s.notes.CountNonDeleted(ctx)
	if err != nil {
		return nil, fmt.Errorf("bm25.Score: %w", err)
	}
	avgDocLen, err := s.tokens.AverageDocumentLength(ctx)
	if err != nil {
		return nil, fmt.Errorf("bm25.Score: %w", err)
	}
	if avgDocLen == 0 {
		return nil, nil
	}

	scores := make(map[string]float64)
	for _, token := range queryTokens {
		noteIDs, err := s.lexical.Search(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("bm25.Score: %w", err)
		}
		containing := float64(len(noteIDs))
		idf := math.Log((float64(totalNotes) - containing + 0.5) / (containing + 0.5))

		for _, noteID := range noteIDs {
			note, err := s.notes.Get(ctx, noteID)
			if err != nil {
				if err == notes.ErrNotFound {
					continue
				}
				return nil, fmt.Errorf("bm25.Score: %w", err)
			}

			tagWords := strings.ReplaceAll(note.Tags, ",", " ")
			document := note.Title + " " + note.Contents + " " + tagWords
			docLen := float64(len(strings.Split(document, " ")))

			tf, err := s.tokens.TermFrequency(ctx, noteID, token)
			if err != nil {
				return nil, fmt.Errorf("bm25.Score: %w", err)
			}
			localCount := float64(tf)

			termScore := localCount / (localCount + k1*(1-b+b*(docLen/avgDocLen)))
			scores[noteID] += termScore * idf
		}
	}

	results := make([]ScoredNote, 0, len(scores))
	for id, score := range scores {
		results = append(results, ScoredNote{NoteID: id, Score: score})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}
