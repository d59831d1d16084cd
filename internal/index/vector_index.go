package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"noted/internal/store"
)

// VectorIndex is a brute-force flat nearest-neighbour index over note
// embeddings. Brute-force cosine distance is sufficient at the scale a
// single-user local note store reaches; the index is rebuildable from the
// notes table (re-embed, re-add) so durability here is an optimization,
// not a requirement.
type VectorIndex struct {
	actor *store.Actor

	mu      sync.RWMutex
	vecs    [][]float32 // dense, compacted on delete
	ids     []string    // vecs[i] belongs to ids[i]
	posByID map[string]int
}

func NewVectorIndex(actor *store.Actor) *VectorIndex {
	return &VectorIndex{actor: actor, posByID: make(map[string]int)}
}

// vectorRow is one decoded row of the durable vectors table.
type vectorRow struct {
	id  string
	vec []float32
}

// Load populates the in-memory index from the durable vectors table. Call
// once at startup.
func (v *VectorIndex) Load(ctx context.Context) error {
	val, err := v.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		dbRows, err := tx.Query(`SELECT note_id, vector FROM vectors`)
		if err != nil {
			return nil, err
		}
		defer dbRows.Close()

		var out []vectorRow
		for dbRows.Next() {
			var id string
			var raw []byte
			if err := dbRows.Scan(&id, &raw); err != nil {
				return nil, err
			}
			out = append(out, vectorRow{id: id, vec: DecodeVector(raw)})
		}
		return out, dbRows.Err()
	}, true)
	if err != nil {
		return fmt.Errorf("vectorindex.Load: %w", err)
	}

	rows := val.([]vectorRow)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.vecs = make([][]float32, 0, len(rows))
	v.ids = make([]string, 0, len(rows))
	v.posByID = make(map[string]int, len(rows))
	for _, r := range rows {
		v.posByID[r.id] = len(v.vecs)
		v.vecs = append(v.vecs, r.vec)
		v.ids = append(v.ids, r.id)
	}
	return nil
}

// Add inserts or replaces the embedding for noteID.
func (v *VectorIndex) Add(ctx context.Context, noteID string, vec []float32) error {
	_, err := v.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		if _, err := tx.Exec(`DELETE FROM vectors WHERE note_id = ?`, noteID); err != nil {
			return nil, err
		}
		_, err := tx.Exec(`INSERT INTO vectors (note_id, vector) VALUES (?, ?)`, noteID, EncodeVector(vec))
		return nil, err
	}, true)
	if err != nil {
		return fmt.Errorf("vectorindex.Add: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if pos, ok := v.posByID[noteID]; ok {
		v.vecs[pos] = vec
		return nil
	}
	v.posByID[noteID] = len(v.vecs)
	v.vecs = append(v.vecs, vec)
	v.ids = append(v.ids, noteID)
	return nil
}

// Update is an alias for Add: both replace the embedding wholesale.
func (v *VectorIndex) Update(ctx context.Context, noteID string, vec []float32) error {
	return v.Add(ctx, noteID, vec)
}

// Delete removes noteID's embedding, compacting the backing slices.
func (v *VectorIndex) Delete(ctx context.Context, noteID string) error {
	_, err := v.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		_, err := tx.Exec(`DELETE FROM vectors WHERE note_id = ?`, noteID)
		return nil, err
	}, true)
	if err != nil {
		return fmt.Errorf("vectorindex.Delete: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	pos, ok := v.posByID[noteID]
	if !ok {
		return nil
	}
	last := len(v.vecs) - 1
	v.vecs[pos] = v.vecs[last]
	v.ids[pos] = v.ids[last]
	v.posByID[v.ids[pos]] = pos
	v.vecs = v.vecs[:last]
	v.ids = v.ids[:last]
	delete(v.posByID, noteID)
	return nil
}

// Neighbour is a single KNN result.
type Neighbour struct {
	NoteID   string
	Distance float64
}

// KNN returns the k nearest neighbours to query by cosine distance
// (1 - cosine similarity), ascending.
func (v *VectorIndex) KNN(query []float32, k int) []Neighbour {
	v.mu.RLock()
	defer v.mu.RUnlock()

	results := make([]Neighbour, 0, len(v.vecs))
	for i, vec := range v.vecs {
		results = append(results, Neighbour{NoteID: v.ids[i], Distance: cosineDistance(query, vec)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if k < len(results) {
		results = results[:k]
	}
	return results
}

func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return 1 - similarity
}

// EncodeVector serializes a float32 embedding as little-endian bytes,
// the canonical on-disk representation shared by the vector index and
// the notes table's embeddings column.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(raw []byte) []float32 {
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec
}
