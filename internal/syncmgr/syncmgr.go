// Package syncmgr implements the convergence driver: sync-up batches
// locally originated operations out to each registered peer, and sync-down
// applies inbound batches idempotently against the Notes Repository,
// Change Log, and derived indexes. Ported from sync_manager.py's
// sync_up/sync_down pair, generalized from its single-server push/pull
// model to the full-replication-to-every-peer model this spec requires.
package syncmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"noted/internal/changelog"
	"noted/internal/clock"
	"noted/internal/index"
	"noted/internal/notes"
	"noted/internal/store"
	"noted/internal/transport"
)

// DefaultBatchSize is the default sync-up batch size, B=50 per spec.
const DefaultBatchSize = 50

// Embedder recomputes the embedding for a note's searchable text. The
// embedding oracle's internal algorithm is out of scope; callers supply
// whatever concrete implementation talks to it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Manager is the Sync Manager.
type Manager struct {
	deviceID  string
	batchSize int

	notes     *notes.Repository
	changelog *changelog.Log
	clock     *clock.Lamport
	transport *transport.Transport
	tokens    *index.TokenIndex
	lexical   *index.LexicalIndex
	vectors   *index.VectorIndex
	embedder  Embedder

	watermarks *watermarks
	lastSync   *lastSync
	pending    *pendingQueue

	log *logrus.Entry
}

// New constructs the Sync Manager and registers its inbound-delivery
// callback with the given Transport. The Transport is otherwise unaware
// of the Sync Manager: this one-directional registration is how the two
// components avoid a true cyclic dependency while still exchanging
// inbound batches.
func New(
	actor *store.Actor,
	deviceID string,
	notesRepo *notes.Repository,
	changeLog *changelog.Log,
	lamport *clock.Lamport,
	tr *transport.Transport,
	tokens *index.TokenIndex,
	lexical *index.LexicalIndex,
	vectors *index.VectorIndex,
	embedder Embedder,
	log *logrus.Logger,
) *Manager {
	m := &Manager{
		deviceID:   deviceID,
		batchSize:  DefaultBatchSize,
		notes:      notesRepo,
		changelog:  changeLog,
		clock:      lamport,
		transport:  tr,
		tokens:     tokens,
		lexical:    lexical,
		vectors:    vectors,
		embedder:   embedder,
		watermarks: newWatermarks(actor),
		lastSync:   newLastSync(actor),
		pending:    newPendingQueue(),
		log:        log.WithField("component", "syncmgr"),
	}
	tr.RegisterHandler(m.handleInbound)
	return m
}

// EmbedderHandle returns the configured embedding oracle, for callers (e.g. the
// CLI's semantic search) that need to embed a query string themselves.
func (m *Manager) EmbedderHandle() Embedder {
	return m.embedder
}

// SetBatchSize overrides the sync-up batch size (default DefaultBatchSize).
func (m *Manager) SetBatchSize(n int) {
	if n > 0 {
		m.batchSize = n
	}
}

// Sync runs a sync-up cycle against every registered peer. Sync-down is
// not driven from here: it runs whenever the Transport's inbound handler
// delivers a batch, which may happen at any time, independent of this call.
func (m *Manager) Sync(ctx context.Context) error {
	m.SyncUp(ctx)
	return nil
}

// SyncUp sends every locally originated operation not yet acknowledged by
// each registered peer, advancing that peer's watermark only if every
// batch sent to it succeeds. Peers are synced concurrently, one goroutine
// each, since a slow or unreachable peer must never hold up the others.
func (m *Manager) SyncUp(ctx context.Context) {
	peers := m.transport.Peers()
	var wg sync.WaitGroup
	wg.Add(len(peers))
	for _, peer := range peers {
		go func(peerID string) {
			defer wg.Done()
			if err := m.syncUpToPeer(ctx, peerID); err != nil {
				m.log.WithError(err).WithField("peer", peerID).Warn("sync-up failed, watermark not advanced")
			}
		}(peer.DeviceID)
	}
	wg.Wait()
}

func (m *Manager) syncUpToPeer(ctx context.Context, peerID string) error {
	watermark, err := m.watermarks.Get(ctx, peerID)
	if err != nil {
		return err
	}

	entries, err := m.changelog.SinceLamport(ctx, watermark)
	if err != nil {
		return err
	}

	var ours []changelog.Entry
	for _, e := range entries {
		if e.OriginDevice == m.deviceID {
			ours = append(ours, e)
		}
	}
	if len(ours) == 0 {
		return nil
	}

	var maxSent uint64
	for start := 0; start < len(ours); start += m.batchSize {
		end := start + m.batchSize
		if end > len(ours) {
			end = len(ours)
		}
		batch := ours[start:end]

		records := make([]transport.OperationRecord, 0, len(batch))
		for _, e := range batch {
			payload, err := json.Marshal(e.Payload)
			if err != nil {
				return fmt.Errorf("marshal payload for %s: %w", e.OpID, err)
			}
			records = append(records, transport.OperationRecord{
				OpID:         e.OpID,
				NoteID:       e.NoteID,
				Kind:         string(e.Kind),
				Timestamp:    e.Timestamp,
				DeviceID:     e.DeviceID,
				PayloadJSON:  payload,
				LamportClock: e.LamportClock,
				OriginDevice: e.OriginDevice,
			})
			if e.LamportClock > maxSent {
				maxSent = e.LamportClock
			}
		}

		if err := m.transport.Push(ctx, peerID, records); err != nil {
			return fmt.Errorf("push batch to %s: %w", peerID, err)
		}
	}

	return m.watermarks.Advance(ctx, peerID, maxSent)
}

// handleInbound is the Transport's registered message handler: it applies
// an inbound batch of operations in Lamport order.
func (m *Manager) handleInbound(fromDeviceID string, batch []transport.OperationRecord) {
	ctx := context.Background()

	ops := make([]incomingOp, 0, len(batch))
	for _, rec := range batch {
		var payload map[string]any
		if len(rec.PayloadJSON) > 0 {
			if err := json.Unmarshal(rec.PayloadJSON, &payload); err != nil {
				m.log.WithError(err).WithField("op_id", rec.OpID).Warn("could not decode payload, skipping operation")
				continue
			}
		}
		ops = append(ops, incomingOp{
			OpID:         rec.OpID,
			NoteID:       rec.NoteID,
			Kind:         changelog.Kind(rec.Kind),
			Lamport:      rec.LamportClock,
			OriginDevice: rec.OriginDevice,
			Payload:      payload,
		})
	}

	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Lamport != ops[j].Lamport {
			return ops[i].Lamport < ops[j].Lamport
		}
		return ops[i].OpID < ops[j].OpID
	})

	for _, op := range ops {
		m.applyOne(ctx, op)
	}
}

func (m *Manager) applyOne(ctx context.Context, op incomingOp) {
	exists, err := m.changelog.Exists(ctx, op.OpID)
	if err != nil {
		m.log.WithError(err).WithField("op_id", op.OpID).Error("check op existence")
		return
	}
	if exists {
		return
	}

	m.clock.Observe(op.Lamport)
	if err := m.clock.Persist(ctx); err != nil {
		m.log.WithError(err).Error("persist lamport clock")
	}

	switch op.Kind {
	case changelog.KindCreate:
		m.applyCreate(ctx, op)
	case changelog.KindUpdate:
		m.applyUpdate(ctx, op)
	case changelog.KindDelete:
		m.applyDelete(ctx, op)
	default:
		m.log.WithField("kind", op.Kind).Warn("unknown operation kind, skipping")
		return
	}

	if err := m.lastSync.Touch(ctx); err != nil {
		m.log.WithError(err).Warn("touch last_sync")
	}

	// A create may unblock updates/deletes that arrived earlier in this
	// same batch, or an earlier sync-down call, but were queued because
	// their note didn't exist yet.
	if op.Kind == changelog.KindCreate {
		for _, queued := range m.pending.drain(op.NoteID) {
			m.applyOne(ctx, queued)
		}
	}
}

func payloadString(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (m *Manager) applyCreate(ctx context.Context, op incomingOp) {
	exists, err := m.notes.Exists(ctx, op.NoteID)
	if err != nil {
		m.log.WithError(err).WithField("note_id", op.NoteID).Error("check note existence")
		return
	}
	if exists {
		m.log.WithField("note_id", op.NoteID).Warn("could not create note: a note with this id already exists")
		return
	}

	title, _ := payloadString(op.Payload, "title")
	contents, _ := payloadString(op.Payload, "contents")
	tags, _ := payloadString(op.Payload, "tags")
	createdAt := parseTimeField(op.Payload, "created_at")
	lastUpdated := parseTimeField(op.Payload, "last_updated")

	embedding, err := m.embedder.Embed(ctx, strings.Join([]string{title, contents, tags}, " "))
	if err != nil {
		m.log.WithError(err).WithField("note_id", op.NoteID).Error("embed note, continuing without embedding")
	}

	if err := m.notes.Insert(ctx, op.NoteID, title, contents, tags, createdAt, lastUpdated, encodeEmbedding(embedding)); err != nil {
		m.log.WithError(err).WithField("note_id", op.NoteID).Error("insert remote note")
		return
	}

	m.reindex(ctx, op.NoteID, title, contents, tags, embedding)

	if _, err := m.changelog.Append(ctx, op.NoteID, changelog.KindCreate, op.Payload, m.clock.Now(), op.OriginDevice); err != nil {
		m.log.WithError(err).Error("append create to change log")
	}
}

func (m *Manager) applyUpdate(ctx context.Context, op incomingOp) {
	n, err := m.notes.Get(ctx, op.NoteID)
	if err != nil {
		if err == notes.ErrNotFound {
			m.log.WithField("note_id", op.NoteID).Warn("could not update note: it does not exist locally yet, queuing")
			m.pending.add(op)
			return
		}
		m.log.WithError(err).WithField("note_id", op.NoteID).Error("get note for update")
		return
	}

	title, hasTitle := payloadString(op.Payload, "title")
	contents, hasContents := payloadString(op.Payload, "contents")
	tags, hasTags := payloadString(op.Payload, "tags")

	var titlePtr, contentsPtr, tagsPtr *string
	if hasTitle {
		titlePtr = &title
	}
	if hasContents {
		contentsPtr = &contents
	}
	if hasTags {
		tagsPtr = &tags
	}

	effectiveTitle, effectiveContents, effectiveTags := n.Title, n.Contents, n.Tags
	if hasTitle {
		effectiveTitle = title
	}
	if hasContents {
		effectiveContents = contents
	}
	if hasTags {
		effectiveTags = tags
	}

	embedding, err := m.embedder.Embed(ctx, strings.Join([]string{effectiveTitle, effectiveContents, effectiveTags}, " "))
	if err != nil {
		m.log.WithError(err).WithField("note_id", op.NoteID).Error("embed updated note, continuing without embedding")
	}

	if _, err := m.notes.Update(ctx, op.NoteID, titlePtr, contentsPtr, tagsPtr, encodeEmbedding(embedding)); err != nil {
		m.log.WithError(err).WithField("note_id", op.NoteID).Error("apply remote update")
		return
	}

	m.reindex(ctx, op.NoteID, effectiveTitle, effectiveContents, effectiveTags, embedding)

	if _, err := m.changelog.Append(ctx, op.NoteID, changelog.KindUpdate, op.Payload, m.clock.Now(), op.OriginDevice); err != nil {
		m.log.WithError(err).Error("append update to change log")
	}
}

func (m *Manager) applyDelete(ctx context.Context, op incomingOp) {
	exists, err := m.notes.Exists(ctx, op.NoteID)
	if err != nil {
		m.log.WithError(err).WithField("note_id", op.NoteID).Error("check note existence for delete")
		return
	}
	if !exists {
		m.log.WithField("note_id", op.NoteID).Warn("could not delete note: it does not exist locally yet, queuing")
		m.pending.add(op)
		return
	}

	if err := m.notes.MarkDeleted(ctx, op.NoteID); err != nil {
		m.log.WithError(err).WithField("note_id", op.NoteID).Error("mark note deleted")
		return
	}

	if err := m.lexical.Delete(ctx, op.NoteID); err != nil {
		m.log.WithError(err).Warn("remove note from lexical index")
	}
	if err := m.tokens.DeleteNote(ctx, op.NoteID); err != nil {
		m.log.WithError(err).Warn("remove note from token index")
	}
	if err := m.vectors.Delete(ctx, op.NoteID); err != nil {
		m.log.WithError(err).Warn("remove note from vector index")
	}

	if _, err := m.changelog.Append(ctx, op.NoteID, changelog.KindDelete, map[string]any{"deleted": true}, m.clock.Now(), op.OriginDevice); err != nil {
		m.log.WithError(err).Error("append delete to change log")
	}
}

func (m *Manager) reindex(ctx context.Context, noteID, title, contents, tags string, embedding []float32) {
	if err := m.tokens.IndexNote(ctx, noteID, title, contents, tags); err != nil {
		m.log.WithError(err).Warn("update token index")
	}
	if err := m.lexical.IndexNote(ctx, noteID, title, contents); err != nil {
		m.log.WithError(err).Warn("update lexical index")
	}
	if embedding != nil {
		if err := m.vectors.Add(ctx, noteID, embedding); err != nil {
			m.log.WithError(err).Warn("update vector index")
		}
	}
}

func encodeEmbedding(vec []float32) []byte {
	if vec == nil {
		return nil
	}
	return index.EncodeVector(vec)
}

func parseTimeField(payload map[string]any, key string) time.Time {
	s, ok := payloadString(payload, key)
	if !ok {
		return time.Now().UTC()
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now().UTC()
	}
	return parsed
}
