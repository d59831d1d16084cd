package syncmgr

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"noted/internal/changelog"
	"noted/internal/clock"
	"noted/internal/index"
	"noted/internal/notes"
	"noted/internal/store"
	"noted/internal/transport"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 2, 3}, nil
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// TestEndToEndSyncConvergesCreate exercises the full path: a locally
// created note is appended to device A's change log, sync-up pushes it to
// device B, and device B's sync-down handler applies it, producing a
// matching note, token index entry, and lexical index entry.
func TestEndToEndSyncConvergesCreate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	aPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	bPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	aActor, err := store.Open(filepath.Join(t.TempDir(), "a.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { aActor.Close() })
	bActor, err := store.Open(filepath.Join(t.TempDir(), "b.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { bActor.Close() })

	aNotes := notes.New(aActor)
	aChangelog := changelog.New(aActor, "device-a")
	aClock := clock.New(aActor)
	require.NoError(t, aClock.Initialize(ctx))
	aTransport := transport.New("device-a", aPriv, logger)
	aMgr := New(aActor, "device-a", aNotes, aChangelog, aClock, aTransport,
		index.NewTokenIndex(aActor), index.NewLexicalIndex(aActor), index.NewVectorIndex(aActor), stubEmbedder{}, logger)

	bNotes := notes.New(bActor)
	bChangelog := changelog.New(bActor, "device-b")
	bClock := clock.New(bActor)
	require.NoError(t, bClock.Initialize(ctx))
	bTransport := transport.New("device-b", bPriv, logger)
	bTokens := index.NewTokenIndex(bActor)
	bLexical := index.NewLexicalIndex(bActor)
	bVectors := index.NewVectorIndex(bActor)
	New(bActor, "device-b", bNotes, bChangelog, bClock, bTransport, bTokens, bLexical, bVectors, stubEmbedder{}, logger)

	bPort := freePort(t)
	require.NoError(t, aTransport.RegisterPeer(transport.Peer{DeviceID: "device-b", Address: "127.0.0.1", Port: bPort, PublicKey: bPriv.PublicKey()}))
	require.NoError(t, bTransport.RegisterPeer(transport.Peer{DeviceID: "device-a", PublicKey: aPriv.PublicKey()}))

	go bTransport.Listen(ctx, fmt.Sprintf("127.0.0.1:%d", bPort))
	time.Sleep(50 * time.Millisecond)

	note, err := aNotes.Create(ctx, "Groceries", "milk and eggs", "home", nil)
	require.NoError(t, err)
	lamport := aClock.Tick()
	_, err = aChangelog.Append(ctx, note.UUID, changelog.KindCreate, map[string]any{
		"title": note.Title, "contents": note.Contents, "tags": note.Tags,
		"created_at":   note.CreatedAt.Format(time.RFC3339Nano),
		"last_updated": note.LastUpdated.Format(time.RFC3339Nano),
	}, lamport, "device-a")
	require.NoError(t, err)

	aMgr.SyncUp(ctx)

	require.Eventually(t, func() bool {
		_, err := bNotes.Get(ctx, note.UUID)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	got, err := bNotes.Get(ctx, note.UUID)
	require.NoError(t, err)
	require.Equal(t, "Groceries", got.Title)

	tf, err := bTokens.TermFrequency(ctx, note.UUID, "milk")
	require.NoError(t, err)
	require.Equal(t, 1, tf)

	ids, err := bLexical.Search(ctx, "eggs")
	require.NoError(t, err)
	require.Equal(t, []string{note.UUID}, ids)

	watermark, err := aMgr.watermarks.Get(ctx, "device-b")
	require.NoError(t, err)
	require.Equal(t, lamport, watermark)
}

func TestWatermarkAdvanceNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	actor, err := store.Open(filepath.Join(t.TempDir(), "a.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { actor.Close() })

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	tr := transport.New("device-a", priv, logger)
	mgr := New(actor, "device-a", notes.New(actor), changelog.New(actor, "device-a"), clock.New(actor),
		tr, index.NewTokenIndex(actor), index.NewLexicalIndex(actor), index.NewVectorIndex(actor), stubEmbedder{}, logger)

	require.NoError(t, mgr.watermarks.Advance(ctx, "device-b", 100))
	watermark, err := mgr.watermarks.Get(ctx, "device-b")
	require.NoError(t, err)
	require.Equal(t, uint64(100), watermark)

	require.NoError(t, mgr.watermarks.Advance(ctx, "device-b", 50))
	watermark, err = mgr.watermarks.Get(ctx, "device-b")
	require.NoError(t, err)
	require.Equal(t, uint64(100), watermark, "watermark must not move backwards")
}

func TestApplyDeleteIsTombstoneAbsorbing(t *testing.T) {
	ctx := context.Background()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	actor, err := store.Open(filepath.Join(t.TempDir(), "a.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { actor.Close() })

	notesRepo := notes.New(actor)
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	tr := transport.New("device-a", priv, logger)
	cl := clock.New(actor)
	require.NoError(t, cl.Initialize(ctx))
	mgr := New(actor, "device-a", notesRepo, changelog.New(actor, "device-a"), cl,
		tr, index.NewTokenIndex(actor), index.NewLexicalIndex(actor), index.NewVectorIndex(actor), stubEmbedder{}, logger)

	n, err := notesRepo.Create(ctx, "Title", "Body", "", nil)
	require.NoError(t, err)

	mgr.applyDelete(ctx, incomingOp{NoteID: n.UUID, OpID: "op-1"})
	got, err := notesRepo.Get(ctx, n.UUID)
	require.NoError(t, err)
	require.True(t, got.Deleted)
	require.Equal(t, "Title", got.Title)

	mgr.applyDelete(ctx, incomingOp{NoteID: n.UUID, OpID: "op-2"})
	got, err = notesRepo.Get(ctx, n.UUID)
	require.NoError(t, err)
	require.True(t, got.Deleted)
}

// TestOutOfOrderUpdateAppliesOnceCreateArrives exercises the scenario from
// spec §8/§9: an update for a note arrives before its create. The update
// must be queued, not lost, and must be applied once the create for that
// note_id is processed — whether the create lands in the same batch or a
// later one.
func TestOutOfOrderUpdateAppliesOnceCreateArrives(t *testing.T) {
	ctx := context.Background()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	actor, err := store.Open(filepath.Join(t.TempDir(), "b.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { actor.Close() })

	notesRepo := notes.New(actor)
	cl := clock.New(actor)
	require.NoError(t, cl.Initialize(ctx))
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	tr := transport.New("device-b", priv, logger)
	changeLog := changelog.New(actor, "device-b")
	mgr := New(actor, "device-b", notesRepo, changeLog, cl,
		tr, index.NewTokenIndex(actor), index.NewLexicalIndex(actor), index.NewVectorIndex(actor), stubEmbedder{}, logger)

	noteID := "11111111-1111-1111-1111-111111111111"

	updateOp := incomingOp{
		OpID:    "update-op",
		NoteID:  noteID,
		Kind:    changelog.KindUpdate,
		Lamport: 5,
		Payload: map[string]any{"title": "New"},
	}
	mgr.applyOne(ctx, updateOp)

	_, err = notesRepo.Get(ctx, noteID)
	require.ErrorIs(t, err, notes.ErrNotFound, "note must not exist yet")
	exists, err := changeLog.Exists(ctx, updateOp.OpID)
	require.NoError(t, err)
	require.False(t, exists, "queued update must not be recorded in the change log yet")

	createOp := incomingOp{
		OpID:    "create-op",
		NoteID:  noteID,
		Kind:    changelog.KindCreate,
		Lamport: 4,
		Payload: map[string]any{"title": "Original", "contents": "Body", "tags": ""},
	}
	mgr.applyOne(ctx, createOp)

	got, err := notesRepo.Get(ctx, noteID)
	require.NoError(t, err)
	require.Equal(t, "New", got.Title, "queued update must be re-applied once its create lands")
}
