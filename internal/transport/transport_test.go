package transport

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func genKeyPair(t *testing.T) *ecdh.PrivateKey {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestPushDeliversBatchToRegisteredPeer(t *testing.T) {
	aPriv := genKeyPair(t)
	bPriv := genKeyPair(t)

	a := New("device-a", aPriv, testLogger())
	b := New("device-b", bPriv, testLogger())

	port := freePort(t)
	require.NoError(t, a.RegisterPeer(Peer{DeviceID: "device-b", Address: "127.0.0.1", Port: port, PublicKey: bPriv.PublicKey()}))
	require.NoError(t, b.RegisterPeer(Peer{DeviceID: "device-a", PublicKey: aPriv.PublicKey()}))

	received := make(chan []OperationRecord, 1)
	b.RegisterHandler(func(from string, batch []OperationRecord) {
		require.Equal(t, "device-a", from)
		received <- batch
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Listen(ctx, fmt.Sprintf("127.0.0.1:%d", port))
	}()
	time.Sleep(50 * time.Millisecond)

	batch := []OperationRecord{{OpID: "op1", NoteID: "n1", Kind: "create", LamportClock: 1, OriginDevice: "device-a", PayloadJSON: []byte(`{"title":"hi"}`)}}
	require.NoError(t, a.Push(ctx, "device-b", batch))

	select {
	case got := <-received:
		require.Len(t, got, 1)
		require.Equal(t, "op1", got[0].OpID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
	}

	cancel()
	wg.Wait()
}

func TestPushToUnregisteredPeerFails(t *testing.T) {
	a := New("device-a", genKeyPair(t), testLogger())
	err := a.Push(context.Background(), "nonexistent", nil)
	require.Error(t, err)
}

func TestRemovePeerPurgesSessionKey(t *testing.T) {
	aPriv := genKeyPair(t)
	bPriv := genKeyPair(t)
	a := New("device-a", aPriv, testLogger())

	require.NoError(t, a.RegisterPeer(Peer{DeviceID: "device-b", PublicKey: bPriv.PublicKey()}))
	require.Len(t, a.Peers(), 1)

	a.RemovePeer("device-b")
	require.Len(t, a.Peers(), 0)

	err := a.Push(context.Background(), "device-b", nil)
	require.Error(t, err)
}
