// Package transport implements the encrypted peer-to-peer wire protocol:
// per-peer session keys derived via ECDH+HKDF, AES-256-GCM framed
// messages, and a length-prefixed handshake/frame/terminator wire format,
// ported directly from transport_layer.py.
package transport

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/gob"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	handshakeTimeout = 5 * time.Second
	frameTimeout     = 10 * time.Second
)

// OperationRecord is the wire envelope for a single change-log entry.
// PayloadJSON carries the same JSON bytes the change log persists, kept
// opaque here so the gob-encoded envelope has a fixed, deterministic
// field layout regardless of what is inside the payload map.
type OperationRecord struct {
	OpID         string
	NoteID       string
	Kind         string
	Timestamp    time.Time
	DeviceID     string
	PayloadJSON  []byte
	LamportClock uint64
	OriginDevice string
}

// Peer is a registered, trusted remote device.
type Peer struct {
	DeviceID  string
	Address   string // host or IP
	Port      int
	PublicKey *ecdh.PublicKey
}

func (p Peer) addr() string {
	return fmt.Sprintf("%s:%d", p.Address, p.Port)
}

// MessageHandler is invoked with a batch decrypted from a registered
// peer's inbound connection.
type MessageHandler func(fromDeviceID string, batch []OperationRecord)

// Transport owns the registered peer set, derives and caches per-peer
// session keys, accepts inbound connections, and pushes outbound batches.
type Transport struct {
	deviceID   string
	privateKey *ecdh.PrivateKey
	log        *logrus.Entry

	mu          sync.RWMutex
	peers       map[string]Peer
	sessionKeys map[string][]byte

	handlerMu sync.RWMutex
	handler   MessageHandler

	listener net.Listener
}

func New(deviceID string, privateKey *ecdh.PrivateKey, log *logrus.Logger) *Transport {
	return &Transport{
		deviceID:    deviceID,
		privateKey:  privateKey,
		log:         log.WithField("component", "transport"),
		peers:       make(map[string]Peer),
		sessionKeys: make(map[string][]byte),
	}
}

// RegisterHandler sets the callback invoked for every inbound batch. Only
// one handler is supported (the Sync Manager registers itself at
// construction time); a later call replaces the previous handler.
func (t *Transport) RegisterHandler(h MessageHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handler = h
}

// RegisterPeer adds a trusted peer and derives its session key.
func (t *Transport) RegisterPeer(peer Peer) error {
	key, err := deriveSessionKey(t.privateKey, peer.PublicKey)
	if err != nil {
		return fmt.Errorf("transport.RegisterPeer: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[peer.DeviceID] = peer
	t.sessionKeys[peer.DeviceID] = key
	return nil
}

// RemovePeer forgets a peer and purges its session key.
func (t *Transport) RemovePeer(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, deviceID)
	delete(t.sessionKeys, deviceID)
}

// Peers returns a snapshot of currently registered peers.
func (t *Transport) Peers() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	return out
}

// Listen starts accepting inbound connections on addr, dispatching each to
// its own goroutine, until ctx is cancelled.
func (t *Transport) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport.Listen: %w", err)
	}
	t.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("transport.Listen: accept: %w", err)
		}
		go t.handleConn(conn)
	}
}

func (t *Transport) handleConn(conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	raw, err := readLengthPrefixed(conn)
	if err != nil {
		t.log.WithError(err).Warn("handshake read failed")
		return
	}

	var hs handshake
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&hs); err != nil {
		t.log.WithError(err).Warn("handshake decode failed")
		return
	}

	t.mu.RLock()
	key, known := t.sessionKeys[hs.DeviceID]
	t.mu.RUnlock()
	if !known {
		t.log.WithField("device_id", hs.DeviceID).Warn("handshake from unregistered device, closing")
		return
	}

	gcm, err := newGCM(key)
	if err != nil {
		t.log.WithError(err).Error("build cipher for session key")
		return
	}

	for {
		conn.SetReadDeadline(time.Now().Add(frameTimeout))
		ctLen, err := readLength(conn)
		if err != nil {
			t.log.WithError(err).Debug("connection closed mid-stream")
			return
		}
		if ctLen == 0 {
			return // terminator
		}
		ciphertext, err := readExactly(conn, ctLen)
		if err != nil {
			t.log.WithError(err).Warn("read ciphertext")
			return
		}

		ivLen, err := readLength(conn)
		if err != nil {
			return
		}
		iv, err := readExactly(conn, ivLen)
		if err != nil {
			return
		}

		tagLen, err := readLength(conn)
		if err != nil {
			return
		}
		tag, err := readExactly(conn, tagLen)
		if err != nil {
			return
		}

		plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
		if err != nil {
			t.log.WithError(err).Warn("decrypt frame failed, dropping connection")
			return
		}

		var batch []OperationRecord
		if err := gob.NewDecoder(bytes.NewReader(plaintext)).Decode(&batch); err != nil {
			t.log.WithError(err).Warn("decode batch failed")
			return
		}

		t.handlerMu.RLock()
		h := t.handler
		t.handlerMu.RUnlock()
		if h != nil {
			h(hs.DeviceID, batch)
		}
	}
}

// Push sends batch to peerID over a fresh connection: handshake, one
// frame, then the terminator.
func (t *Transport) Push(ctx context.Context, peerID string, batch []OperationRecord) error {
	t.mu.RLock()
	peer, known := t.peers[peerID]
	key := t.sessionKeys[peerID]
	t.mu.RUnlock()
	if !known {
		return fmt.Errorf("transport.Push: peer %s not registered", peerID)
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", peer.addr())
	if err != nil {
		return fmt.Errorf("transport.Push: dial %s: %w", peerID, err)
	}
	defer conn.Close()

	var hsBuf bytes.Buffer
	if err := gob.NewEncoder(&hsBuf).Encode(handshake{DeviceID: t.deviceID}); err != nil {
		return fmt.Errorf("transport.Push: encode handshake: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if err := writeLengthPrefixed(conn, hsBuf.Bytes()); err != nil {
		return fmt.Errorf("transport.Push: send handshake: %w", err)
	}

	var payloadBuf bytes.Buffer
	if err := gob.NewEncoder(&payloadBuf).Encode(batch); err != nil {
		return fmt.Errorf("transport.Push: encode batch: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return fmt.Errorf("transport.Push: %w", err)
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return fmt.Errorf("transport.Push: generate iv: %w", err)
	}
	sealed := gcm.Seal(nil, iv, payloadBuf.Bytes(), nil)
	ciphertext, tag := sealed[:len(sealed)-gcm.Overhead()], sealed[len(sealed)-gcm.Overhead():]

	conn.SetWriteDeadline(time.Now().Add(frameTimeout))
	if err := writeLengthPrefixed(conn, ciphertext); err != nil {
		return fmt.Errorf("transport.Push: send ciphertext: %w", err)
	}
	if err := writeLengthPrefixed(conn, iv); err != nil {
		return fmt.Errorf("transport.Push: send iv: %w", err)
	}
	if err := writeLengthPrefixed(conn, tag); err != nil {
		return fmt.Errorf("transport.Push: send tag: %w", err)
	}
	if err := writeTerminator(conn); err != nil {
		return fmt.Errorf("transport.Push: send terminator: %w", err)
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
