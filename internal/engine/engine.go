// Package engine wires every component into a single running noted
// instance: the Persistence Actor, Identity Store, Lamport Clock, Notes
// Repository, Change Log, derived indexes, Transport, Sync Manager, and
// Peer Discovery, constructed in the dependency order each one requires.
// This is the one place that knows about every package; cmd/noted talks to
// an *Engine for every command except `identity`, which opens the store and
// the identity package directly.
package engine

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"

	"github.com/sirupsen/logrus"

	"noted/internal/changelog"
	"noted/internal/clock"
	"noted/internal/config"
	"noted/internal/discovery"
	"noted/internal/embedding"
	"noted/internal/identity"
	"noted/internal/index"
	"noted/internal/notes"
	"noted/internal/store"
	"noted/internal/syncmgr"
	"noted/internal/transport"
)

// Engine bundles every running component of a noted instance.
type Engine struct {
	Config *config.Config
	Log    *logrus.Logger

	Actor    *store.Actor
	Identity *identity.Identity

	Clock     *clock.Lamport
	Notes     *notes.Repository
	ChangeLog *changelog.Log

	Tokens  *index.TokenIndex
	Lexical *index.LexicalIndex
	Vectors *index.VectorIndex
	BM25    *index.BM25Scorer

	Transport *transport.Transport
	Sync      *syncmgr.Manager

	identityStore *identity.Store
	advertiser    *discovery.Advertiser
	browser       *discovery.Browser
	Directory     *discovery.Directory
}

// Open constructs every component against cfg's database, without starting
// any network activity. Call Serve to additionally start Transport
// listening and mDNS advertise/browse.
func Open(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*Engine, error) {
	actor, err := store.Open(cfg.DatabasePath(), log)
	if err != nil {
		return nil, fmt.Errorf("engine.Open: %w", err)
	}

	idStore := identity.New(actor)
	id, err := identity.Load(ctx, actor)
	if err != nil {
		actor.Close()
		return nil, fmt.Errorf("engine.Open: load identity: %w", err)
	}
	if cfg.DeviceName != "" {
		if err := idStore.SetDeviceName(ctx, cfg.DeviceName); err != nil {
			actor.Close()
			return nil, fmt.Errorf("engine.Open: set device name: %w", err)
		}
	}

	lamport := clock.New(actor)
	if err := lamport.Initialize(ctx); err != nil {
		actor.Close()
		return nil, fmt.Errorf("engine.Open: init clock: %w", err)
	}

	notesRepo := notes.New(actor)
	changeLog := changelog.New(actor, id.DeviceID)

	tokens := index.NewTokenIndex(actor)
	lexical := index.NewLexicalIndex(actor)
	vectors := index.NewVectorIndex(actor)
	if err := vectors.Load(ctx); err != nil {
		actor.Close()
		return nil, fmt.Errorf("engine.Open: load vector index: %w", err)
	}
	bm25 := index.NewBM25Scorer(notesRepo, lexical, tokens)

	var embedder syncmgr.Embedder = embedding.NewOllamaEmbedder(cfg.OllamaURL, cfg.EmbeddingModel)

	tr := transport.New(id.DeviceID, id.PrivateKey, log)
	mgr := syncmgr.New(actor, id.DeviceID, notesRepo, changeLog, lamport, tr, tokens, lexical, vectors, embedder, log)
	mgr.SetBatchSize(cfg.BatchSize)

	e := &Engine{
		Config:        cfg,
		Log:           log,
		Actor:         actor,
		Identity:      id,
		Clock:         lamport,
		Notes:         notesRepo,
		ChangeLog:     changeLog,
		Tokens:        tokens,
		Lexical:       lexical,
		Vectors:       vectors,
		BM25:          bm25,
		Transport:     tr,
		Sync:          mgr,
		identityStore: idStore,
	}
	return e, nil
}

// Serve starts the Transport listener and mDNS advertise/browse, wiring
// discovery arrivals into the CLI-facing Directory only (trust-on-first-use
// registration with the Transport is a separate, explicit user action, not
// automatic on arrival).
func (e *Engine) Serve(ctx context.Context) error {
	if err := e.startAdvertising(); err != nil {
		return err
	}

	browser, dir, err := discovery.Browse(ctx, e.Identity.DeviceID, e.Log, nil, nil)
	if err != nil {
		return fmt.Errorf("engine.Serve: browse: %w", err)
	}
	e.browser = browser
	e.Directory = dir

	go func() {
		if err := e.Transport.Listen(ctx, e.Config.ListenAddr); err != nil {
			e.Log.WithError(err).Error("transport listener stopped")
		}
	}()
	return nil
}

func (e *Engine) startAdvertising() error {
	pubDER, err := x509.MarshalPKIXPublicKey(e.Identity.PublicKey)
	if err != nil {
		return fmt.Errorf("engine.Serve: marshal public key: %w", err)
	}
	name, err := e.identityStore.DeviceName(context.Background())
	if err != nil {
		return fmt.Errorf("engine.Serve: device name: %w", err)
	}
	adv, err := discovery.Advertise(e.Identity.DeviceID, name, pubDER)
	if err != nil {
		return fmt.Errorf("engine.Serve: advertise: %w", err)
	}
	e.advertiser = adv
	return nil
}

// TrustPeer registers a discovered peer with the Transport at the given
// network address, deriving the session key from its advertised public
// key. This is the trust-on-first-use confirmation step; discovery alone
// never registers a peer.
func (e *Engine) TrustPeer(peer discovery.DiscoveredPeer) error {
	parsed, err := x509.ParsePKIXPublicKey(peer.PublicKey)
	if err != nil {
		return fmt.Errorf("engine.TrustPeer: parse public key: %w", err)
	}
	ecdsaPub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("engine.TrustPeer: public key for %s is not a P-256 key", peer.DeviceID)
	}
	pub, err := ecdsaPub.ECDH()
	if err != nil {
		return fmt.Errorf("engine.TrustPeer: convert public key for %s to ECDH: %w", peer.DeviceID, err)
	}

	return e.Transport.RegisterPeer(transport.Peer{
		DeviceID:  peer.DeviceID,
		Address:   peer.Address.String(),
		Port:      peer.Port,
		PublicKey: pub,
	})
}

// ForgetPeer removes a previously trusted peer and purges its session key.
func (e *Engine) ForgetPeer(deviceID string) {
	e.Transport.RemovePeer(deviceID)
}

// Close shuts down discovery, the transport listener stays bound to ctx
// cancellation, and closes the Persistence Actor.
func (e *Engine) Close() error {
	if e.advertiser != nil {
		e.advertiser.Shutdown()
	}
	return e.Actor.Close()
}
