// Package identity generates and persists the stable identity of this
// device: a UUIDv4 device id, a P-256 ECDH key pair used for per-peer
// session-key agreement, and an optional human-readable device name.
package identity

import (
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"noted/internal/store"
)

// Identity is this device's durable identity.
type Identity struct {
	DeviceID   string
	PrivateKey *ecdh.PrivateKey
	PublicKey  *ecdh.PublicKey
}

// Store wraps the Persistence Actor with identity-specific operations.
type Store struct {
	actor *store.Actor
}

func New(actor *store.Actor) *Store {
	return &Store{actor: actor}
}

// DeviceID returns the persisted device id, generating and storing one on
// first call.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	val, err := s.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		row := tx.QueryRow(`SELECT uuid FROM device_id`)
		var id string
		switch err := row.Scan(&id); err {
		case nil:
			return id, nil
		case sql.ErrNoRows:
			id = uuid.NewString()
			if _, err := tx.Exec(`INSERT INTO device_id(uuid) VALUES (?)`, id); err != nil {
				return nil, fmt.Errorf("insert device_id: %w", err)
			}
			return id, nil
		default:
			return nil, fmt.Errorf("select device_id: %w", err)
		}
	}, true)
	if err != nil {
		return "", fmt.Errorf("identity.DeviceID: %w", err)
	}
	return val.(string), nil
}

// KeyPair returns the persisted ECDH key pair, generating and storing one
// on first call.
func (s *Store) KeyPair(ctx context.Context) (*ecdh.PrivateKey, *ecdh.PublicKey, error) {
	val, err := s.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		row := tx.QueryRow(`SELECT private_key, public_key FROM keys WHERE name = 'p2p'`)
		var privDER, pubDER []byte
		switch err := row.Scan(&privDER, &pubDER); err {
		case nil:
			privAny, err := x509.ParsePKCS8PrivateKey(privDER)
			if err != nil {
				return nil, fmt.Errorf("parse private key: %w", err)
			}
			ecdsaPriv, ok := privAny.(*ecdsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("parse private key: unexpected type %T", privAny)
			}
			priv, err := ecdsaPriv.ECDH()
			if err != nil {
				return nil, fmt.Errorf("convert private key to ECDH: %w", err)
			}

			pubAny, err := x509.ParsePKIXPublicKey(pubDER)
			if err != nil {
				return nil, fmt.Errorf("parse public key: %w", err)
			}
			ecdsaPub, ok := pubAny.(*ecdsa.PublicKey)
			if !ok {
				return nil, fmt.Errorf("parse public key: unexpected type %T", pubAny)
			}
			pub, err := ecdsaPub.ECDH()
			if err != nil {
				return nil, fmt.Errorf("convert public key to ECDH: %w", err)
			}
			return keyPair{priv, pub}, nil
		case sql.ErrNoRows:
			priv, err := ecdh.P256().GenerateKey(rand.Reader)
			if err != nil {
				return nil, fmt.Errorf("generate key: %w", err)
			}
			pub := priv.PublicKey()

			privDER, err := x509.MarshalPKCS8PrivateKey(priv)
			if err != nil {
				return nil, fmt.Errorf("marshal private key: %w", err)
			}
			pubDER, err := x509.MarshalPKIXPublicKey(pub)
			if err != nil {
				return nil, fmt.Errorf("marshal public key: %w", err)
			}

			if _, err := tx.Exec(`INSERT INTO keys(name, private_key, public_key) VALUES ('p2p', ?, ?)`,
				privDER, pubDER); err != nil {
				return nil, fmt.Errorf("insert keys: %w", err)
			}
			return keyPair{priv, pub}, nil
		default:
			return nil, fmt.Errorf("select keys: %w", err)
		}
	}, true)
	if err != nil {
		return nil, nil, fmt.Errorf("identity.KeyPair: %w", err)
	}
	kp := val.(keyPair)
	return kp.priv, kp.pub, nil
}

type keyPair struct {
	priv *ecdh.PrivateKey
	pub  *ecdh.PublicKey
}

// SetDeviceName persists a human-readable name for this device, replacing
// any previously stored name.
func (s *Store) SetDeviceName(ctx context.Context, name string) error {
	_, err := s.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		if _, err := tx.Exec(`DELETE FROM device_name`); err != nil {
			return nil, err
		}
		_, err := tx.Exec(`INSERT INTO device_name(name) VALUES (?)`, name)
		return nil, err
	}, true)
	if err != nil {
		return fmt.Errorf("identity.SetDeviceName: %w", err)
	}
	return nil
}

// DeviceName returns the stored device name, or "" if none has been set.
func (s *Store) DeviceName(ctx context.Context) (string, error) {
	val, err := s.actor.Submit(ctx, func(tx *sql.Tx) (any, error) {
		row := tx.QueryRow(`SELECT name FROM device_name`)
		var name string
		switch err := row.Scan(&name); err {
		case nil:
			return name, nil
		case sql.ErrNoRows:
			return "", nil
		default:
			return nil, err
		}
	}, true)
	if err != nil {
		return "", fmt.Errorf("identity.DeviceName: %w", err)
	}
	return val.(string), nil
}

// Load resolves the full Identity, generating any missing pieces.
func Load(ctx context.Context, actor *store.Actor) (*Identity, error) {
	s := New(actor)
	id, err := s.DeviceID(ctx)
	if err != nil {
		return nil, err
	}
	priv, pub, err := s.KeyPair(ctx)
	if err != nil {
		return nil, err
	}
	return &Identity{DeviceID: id, PrivateKey: priv, PublicKey: pub}, nil
}
