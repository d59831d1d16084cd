package transport

import (
	"crypto/ecdh"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/hkdf"
)

// deriveSessionKey computes the 256-bit AES key shared with a peer: an
// ECDH shared secret run through HKDF-SHA256 with the fixed info string
// "session", matching transport_layer.py's
// HKDF(algorithm=SHA256, length=32, salt=None, info=b"session").
func deriveSessionKey(local *ecdh.PrivateKey, remote *ecdh.PublicKey) ([]byte, error) {
	secret, err := local.ECDH(remote)
	if err != nil {
		return nil, fmt.Errorf("derive shared secret: %w", err)
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, secret, nil, []byte("session"))
	if _, err := kdf.Read(key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}
