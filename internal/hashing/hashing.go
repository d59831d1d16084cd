// Package hashing computes the deterministic content hash stamped on every
// note after a successful write.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeNoteHash returns the hex-encoded SHA-256 digest of a note's
// content state. The field order and framing bytes are fixed so that the
// same note content hashes identically on every device, regardless of
// implementation language: title, contents, tags, deleted, then the raw
// embedding bytes if present.
func ComputeNoteHash(title, contents, tags string, embedding []byte, deleted bool) string {
	h := sha256.New()

	h.Write([]byte("title:"))
	h.Write([]byte(title))
	h.Write([]byte("\ncontents:"))
	h.Write([]byte(contents))
	h.Write([]byte("\ntags:"))
	h.Write([]byte(tags))
	h.Write([]byte("\ndeleted:"))
	if deleted {
		h.Write([]byte("1"))
	} else {
		h.Write([]byte("0"))
	}

	if embedding != nil {
		h.Write([]byte("\nembeddings:"))
		h.Write(embedding)
	}

	return hex.EncodeToString(h.Sum(nil))
}
