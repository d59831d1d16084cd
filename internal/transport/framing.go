package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// handshake is the first record sent on every connection, identifying
// the dialing device before any encrypted frames follow.
type handshake struct {
	DeviceID string
}

func writeLengthPrefixed(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err := w.Write(data)
	return err
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeTerminator writes the u32(0) frame that signals end-of-stream.
func writeTerminator(w io.Writer) error {
	var zero [4]byte
	_, err := w.Write(zero[:])
	return err
}

// readLength reads a raw u32 length prefix without consuming a payload,
// used to detect the terminator frame (length 0) ahead of reading a frame.
func readLength(r io.Reader) (uint32, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, fmt.Errorf("read length prefix: %w", err)
	}
	return binary.BigEndian.Uint32(lenBuf[:]), nil
}

func readExactly(r io.Reader, n uint32) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
