package kasa

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// DefaultPort is the TCP and UDP port Kasa devices listen on.
	DefaultPort = 9999

	initialKey      = 171
	headerSize      = 4
	maxResponseSize = 1 << 20
)

// Encrypt applies the autokey XOR cipher used by the Kasa local protocol.
func Encrypt(plain []byte) []byte {
	out := make([]byte, len(plain))
	key := byte(initialKey)
	for i, b := range plain {
		key ^= b
		out[i] = key
	}
	return out
}

// Decrypt reverses Encrypt.
func Decrypt(cipher []byte) []byte {
	out := make([]byte, len(cipher))
	key := byte(initialKey)
	for i, c := range cipher {
		out[i] = key ^ c
		key = c
	}
	return out
}

// Frame prefixes an encrypted payload with its big-endian length, as the
// TCP transport expects.
func Frame(plain []byte) []byte {
	out := make([]byte, headerSize+len(plain))
	binary.BigEndian.PutUint32(out[:headerSize], uint32(len(plain)))
	copy(out[headerSize:], Encrypt(plain))
	return out
}

// ReadFrame reads one length-prefixed message and returns the decrypted body.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxResponseSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrUnexpectedResponse, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return Decrypt(body), nil
}
