// Package entropy provides the random byte source the core consumes for
// keys, session ids, and nonces. The core treats this as an injected
// dependency (see the external interfaces in the design notes); this
// package supplies the one production-grade implementation.
package entropy

import (
	"crypto/rand"
	"fmt"
	"io"
)

// Source produces unbiased random bytes. Implementations must be safe to
// call from the core's single execution context; concurrent-safety beyond
// that is not required.
type Source interface {
	// RandomBytes returns nBits worth of unbiased random bytes, rounded up
	// to the nearest byte.
	RandomBytes(nBits int) ([]byte, error)
}

// CryptoSource draws from crypto/rand. It is the only Source
// implementation this repository ships; the design notes are explicit that
// any non-cryptographic generator is illustrative only and unsuitable for
// production keys.
type CryptoSource struct{}

// RandomBytes implements Source.
func (CryptoSource) RandomBytes(nBits int) ([]byte, error) {
	if nBits < 0 {
		return nil, fmt.Errorf("entropy: negative bit count %d", nBits)
	}
	n := (nBits + 7) / 8
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("entropy: reading random bytes: %w", err)
	}
	return b, nil
}

// Bytes is a convenience over RandomBytes for callers that think in bytes
// rather than bits.
func Bytes(s Source, n int) ([]byte, error) {
	return s.RandomBytes(n * 8)
}
