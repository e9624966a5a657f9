// Package protection implements the AEAD message pipeline (C2): AES-128-OCB3
// sealing and opening for both registered tag widths, with the nonce and
// associated-data handling the wire format requires.
package protection

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"fmt"

	"github.com/ProtonMail/go-crypto/ocb"

	"github.com/tommie/openepo/internal/codec"
	"github.com/tommie/openepo/internal/perr"
)

// KeyLen is the AES-128-OCB3 key width in bytes.
const KeyLen = 16

// Key is a 16-byte session key.
type Key [KeyLen]byte

func aead(alg codec.ProtectionAlgorithm, key Key) (cipher.AEAD, error) {
	nonceLen, ok := alg.NonceLen()
	if !ok {
		return nil, fmt.Errorf("protection: unsupported algorithm %d", alg)
	}
	tagLen, _ := alg.TagLen()

	block, err := aes.NewCipher(key[:])
	if err != nil {
		// Only a programmer error (wrong key length) can land here; KeyLen
		// is fixed at 16.
		return nil, fmt.Errorf("protection: building AES block cipher: %w", err)
	}

	a, err := ocb.NewOCBWithNonceAndTagSize(block, nonceLen, tagLen)
	if err != nil {
		return nil, fmt.Errorf("protection: building OCB instance: %w", err)
	}
	return a, nil
}

// Seal encrypts and authenticates plaintext under key, algorithm, and
// nonce, with ad authenticated but not encrypted. It returns
// ciphertext || tag. It fails only on programmer error (bad algorithm or
// nonce length).
func Seal(alg codec.ProtectionAlgorithm, key Key, nonce, ad, plaintext []byte) ([]byte, error) {
	nonceLen, ok := alg.NonceLen()
	if !ok || len(nonce) != nonceLen {
		return nil, fmt.Errorf("protection: nonce length %d invalid for %s", len(nonce), alg)
	}
	a, err := aead(alg, key)
	if err != nil {
		return nil, err
	}
	return a.Seal(nil, nonce, plaintext, ad), nil
}

// Open authenticates and decrypts ciphertext (which must be
// ciphertext || tag) under key, algorithm, and nonce, with ad authenticated
// as associated data. A tag mismatch returns an error wrapping
// perr.ErrAuthFailure; the comparison inside the OCB implementation runs in
// constant time over the tag bytes.
func Open(alg codec.ProtectionAlgorithm, key Key, nonce, ad, ciphertext []byte) ([]byte, error) {
	nonceLen, ok := alg.NonceLen()
	if !ok || len(nonce) != nonceLen {
		return nil, fmt.Errorf("protection: nonce length %d invalid for %s", len(nonce), alg)
	}
	a, err := aead(alg, key)
	if err != nil {
		return nil, err
	}
	plaintext, err := a.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, fmt.Errorf("protection: %v: %w", err, perr.ErrAuthFailure)
	}
	return plaintext, nil
}

// constantTimeEqual reports whether a and b are equal without
// short-circuiting on the first differing byte. Nothing in this package
// calls it; Open relies on the OCB implementation's own tag comparison.
func constantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
