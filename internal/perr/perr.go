// Package perr defines the shared protocol error taxonomy so callers can
// test for a class of failure with errors.Is regardless of which layer
// produced it. The codec's decoding errors and protection's tag-mismatch
// error wrap these sentinels; the session, governor, and FSM packages do
// not return them.
package perr

import "errors"

// Kind sentinels, matching the error kinds in the protocol design. The
// codec wraps ErrFraming and ErrDecode and protection.Open wraps
// ErrAuthFailure; no package currently returns the remaining kinds.
var (
	// ErrFraming covers preamble/SOF/EOF/bit-stuffing failures in the codec.
	ErrFraming = errors.New("framing error")

	// ErrDecode covers truncated messages or invalid/unknown discriminants
	// in an implicit (non-extensible) union.
	ErrDecode = errors.New("decode error")

	// ErrAuthFailure covers AEAD tag mismatch or an unknown session key.
	ErrAuthFailure = errors.New("auth failure")

	// ErrReplay covers a sequence number that is not strictly greater than
	// the session's last accepted sequence number.
	ErrReplay = errors.New("replay")

	// ErrStateRejection covers a message that is well-formed and
	// authenticated but illegal in the receiver or transmitter's current
	// state.
	ErrStateRejection = errors.New("state rejection")

	// ErrCapacityExhausted covers a session-store insert attempted while
	// the store is at its configured capacity.
	ErrCapacityExhausted = errors.New("capacity exhausted")

	// ErrTimeoutExpired covers a scheduled state timeout firing.
	ErrTimeoutExpired = errors.New("timeout expired")
)
