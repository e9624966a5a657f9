// Package persistence provides at-rest storage for the state each side of
// a pairing relationship must survive a power cycle: the receiver's
// session table and the transmitter's adopted key, session id, and
// sequence counter. Writes are atomic (temp file + rename) and the stored
// payload is sealed under a key derived from an operator-supplied secret,
// so the data directory alone is not enough to recover a live session key.
//
// Grounded on internal/identity.AgentID.Store/Load/LoadOrCreate for the
// atomic-write mechanics, and internal/crypto.DeriveSessionKey for the
// HKDF-then-AEAD shape, adapted from X25519 shared secrets to a
// caller-supplied master secret since there is no ECDH exchange here.
package persistence

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/tommie/openepo/internal/codec"
	"github.com/tommie/openepo/internal/entropy"
	"github.com/tommie/openepo/internal/protection"
	"github.com/tommie/openepo/internal/session"
)

// hkdfInfo is the context string mixed into every key derivation, the same
// role hkdfInfo plays in the teacher's end-to-end crypto package.
const hkdfInfo = "openepo-persistence-v1"

// saltLen is the random per-file salt width fed to HKDF alongside the
// master secret, so two files sealed under the same secret never reuse a
// derived key.
const saltLen = 16

// ErrNotExist is returned by Load* when no file exists at the given path.
var ErrNotExist = errors.New("persistence: no such file")

// Store seals and persists receiver and transmitter state. A Store is
// bound to one master secret; callers that need independently rotatable
// secrets per file should construct multiple Stores.
type Store struct {
	masterSecret []byte
	entropy      entropy.Source
}

// New returns a Store that seals files with keys derived from
// masterSecret. masterSecret is typically a passphrase or a key loaded
// from the platform's own secret storage; it is never written to disk
// itself.
func New(masterSecret []byte, src entropy.Source) *Store {
	return &Store{masterSecret: masterSecret, entropy: src}
}

// fileFormat is the on-disk envelope: a random salt, an AEAD nonce, and
// the sealed ciphertext of a JSON payload.
type fileFormat struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

func (s *Store) deriveKey(salt []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, s.masterSecret, salt, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("persistence: deriving key: %w", err)
	}
	return key, nil
}

// save atomically writes payload (already JSON-encoded) to path, sealed
// under a freshly derived key. The write goes to path+".tmp" first and is
// then renamed into place, so a crash mid-write never corrupts an
// existing file.
func (s *Store) save(path string, payload []byte) error {
	salt, err := entropy.Bytes(s.entropy, saltLen)
	if err != nil {
		return fmt.Errorf("persistence: drawing salt: %w", err)
	}
	key, err := s.deriveKey(salt)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("persistence: building AEAD: %w", err)
	}
	nonce, err := entropy.Bytes(s.entropy, aead.NonceSize())
	if err != nil {
		return fmt.Errorf("persistence: drawing nonce: %w", err)
	}

	env := fileFormat{
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, payload, nil),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("persistence: encoding envelope: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("persistence: creating directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("persistence: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("persistence: renaming into place: %w", err)
	}
	return nil
}

// load reads and opens the file at path, returning the decoded JSON
// payload. Returns ErrNotExist if path does not exist.
func (s *Store) load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("persistence: reading file: %w", err)
	}

	var env fileFormat
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("persistence: decoding envelope: %w", err)
	}
	key, err := s.deriveKey(env.Salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("persistence: building AEAD: %w", err)
	}
	payload, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("persistence: opening sealed file (wrong secret or corrupt file): %w", err)
	}
	return payload, nil
}

// sessionRecordJSON mirrors session.Record with exported, JSON-friendly
// fields; session.Record itself is kept free of struct tags since the core
// packages have no other reason to depend on encoding/json.
type sessionRecordJSON struct {
	ID                session.ID                `json:"id"`
	Algorithm         codec.ProtectionAlgorithm `json:"algorithm"`
	Key               protection.Key            `json:"key"`
	LastAcceptedSeqNo uint32                    `json:"last_accepted_seq_no"`
}

// SaveReceiverSessions persists every record currently in store to path.
func (s *Store) SaveReceiverSessions(path string, store *session.Store) error {
	records := store.Iter()
	out := make([]sessionRecordJSON, len(records))
	for i, rec := range records {
		out[i] = sessionRecordJSON{
			ID:                rec.ID,
			Algorithm:         rec.Algorithm,
			Key:               rec.Key,
			LastAcceptedSeqNo: rec.LastAcceptedSeqNo,
		}
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("persistence: encoding sessions: %w", err)
	}
	return s.save(path, payload)
}

// LoadReceiverSessions reads the records persisted at path and inserts
// each into store via InsertUnique. It returns ErrNotExist if path does
// not exist, the typical case on a receiver's very first boot.
func (s *Store) LoadReceiverSessions(path string, store *session.Store) error {
	payload, err := s.load(path)
	if err != nil {
		return err
	}
	var in []sessionRecordJSON
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("persistence: decoding sessions: %w", err)
	}
	for _, rec := range in {
		if err := store.InsertUnique(session.Record{
			ID:                rec.ID,
			Algorithm:         rec.Algorithm,
			Key:               rec.Key,
			LastAcceptedSeqNo: rec.LastAcceptedSeqNo,
		}); err != nil {
			return fmt.Errorf("persistence: restoring session %x: %w", rec.ID, err)
		}
	}
	return nil
}

// TransmitterState is the subset of a transmitter's in-memory state that
// must survive a restart: its identity, and (if paired) the adopted
// session.
type TransmitterState struct {
	TransmitterID [codec.TransmitterIDLen]byte `json:"transmitter_id"`
	Paired        bool                         `json:"paired"`
	Unbound       bool                         `json:"unbound"`
	SessionID     [4]byte                      `json:"session_id"`
	Algorithm     codec.ProtectionAlgorithm    `json:"algorithm"`
	Key           protection.Key               `json:"key"`
	TxSeq         uint32                       `json:"tx_seq"`
}

// SaveTransmitter persists st to path.
func (s *Store) SaveTransmitter(path string, st TransmitterState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("persistence: encoding transmitter state: %w", err)
	}
	return s.save(path, payload)
}

// LoadTransmitter reads the transmitter state persisted at path. It
// returns ErrNotExist if path does not exist, the case on first boot
// before any factory identity has been assigned.
func (s *Store) LoadTransmitter(path string) (TransmitterState, error) {
	payload, err := s.load(path)
	if err != nil {
		return TransmitterState{}, err
	}
	var st TransmitterState
	if err := json.Unmarshal(payload, &st); err != nil {
		return TransmitterState{}, fmt.Errorf("persistence: decoding transmitter state: %w", err)
	}
	return st, nil
}
