// Package session implements the receiver's session store (C3): a
// capacity-bounded mapping from the 4-byte plaintext session_id carried on
// the wire to the protection parameters and replay state of one paired
// transmitter. It is owned exclusively by the receiver FSM, which looks up
// the key it hands to the protection layer on every decode.
package session

import (
	"sort"
	"sync"

	"github.com/tommie/openepo/internal/codec"
	"github.com/tommie/openepo/internal/entropy"
	"github.com/tommie/openepo/internal/protection"
)

// IDLen is the width of a session_id in bytes, matching the wire header.
const IDLen = 4

// ID is an ephemeral session identifier, uniformly chosen at pairing time.
// It is not tied to transmitter identity: the wire format's residual
// linkability through this field is a documented anonymity tradeoff, not a
// defect.
type ID [IDLen]byte

// Record is one paired transmitter's session state.
type Record struct {
	ID                ID
	Algorithm         codec.ProtectionAlgorithm
	Key               protection.Key
	LastAcceptedSeqNo uint32
}

// Store is a capacity-bounded, in-memory session table. It is safe for
// concurrent use, though the core's single cooperative execution context
// means contention is not expected in practice.
type Store struct {
	cap int

	mu      sync.Mutex
	records map[ID]Record
}

// New returns an empty Store accepting at most capacity records. capacity
// must be at least 1.
func New(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{
		cap:     capacity,
		records: make(map[ID]Record, capacity),
	}
}

// ErrFull is returned by InsertUnique when the store is already at
// capacity.
var ErrFull = fullError{}

type fullError struct{}

func (fullError) Error() string { return "session: store at capacity" }

// ErrCollision is returned by InsertUnique when a record already exists
// for the given id.
var ErrCollision = collisionError{}

type collisionError struct{}

func (collisionError) Error() string { return "session: session_id already in use" }

// InsertUnique adds rec, failing if the store is at capacity or a record
// already exists for rec.ID. Callers needing to evict an existing record
// first (policy-dependent, and only ever attempted during PAIRING) must
// call Remove explicitly; InsertUnique never overwrites silently.
func (s *Store) InsertUnique(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return ErrCollision
	}
	if len(s.records) >= s.cap {
		return ErrFull
	}
	s.records[rec.ID] = rec
	return nil
}

// Find returns the record for id, if any.
func (s *Store) Find(id ID) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Update replaces the stored record for rec.ID, used to advance
// LastAcceptedSeqNo after a successfully authenticated, non-replayed
// frame. It is a no-op if no record exists for rec.ID.
func (s *Store) Update(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		s.records[rec.ID] = rec
	}
}

// Remove deletes the record for id, if any. Used on successful UNBIND and
// on factory reset.
func (s *Store) Remove(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// Size returns the number of records currently stored.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Iter returns every record in the store, sorted by ID so callers (in
// particular factory reset and tests) observe a deterministic order; the
// underlying map has none.
func (s *Store) Iter() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		for k := 0; k < IDLen; k++ {
			if out[i].ID[k] != out[j].ID[k] {
				return out[i].ID[k] < out[j].ID[k]
			}
		}
		return false
	})
	return out
}

// Clear removes every record, used by factory reset.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[ID]Record, s.cap)
}

// NewID draws a uniformly random session_id from src, retrying while it
// collides with an id already present in the store. Collision probability
// is negligible at realistic store sizes, but the spec requires the retry
// regardless.
func NewID(src entropy.Source, s *Store) (ID, error) {
	for {
		b, err := entropy.Bytes(src, IDLen)
		if err != nil {
			return ID{}, err
		}
		var id ID
		copy(id[:], b)
		if _, ok := s.Find(id); !ok {
			return id, nil
		}
	}
}
