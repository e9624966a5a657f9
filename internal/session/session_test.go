package session

import (
	"errors"
	"testing"

	"github.com/tommie/openepo/internal/codec"
)

func rec(id byte) Record {
	return Record{
		ID:        ID{0, 0, 0, id},
		Algorithm: codec.AlgorithmOCBTag64,
	}
}

func TestInsertUniqueFindRemove(t *testing.T) {
	s := New(4)

	if err := s.InsertUnique(rec(1)); err != nil {
		t.Fatalf("InsertUnique: %v", err)
	}
	got, ok := s.Find(ID{0, 0, 0, 1})
	if !ok {
		t.Fatal("Find: record not found after insert")
	}
	if got.Algorithm != codec.AlgorithmOCBTag64 {
		t.Errorf("Algorithm = %v, want AlgorithmOCBTag64", got.Algorithm)
	}

	s.Remove(ID{0, 0, 0, 1})
	if _, ok := s.Find(ID{0, 0, 0, 1}); ok {
		t.Error("Find: record still present after Remove")
	}
}

func TestInsertUniqueCollision(t *testing.T) {
	s := New(4)
	if err := s.InsertUnique(rec(1)); err != nil {
		t.Fatalf("InsertUnique: %v", err)
	}
	err := s.InsertUnique(rec(1))
	if !errors.Is(err, ErrCollision) {
		t.Errorf("InsertUnique duplicate id: err = %v, want ErrCollision", err)
	}
}

func TestInsertUniqueCapacity(t *testing.T) {
	s := New(2)
	if err := s.InsertUnique(rec(1)); err != nil {
		t.Fatalf("InsertUnique 1: %v", err)
	}
	if err := s.InsertUnique(rec(2)); err != nil {
		t.Fatalf("InsertUnique 2: %v", err)
	}
	err := s.InsertUnique(rec(3))
	if !errors.Is(err, ErrFull) {
		t.Errorf("InsertUnique over capacity: err = %v, want ErrFull", err)
	}
	if s.Size() != 2 {
		t.Errorf("Size = %d, want 2", s.Size())
	}
}

func TestUpdateAdvancesSeqNo(t *testing.T) {
	s := New(4)
	r := rec(1)
	if err := s.InsertUnique(r); err != nil {
		t.Fatalf("InsertUnique: %v", err)
	}
	r.LastAcceptedSeqNo = 42
	s.Update(r)

	got, ok := s.Find(r.ID)
	if !ok {
		t.Fatal("Find: missing after Update")
	}
	if got.LastAcceptedSeqNo != 42 {
		t.Errorf("LastAcceptedSeqNo = %d, want 42", got.LastAcceptedSeqNo)
	}
}

func TestUpdateMissingIsNoop(t *testing.T) {
	s := New(4)
	r := rec(9)
	r.LastAcceptedSeqNo = 1
	s.Update(r) // no matching record; must not insert
	if s.Size() != 0 {
		t.Errorf("Size = %d, want 0 after Update on absent id", s.Size())
	}
}

func TestIterSortedOrder(t *testing.T) {
	s := New(4)
	for _, id := range []byte{3, 1, 2} {
		if err := s.InsertUnique(rec(id)); err != nil {
			t.Fatalf("InsertUnique(%d): %v", id, err)
		}
	}
	got := s.Iter()
	if len(got) != 3 {
		t.Fatalf("Iter returned %d records, want 3", len(got))
	}
	for i := 0; i < len(got)-1; i++ {
		if got[i].ID[3] > got[i+1].ID[3] {
			t.Errorf("Iter not sorted: %v before %v", got[i].ID, got[i+1].ID)
		}
	}
}

func TestClear(t *testing.T) {
	s := New(4)
	if err := s.InsertUnique(rec(1)); err != nil {
		t.Fatalf("InsertUnique: %v", err)
	}
	s.Clear()
	if s.Size() != 0 {
		t.Errorf("Size = %d, want 0 after Clear", s.Size())
	}
}

type sequentialSource struct {
	next byte
}

func (s *sequentialSource) RandomBytes(nBits int) ([]byte, error) {
	n := (nBits + 7) / 8
	b := make([]byte, n)
	for i := range b {
		b[i] = s.next
	}
	s.next++
	return b, nil
}

func TestNewIDRetriesOnCollision(t *testing.T) {
	s := New(4)
	// Pre-occupy the id the sequential source will yield first (all
	// zero-bytes, since next starts at 0).
	if err := s.InsertUnique(rec(0)); err != nil {
		t.Fatalf("InsertUnique: %v", err)
	}

	src := &sequentialSource{next: 0}
	id, err := NewID(src, s)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	if id == (ID{0, 0, 0, 0}) {
		t.Error("NewID returned a colliding id instead of retrying")
	}
}
