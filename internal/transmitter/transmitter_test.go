package transmitter

import (
	"sync"
	"testing"
	"time"

	"github.com/tommie/openepo/internal/bus"
	"github.com/tommie/openepo/internal/codec"
	"github.com/tommie/openepo/internal/governor"
	"github.com/tommie/openepo/internal/host"
	"github.com/tommie/openepo/internal/protection"
	"github.com/tommie/openepo/internal/scheduler"
)

type fixedSource struct {
	b []byte
}

func (s fixedSource) RandomBytes(nBits int) ([]byte, error) {
	n := (nBits + 7) / 8
	out := make([]byte, n)
	copy(out, s.b)
	return out, nil
}

type recordingHost struct {
	mu       sync.Mutex
	states   []string
	pairings []bool
}

func (h *recordingHost) StateChanged(s host.TransmitterState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, s.String())
}

func (h *recordingHost) PairingChanged(paired bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pairings = append(h.pairings, paired)
}

func (h *recordingHost) lastPairing() (bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pairings) == 0 {
		return false, false
	}
	return h.pairings[len(h.pairings)-1], true
}

func newTestTransmitter(t *testing.T) (*Transmitter, *recordingHost, bus.Bus, bus.Bus, *scheduler.Fake) {
	t.Helper()
	privateBus := bus.NewMemory(nil)
	publicBus := bus.NewMemory(nil)
	sch := scheduler.NewFake()
	h := &recordingHost{}

	tx := New(Config{
		TransmitterID: [codec.TransmitterIDLen]byte{1, 2, 3, 4, 5, 6, 7, 8},
		Interfaces:    []codec.InterfaceType{codec.InterfaceButtonAct},
		PrivateBus:    privateBus,
		PublicBus:     publicBus,
		Scheduler:     sch,
		EntropySource: fixedSource{b: []byte{9, 9, 9, 9, 9, 9, 9, 9}},
		Host:          h,
	})
	t.Cleanup(tx.Close)
	return tx, h, privateBus, publicBus, sch
}

func TestHappyPairing(t *testing.T) {
	tx, h, privateBus, publicBus, _ := newTestTransmitter(t)

	var bindFrame codec.Frame
	gotBind := make(chan struct{}, 1)
	publicBus.Subscribe(func(f codec.Frame) {
		bindFrame = f
		select {
		case gotBind <- struct{}{}:
		default:
		}
	})

	tx.SetPairing()
	tx.State() // barrier: SetPairing processed

	sessionID := [4]byte{0x11, 0x22, 0x33, 0x44}
	key := protection.Key{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

	helloBody := codec.HelloBody{
		Algorithms: []codec.ProtectionAlgorithm{codec.AlgorithmOCBTag64},
		Interfaces: []codec.InterfaceType{codec.InterfaceButtonAct},
		SessionKey: key,
	}
	helloFrame := codec.Frame{
		Header: codec.UnencryptedHeader{
			Type:      codec.MessageHello,
			SessionID: sessionID,
			Algorithm: codec.AlgorithmOCBTag64,
			Nonce:     make([]byte, 4),
		},
		UnencryptedBody: helloBody.Encode(),
	}
	if err := privateBus.Send(helloFrame); err != nil {
		t.Fatalf("Send HELLO: %v", err)
	}

	select {
	case <-gotBind:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for BIND")
	}

	if bindFrame.Header.Type != codec.MessageBind {
		t.Fatalf("got message type %v, want BIND", bindFrame.Header.Type)
	}
	if bindFrame.Header.SessionID != sessionID {
		t.Errorf("BIND session_id = %x, want %x", bindFrame.Header.SessionID, sessionID)
	}

	seq, body, err := protection.OpenFrame(key, bindFrame)
	if err != nil {
		t.Fatalf("OpenFrame(BIND): %v", err)
	}
	if seq != 1 {
		t.Errorf("BIND seq = %d, want 1", seq)
	}
	encBody, err := codec.DecodeBindEncryptedBody(body)
	if err != nil {
		t.Fatalf("DecodeBindEncryptedBody: %v", err)
	}
	if encBody.TransmitterID != [8]byte{1, 2, 3, 4, 5, 6, 7, 8} {
		t.Errorf("BIND transmitter_id = %x", encBody.TransmitterID)
	}

	// Receiver replies with BOUND.
	boundFrame, err := protection.SealFrame(key, codec.UnencryptedHeader{
		Type:      codec.MessageBound,
		SessionID: sessionID,
		Algorithm: codec.AlgorithmOCBTag64,
		Nonce:     make([]byte, 4),
	}, nil, 1, codec.EmptyBody{}.Encode())
	if err != nil {
		t.Fatalf("SealFrame(BOUND): %v", err)
	}
	if err := privateBus.Send(boundFrame); err != nil {
		t.Fatalf("Send BOUND: %v", err)
	}

	tx.State() // barrier: BOUND processed

	if paired, ok := h.lastPairing(); !ok || !paired {
		t.Errorf("PairingChanged not fired true, got %v, %v", paired, ok)
	}
	if got := tx.State(); got.String() != "IDLE" {
		t.Errorf("state = %v, want IDLE", got)
	}
}

func TestActNoopWhenUnpaired(t *testing.T) {
	tx, _, _, publicBus, _ := newTestTransmitter(t)

	sent := false
	publicBus.Subscribe(func(codec.Frame) { sent = true })

	tx.Act(codec.InterfaceButtonAct, nil)
	tx.State() // barrier

	if sent {
		t.Error("Act sent a frame while unpaired")
	}
}

func TestPairingTimeoutReturnsToIdle(t *testing.T) {
	tx, _, _, _, sch := newTestTransmitter(t)

	tx.SetPairing()
	tx.State() // barrier
	if got := tx.State(); got.String() != "PAIRING" {
		t.Fatalf("state = %v, want PAIRING", got)
	}

	sch.Advance(PairingTimeout.Milliseconds())
	if got := tx.State(); got.String() != "IDLE" {
		t.Errorf("state after timeout = %v, want IDLE", got)
	}
}

func TestActIsBurstedWhenGovernorConfigured(t *testing.T) {
	privateBus := bus.NewMemory(nil)
	publicBus := bus.NewMemory(nil)
	sch := scheduler.NewFake()
	h := &recordingHost{}
	gov := governor.New(governor.Config{
		PreambleDuration: time.Millisecond,
		Scheduler:        sch,
	})
	key := protection.Key{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

	tx := New(Config{
		TransmitterID: [codec.TransmitterIDLen]byte{1, 2, 3, 4, 5, 6, 7, 8},
		Interfaces:    []codec.InterfaceType{codec.InterfaceButtonAct},
		PrivateBus:    privateBus,
		PublicBus:     publicBus,
		Scheduler:     sch,
		Governor:      gov,
		EntropySource: fixedSource{b: []byte{9, 9, 9, 9, 9, 9, 9, 9}},
		Host:          h,
		Restore: &Snapshot{
			Paired:    true,
			SessionID: [4]byte{0x11, 0x22, 0x33, 0x44},
			Algorithm: codec.AlgorithmOCBTag64,
			Key:       key,
		},
	})
	t.Cleanup(tx.Close)

	var seqNos []uint32
	publicBus.Subscribe(func(f codec.Frame) {
		seq, _, err := protection.OpenFrame(key, f)
		if err != nil {
			t.Fatalf("OpenFrame: %v", err)
		}
		seqNos = append(seqNos, seq)
	})

	tx.Act(codec.InterfaceButtonAct, nil)
	tx.State() // barrier: act() processed, first transmission sent synchronously

	if len(seqNos) != 1 {
		t.Fatalf("transmissions after first send = %d, want 1", len(seqNos))
	}

	sch.Advance(governor.BurstSpacingPreambles) // PreambleDuration is 1ms
	tx.State()                                  // barrier: drain any enqueued work
	if len(seqNos) != 2 {
		t.Fatalf("transmissions after one burst-spacing interval = %d, want 2", len(seqNos))
	}

	sch.Advance(governor.BurstSpacingPreambles)
	tx.State()
	if len(seqNos) != 3 {
		t.Fatalf("transmissions after two burst-spacing intervals = %d, want 3", len(seqNos))
	}

	for _, seq := range seqNos {
		if seq != seqNos[0] {
			t.Errorf("burst retransmission seq = %d, want all equal to %d", seq, seqNos[0])
		}
	}

	// A second Act queued before the spacing gate reopens must wait, not
	// overlap the first burst's transmissions.
	tx.Act(codec.InterfaceButtonAct, nil)
	tx.State()
	if len(seqNos) != 3 {
		t.Fatalf("second Act sent before spacing gate reopened, transmissions = %d, want 3", len(seqNos))
	}

	sch.Advance(governor.SpacingPreambles)
	tx.State()
	if len(seqNos) != 4 {
		t.Fatalf("transmissions after spacing gate reopened = %d, want 4", len(seqNos))
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	tx, h, privateBus, publicBus, _ := newTestTransmitter(t)

	gotBind := make(chan struct{}, 1)
	publicBus.Subscribe(func(f codec.Frame) {
		select {
		case gotBind <- struct{}{}:
		default:
		}
	})

	tx.SetPairing()
	tx.State() // barrier

	sessionID := [4]byte{0xaa, 0xbb, 0xcc, 0xdd}
	key := protection.Key{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	helloBody := codec.HelloBody{
		Algorithms: []codec.ProtectionAlgorithm{codec.AlgorithmOCBTag64},
		Interfaces: []codec.InterfaceType{codec.InterfaceButtonAct},
		SessionKey: key,
	}
	helloFrame := codec.Frame{
		Header: codec.UnencryptedHeader{
			Type:      codec.MessageHello,
			SessionID: sessionID,
			Algorithm: codec.AlgorithmOCBTag64,
			Nonce:     make([]byte, 4),
		},
		UnencryptedBody: helloBody.Encode(),
	}
	if err := privateBus.Send(helloFrame); err != nil {
		t.Fatalf("Send HELLO: %v", err)
	}
	select {
	case <-gotBind:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for BIND")
	}

	boundFrame, err := protection.SealFrame(key, codec.UnencryptedHeader{
		Type:      codec.MessageBound,
		SessionID: sessionID,
		Algorithm: codec.AlgorithmOCBTag64,
		Nonce:     make([]byte, 4),
	}, nil, 1, codec.EmptyBody{}.Encode())
	if err != nil {
		t.Fatalf("SealFrame(BOUND): %v", err)
	}
	if err := privateBus.Send(boundFrame); err != nil {
		t.Fatalf("Send BOUND: %v", err)
	}
	tx.State() // barrier: BOUND processed

	if paired, ok := h.lastPairing(); !ok || !paired {
		t.Fatalf("pairing did not complete before snapshot test, got %v, %v", paired, ok)
	}

	snap := tx.Snapshot()
	if !snap.Paired {
		t.Fatal("Snapshot().Paired = false, want true")
	}
	if snap.SessionID != sessionID {
		t.Errorf("Snapshot().SessionID = %x, want %x", snap.SessionID, sessionID)
	}
	if snap.Key != key {
		t.Errorf("Snapshot().Key = %x, want %x", snap.Key, key)
	}

	h2 := &recordingHost{}
	tx2 := New(Config{
		TransmitterID: [codec.TransmitterIDLen]byte{1, 2, 3, 4, 5, 6, 7, 8},
		Interfaces:    []codec.InterfaceType{codec.InterfaceButtonAct},
		PrivateBus:    bus.NewMemory(nil),
		PublicBus:     bus.NewMemory(nil),
		Scheduler:     scheduler.NewFake(),
		EntropySource: fixedSource{b: []byte{9, 9, 9, 9, 9, 9, 9, 9}},
		Host:          h2,
		Restore:       &snap,
	})
	t.Cleanup(tx2.Close)

	if got := tx2.State(); got.String() != "IDLE" {
		t.Errorf("restored state = %v, want IDLE", got)
	}
	restored := tx2.Snapshot()
	if restored.SessionID != sessionID || restored.Key != key || restored.TxSeq != snap.TxSeq {
		t.Errorf("restored snapshot = %+v, want session/key/seq to match %+v", restored, snap)
	}
}

func TestFactoryResetDrawsFreshTransmitterID(t *testing.T) {
	tx, h, _, _, _ := newTestTransmitter(t)

	tx.FactoryReset()
	tx.State() // barrier

	if paired, ok := h.lastPairing(); !ok || paired {
		t.Errorf("PairingChanged not fired false on factory reset, got %v, %v", paired, ok)
	}

	got := make(chan [codec.TransmitterIDLen]byte, 1)
	tx.enqueue(func() { got <- tx.cfg.TransmitterID })
	id := <-got
	want := [codec.TransmitterIDLen]byte{9, 9, 9, 9, 9, 9, 9, 9}
	if id != want {
		t.Errorf("TransmitterID after factory reset = %x, want %x", id, want)
	}
}
