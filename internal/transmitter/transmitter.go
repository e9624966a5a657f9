// Package transmitter implements the transmitter FSM (C4): the IDLE/PAIRING
// state machine that drives pairing, action emission, unpairing, and
// factory reset from the transmitter's side of a pairing relationship.
//
// The core's single cooperative execution context (see the design notes)
// is realized here as a one-goroutine event loop fed by a buffered
// channel: host operations, private-bus deliveries, and timer callbacks
// all enqueue a closure rather than mutating state directly, so every
// state transition is processed in arrival order with no locking.
package transmitter

import (
	"log/slog"
	"time"

	"github.com/tommie/openepo/internal/bus"
	"github.com/tommie/openepo/internal/codec"
	"github.com/tommie/openepo/internal/entropy"
	"github.com/tommie/openepo/internal/governor"
	"github.com/tommie/openepo/internal/host"
	"github.com/tommie/openepo/internal/logging"
	"github.com/tommie/openepo/internal/protection"
	"github.com/tommie/openepo/internal/recovery"
	"github.com/tommie/openepo/internal/scheduler"
)

// PairingTimeout is how long PAIRING waits for a HELLO/BOUND exchange to
// complete before reverting to IDLE.
const PairingTimeout = 10 * time.Second

// Config configures a Transmitter. All fields are required except Logger,
// Restore, and Governor.
type Config struct {
	// TransmitterID identifies this transmitter in BIND's encrypted body.
	// It is replaced with a fresh value from EntropySource on every
	// FactoryReset.
	TransmitterID [codec.TransmitterIDLen]byte

	// Interfaces lists the interface types this transmitter can drive;
	// BIND advertises the intersection of this set with whatever HELLO
	// offers.
	Interfaces []codec.InterfaceType

	// Restore seeds the transmitter's pairing state from a previous
	// session, loaded by the caller via internal/persistence before New
	// is called. Nil for a never-paired transmitter.
	Restore *Snapshot

	// Governor, if set, drives the bursting-sender rule (C6) for every
	// frame this transmitter puts on the public bus: each frame is
	// emitted three times BurstSpacingPreambles apart, and the next
	// frame (bursted or not) waits SpacingPreambles before it may start.
	// Nil disables bursting, sending each frame exactly once — the
	// behavior tests rely on.
	Governor *governor.Governor

	PrivateBus    bus.Bus
	PublicBus     bus.Bus
	Scheduler     scheduler.Scheduler
	EntropySource entropy.Source
	Host          host.TransmitterHost
	Logger        *slog.Logger
}

// Snapshot is the subset of transmitter state that must survive a power
// cycle: the adopted session (if any) and the sequence counter, so a
// restart never reuses a nonce under the same key.
type Snapshot struct {
	Paired    bool
	Unbound   bool
	SessionID [4]byte
	Algorithm codec.ProtectionAlgorithm
	Key       protection.Key
	TxSeq     uint32
}

// Transmitter is one transmitter-side pairing relationship.
type Transmitter struct {
	cfg  Config
	in   chan func()
	done chan struct{}

	// Fields below are only ever touched from the run loop goroutine.
	state     host.TransmitterState
	paired    bool
	unbound   bool
	sessionID [4]byte
	algorithm codec.ProtectionAlgorithm
	key       protection.Key
	txSeq     uint32

	pairingCancel scheduler.Cancel
	unsubPrivate  bus.Unsubscribe

	// sendReady and pendingSend implement the governor's inter-frame
	// spacing rule: only one frame (or burst of a frame) may be in
	// flight at a time, and the next one queues behind it rather than
	// jumping the gate.
	sendReady   bool
	pendingSend func()
}

// New constructs a Transmitter starting in IDLE, unpaired, and begins its
// event loop. Close must be called to release the private-bus
// subscription.
func New(cfg Config) *Transmitter {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	cfg.Logger = cfg.Logger.With(logging.KeyComponent, "transmitter")
	t := &Transmitter{
		cfg:       cfg,
		in:        make(chan func(), 32),
		done:      make(chan struct{}),
		sendReady: true,
	}
	if cfg.Restore != nil {
		t.paired = cfg.Restore.Paired
		t.unbound = cfg.Restore.Unbound
		t.sessionID = cfg.Restore.SessionID
		t.algorithm = cfg.Restore.Algorithm
		t.key = cfg.Restore.Key
		t.txSeq = cfg.Restore.TxSeq
	}
	t.unsubPrivate = cfg.PrivateBus.Subscribe(t.onPrivateFrame)
	go t.run()
	return t
}

// Close stops the event loop and cancels the private-bus subscription.
func (t *Transmitter) Close() {
	close(t.done)
	t.unsubPrivate()
}

func (t *Transmitter) run() {
	for {
		select {
		case fn := <-t.in:
			recovery.Guard(t.cfg.Logger, "transmitter.run", fn)
		case <-t.done:
			return
		}
	}
}

func (t *Transmitter) enqueue(fn func()) {
	select {
	case t.in <- fn:
	case <-t.done:
	}
}

func (t *Transmitter) onPrivateFrame(f codec.Frame) {
	t.enqueue(func() { t.handlePrivateFrame(f) })
}

// State returns the current FSM state. Safe to call from any goroutine in
// that it enqueues and blocks for the answer; intended for tests and
// diagnostics, not the hot path.
func (t *Transmitter) State() host.TransmitterState {
	result := make(chan host.TransmitterState, 1)
	t.enqueue(func() { result <- t.state })
	return <-result
}

// Snapshot returns the current pairing state for the caller to persist,
// e.g. via internal/persistence, after every state change that matters
// (pairing, unpairing, and periodically to checkpoint txSeq).
func (t *Transmitter) Snapshot() Snapshot {
	result := make(chan Snapshot, 1)
	t.enqueue(func() {
		result <- Snapshot{
			Paired:    t.paired,
			Unbound:   t.unbound,
			SessionID: t.sessionID,
			Algorithm: t.algorithm,
			Key:       t.key,
			TxSeq:     t.txSeq,
		}
	})
	return <-result
}

// TransmitterID returns the identifier BIND advertises in its encrypted
// body, for the caller to persist alongside the pairing Snapshot.
func (t *Transmitter) TransmitterID() [codec.TransmitterIDLen]byte {
	result := make(chan [codec.TransmitterIDLen]byte, 1)
	t.enqueue(func() { result <- t.cfg.TransmitterID })
	return <-result
}

func (t *Transmitter) setState(s host.TransmitterState) {
	if t.state == s {
		return
	}
	t.state = s
	t.cfg.Host.StateChanged(s)
}

// SetPairing implements the host's set_pairing() operation: any state to
// PAIRING, arming the 10s timeout back to IDLE.
func (t *Transmitter) SetPairing() {
	t.enqueue(t.setPairing)
}

func (t *Transmitter) setPairing() {
	if t.pairingCancel != nil {
		t.pairingCancel()
	}
	t.setState(host.TransmitterPairing)
	t.cfg.Logger.Debug("arming pairing timeout", logging.KeyDuration, PairingTimeout)
	t.pairingCancel = t.cfg.Scheduler.SetTimeout(PairingTimeout.Milliseconds(), func() {
		t.enqueue(t.pairingTimeout)
	})
}

func (t *Transmitter) pairingTimeout() {
	if t.state != host.TransmitterPairing {
		return
	}
	t.setState(host.TransmitterIdle)
}

func (t *Transmitter) handlePrivateFrame(f codec.Frame) {
	switch f.Header.Type {
	case codec.MessageHello:
		t.handleHello(f)
	case codec.MessageBound:
		t.handleBound(f)
	}
}

// handleHello adopts the first supported algorithm HELLO offers, records
// the session id and key, computes the interface intersection, and
// replies with BIND. A HELLO whose interface intersection is empty is
// ignored outright: per the design notes' resolution of the HELLO
// termination open question, the transmitter lets its own PAIRING timer
// expire rather than adopting a session it cannot act through.
func (t *Transmitter) handleHello(f codec.Frame) {
	if t.state != host.TransmitterPairing {
		return
	}

	body, err := codec.DecodeHelloBody(f.UnencryptedBody)
	if err != nil {
		t.cfg.Logger.Warn("discarding malformed HELLO", logging.KeyError, err)
		return
	}

	alg, ok := firstSupportedAlgorithm(body.Algorithms)
	if !ok {
		return
	}

	ifaces := intersectInterfaces(body.Interfaces, t.cfg.Interfaces)
	if len(ifaces) == 0 {
		return
	}

	t.sessionID = f.Header.SessionID
	t.algorithm = alg
	t.key = protection.Key(body.SessionKey)
	t.unbound = true

	t.txSeq++
	nonce := make([]byte, 0)
	if n, ok := alg.NonceLen(); ok {
		nonce = make([]byte, n)
		putU32Tail(nonce, t.txSeq)
	}
	hdr := codec.UnencryptedHeader{
		Type:      codec.MessageBind,
		SessionID: t.sessionID,
		Algorithm: alg,
		Nonce:     nonce,
	}
	unencBody := codec.BindUnencryptedBody{ProtectionAlgorithmType: alg}.Encode()
	body2 := codec.BindEncryptedBody{
		TransmitterID:  t.cfg.TransmitterID,
		InterfaceTypes: ifaces,
	}.Encode()

	frame, err := protection.SealFrame(t.key, hdr, unencBody, t.txSeq, body2)
	if err != nil {
		t.cfg.Logger.Error("sealing BIND", logging.KeyError, err, logging.KeySessionID, t.sessionID)
		return
	}
	t.emit(frame)
}

func (t *Transmitter) handleBound(f codec.Frame) {
	if t.state != host.TransmitterPairing {
		return
	}
	if f.Header.SessionID != t.sessionID {
		return
	}
	if _, _, err := protection.OpenFrame(t.key, f); err != nil {
		t.cfg.Logger.Warn("BOUND auth failure", logging.KeyError, err, logging.KeySessionID, t.sessionID)
		return
	}

	t.unbound = false
	t.paired = true
	if t.pairingCancel != nil {
		t.pairingCancel()
		t.pairingCancel = nil
	}
	t.cfg.Host.PairingChanged(true)
	t.setState(host.TransmitterIdle)
}

// Act implements the host's act(interface) operation: emits ACT encrypted
// under the adopted session key. A no-op if unpaired or if the key is
// still marked unbound (BIND sent, BOUND not yet received).
func (t *Transmitter) Act(iface codec.InterfaceType, parameters []byte) {
	t.enqueue(func() { t.act(iface, parameters) })
}

func (t *Transmitter) act(iface codec.InterfaceType, parameters []byte) {
	if !t.paired || t.unbound {
		return
	}
	t.sendEncrypted(codec.MessageAct, codec.ActBody{Interface: iface, Parameters: parameters}.Encode())
}

// SetConfiguring implements the host's set_configuring() operation: emits
// CONFIGURE while paired and not unbound.
func (t *Transmitter) SetConfiguring() {
	t.enqueue(t.setConfiguring)
}

func (t *Transmitter) setConfiguring() {
	if !t.paired || t.unbound {
		return
	}
	t.sendEncrypted(codec.MessageConfigure, codec.EmptyBody{}.Encode())
}

// Unpair implements the host's unpair() operation: emits UNBIND, marks the
// key unbound, and notifies the host. The key and session id are
// retained, since delivery of UNBIND is never confirmed at this layer.
func (t *Transmitter) Unpair() {
	t.enqueue(t.unpair)
}

func (t *Transmitter) unpair() {
	if !t.paired {
		return
	}
	t.sendEncrypted(codec.MessageUnbind, codec.EmptyBody{}.Encode())
	t.unbound = true
	t.cfg.Host.PairingChanged(false)
}

// FactoryReset clears the key, session id, and sequence counter, and
// draws a fresh TransmitterID from the injected random source, per the
// design notes' resolution of the factory-reset open question. It returns
// to IDLE, unpaired.
func (t *Transmitter) FactoryReset() {
	t.enqueue(t.factoryReset)
}

func (t *Transmitter) factoryReset() {
	if t.pairingCancel != nil {
		t.pairingCancel()
		t.pairingCancel = nil
	}
	t.paired = false
	t.unbound = false
	t.sessionID = [4]byte{}
	t.key = protection.Key{}
	t.txSeq = 0

	if id, err := entropy.Bytes(t.cfg.EntropySource, codec.TransmitterIDLen); err == nil {
		copy(t.cfg.TransmitterID[:], id)
	} else {
		t.cfg.Logger.Error("drawing fresh transmitter_id on factory reset", logging.KeyError, err)
	}

	t.cfg.Host.PairingChanged(false)
	t.setState(host.TransmitterIdle)
}

func (t *Transmitter) sendEncrypted(msgType codec.MessageType, body []byte) {
	t.txSeq++
	nonce := make([]byte, 0)
	if n, ok := t.algorithm.NonceLen(); ok {
		nonce = make([]byte, n)
		putU32Tail(nonce, t.txSeq)
	}
	hdr := codec.UnencryptedHeader{
		Type:      msgType,
		SessionID: t.sessionID,
		Algorithm: t.algorithm,
		Nonce:     nonce,
	}
	frame, err := protection.SealFrame(t.key, hdr, nil, t.txSeq, body)
	if err != nil {
		t.cfg.Logger.Error("sealing frame", logging.KeyMessageType, msgType, logging.KeyError, err, logging.KeySessionID, t.sessionID)
		return
	}
	t.emit(frame)
}

// emit puts frame on the public bus, applying the governor's
// bursting-sender rule (C6): the frame is transmitted three times
// BurstSpacingPreambles apart, and queued behind whatever burst or
// single send is already in flight so two emissions never overlap and
// violate the SpacingPreambles rule between them. With no Governor
// configured, frame goes out once, immediately — the behavior the unit
// tests exercise.
func (t *Transmitter) emit(frame codec.Frame) {
	if t.cfg.Governor == nil {
		t.sendFrame(frame)
		return
	}
	send := func() { t.startSend(frame) }
	if !t.sendReady {
		t.pendingSend = send
		return
	}
	send()
}

func (t *Transmitter) startSend(frame codec.Frame) {
	t.sendReady = false
	t.cfg.Governor.Burst(func() { t.sendFrame(frame) })
	spacing := t.cfg.Governor.Spacing()
	t.cfg.Scheduler.SetTimeout(spacing.Milliseconds(), func() {
		t.enqueue(t.sendGateOpen)
	})
}

func (t *Transmitter) sendGateOpen() {
	t.sendReady = true
	if next := t.pendingSend; next != nil {
		t.pendingSend = nil
		next()
	}
}

func (t *Transmitter) sendFrame(frame codec.Frame) {
	if err := t.cfg.PublicBus.Send(frame); err != nil {
		t.cfg.Logger.Error("sending frame", logging.KeyMessageType, frame.Header.Type, logging.KeyError, err, logging.KeySessionID, frame.Header.SessionID)
	}
}

// putU32Tail writes v big-endian into the last 4 bytes of nonce (which may
// be 4 or 8 bytes depending on the adopted algorithm's tag width),
// guaranteeing a distinct nonce per sequence number within a session.
func putU32Tail(nonce []byte, v uint32) {
	if len(nonce) < 4 {
		return
	}
	n := len(nonce)
	nonce[n-1] = byte(v)
	nonce[n-2] = byte(v >> 8)
	nonce[n-3] = byte(v >> 16)
	nonce[n-4] = byte(v >> 24)
}

func firstSupportedAlgorithm(algs []codec.ProtectionAlgorithm) (codec.ProtectionAlgorithm, bool) {
	for _, a := range algs {
		if _, ok := a.NonceLen(); ok {
			return a, true
		}
	}
	return 0, false
}

func intersectInterfaces(offered, supported []codec.InterfaceType) []codec.InterfaceType {
	set := make(map[codec.InterfaceType]bool, len(supported))
	for _, i := range supported {
		set[i] = true
	}
	var out []codec.InterfaceType
	for _, i := range offered {
		if set[i] {
			out = append(out, i)
		}
	}
	return out
}
