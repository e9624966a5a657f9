// Package receiver implements the receiver FSM (C5):
// STARTING/IDLE/CONFIGURING/PAIRING/UNPAIRING. It owns the session store
// (C3), consults the governor (C6) on every reception, and is the only
// component that mints session records.
//
// Like internal/transmitter, state is confined to a single event-loop
// goroutine fed by a channel; every public bus frame, private bus input
// (there is none for the receiver beyond what it emits), host operation,
// and timer callback enqueues a closure rather than touching state from
// its caller's goroutine.
package receiver

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
	"github.com/tommie/openepo/internal/session"
)

// Timing constants from the design notes.
const (
	StartupDelay      = 100 * time.Millisecond
	PairingTimeout    = 10 * time.Second
	ConfiguringWindow = 30 * time.Second
	ActRearmWindow    = 10 * time.Second
	UnpairingTimeout  = 10 * time.Second
	HelloInterval     = 400 * time.Millisecond
)

// Config configures a Receiver.
type Config struct {
	// Interfaces lists the interface types this receiver's host can
	// dispatch an Action to; advertised in HELLO and intersected with
	// whatever the transmitter reports supporting.
	Interfaces []codec.InterfaceType

	// Algorithms lists the candidate protection algorithms offered in
	// HELLO, in preference order. Defaults to [AlgorithmOCBTag64] if
	// empty, per the design notes' default.
	Algorithms []codec.ProtectionAlgorithm

	// SessionCapacity bounds the session store (N_MAX). Must be >= 1.
	SessionCapacity int

	PublicBus     bus.Bus
	PrivateBus    bus.Bus
	Scheduler     scheduler.Scheduler
	Governor      *governor.Governor
	EntropySource entropy.Source
	Host          host.ReceiverHost
	Logger        *slog.Logger
}

// Receiver is one receiver-side device: a session store plus the FSM that
// drives pairing, unpairing, and normal ACT dispatch.
type Receiver struct {
	cfg   Config
	store *session.Store
	in    chan func()
	done  chan struct{}

	// Touched only from the run loop goroutine.
	state             host.ReceiverState
	pendingSessionID  session.ID
	pendingKey        protection.Key
	pendingAlgorithms []codec.ProtectionAlgorithm
	helloSeq          uint32

	pairingCancel  scheduler.Cancel
	helloCancel    scheduler.Cancel
	windowCancel   scheduler.Cancel
	unsubPublic    bus.Unsubscribe
}

// New constructs a Receiver starting in STARTING and begins its event
// loop and startup timer; the timer is armed before New returns. After
// StartupDelay it transitions to IDLE if any sessions are present (loaded
// via Restore or Store before the delay elapses) or CONFIGURING otherwise.
func New(cfg Config) *Receiver {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	cfg.Logger = cfg.Logger.With(logging.KeyComponent, "receiver")
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = []codec.ProtectionAlgorithm{codec.AlgorithmOCBTag64}
	}
	if cfg.SessionCapacity < 1 {
		cfg.SessionCapacity = 1
	}

	r := &Receiver{
		cfg:   cfg,
		store: session.New(cfg.SessionCapacity),
		in:    make(chan func(), 32),
		done:  make(chan struct{}),
		state: host.ReceiverStarting,
	}
	r.unsubPublic = cfg.PublicBus.Subscribe(r.onPublicFrame)
	if cfg.Governor != nil {
		cfg.Governor.Start()
	}
	r.finishStartup()
	go r.run()
	return r
}

// Restore loads rec into the session store before startup completes. It
// must be called synchronously before the Receiver begins processing
// frames, i.e. immediately after New and before any bus traffic is
// expected; it is not safe to call concurrently with the run loop.
func (r *Receiver) Restore(rec session.Record) error {
	return r.store.InsertUnique(rec)
}

// Close stops the event loop and cancels the public-bus subscription.
func (r *Receiver) Close() {
	close(r.done)
	r.unsubPublic()
}

func (r *Receiver) run() {
	for {
		select {
		case fn := <-r.in:
			recovery.Guard(r.cfg.Logger, "receiver.run", fn)
		case <-r.done:
			return
		}
	}
}

func (r *Receiver) enqueue(fn func()) {
	select {
	case r.in <- fn:
	case <-r.done:
	}
}

// State returns the current FSM state, blocking until prior enqueued work
// has drained. Intended for tests and diagnostics.
func (r *Receiver) State() host.ReceiverState {
	result := make(chan host.ReceiverState, 1)
	r.enqueue(func() { result <- r.state })
	return <-result
}

// Store exposes the session store for persistence callers. Safe to read
// concurrently; Store itself is internally synchronized.
func (r *Receiver) Store() *session.Store { return r.store }

func (r *Receiver) setState(s host.ReceiverState) {
	if r.state == s {
		return
	}
	r.cfg.Logger.Debug("state transition", logging.KeyState, s.String())
	r.state = s
	r.cfg.Host.StateChanged(s)
}

func (r *Receiver) finishStartup() {
	r.cfg.Scheduler.SetTimeout(StartupDelay.Milliseconds(), func() {
		r.enqueue(func() {
			if r.store.Size() > 0 {
				r.setState(host.ReceiverIdle)
			} else {
				r.setState(host.ReceiverConfiguring)
			}
		})
	})
}

func (r *Receiver) onPublicFrame(f codec.Frame) {
	r.enqueue(func() { r.handlePublicFrame(f) })
}

func (r *Receiver) handlePublicFrame(f codec.Frame) {
	if r.cfg.Governor != nil {
		if !r.cfg.Governor.Ready() {
			return
		}
		if !r.cfg.Governor.AllowAdmission(f.Header.Type) {
			return
		}
	}

	switch f.Header.Type {
	case codec.MessageBind:
		r.handleBind(f)
	case codec.MessageUnbind:
		r.handleUnbind(f)
	case codec.MessageAct:
		r.handleAct(f)
	case codec.MessageConfigure:
		r.handleConfigure(f)
	}
}

func (r *Receiver) onReceptionError() {
	if r.cfg.Governor != nil {
		r.cfg.Governor.OnReceptionError()
	}
}

// SetPairing implements the host's set_pairing() operation, honored only
// from CONFIGURING: mints a fresh session id and key, constructs the
// candidate algorithm list, transitions to PAIRING with a 10s timeout,
// and begins the ~400ms periodic HELLO broadcast.
func (r *Receiver) SetPairing() {
	r.enqueue(r.setPairing)
}

func (r *Receiver) setPairing() {
	if r.state != host.ReceiverConfiguring {
		return
	}

	id, err := session.NewID(r.cfg.EntropySource, r.store)
	if err != nil {
		r.cfg.Logger.Error("generating session_id", logging.KeyError, err)
		return
	}
	keyBytes, err := entropy.Bytes(r.cfg.EntropySource, protection.KeyLen)
	if err != nil {
		r.cfg.Logger.Error("generating session_key", logging.KeyError, err, logging.KeySessionID, id)
		return
	}
	var key protection.Key
	copy(key[:], keyBytes)

	r.pendingSessionID = id
	r.pendingKey = key
	r.pendingAlgorithms = r.cfg.Algorithms
	r.helloSeq = 0

	r.setState(host.ReceiverPairing)
	r.pairingCancel = r.cfg.Scheduler.SetTimeout(PairingTimeout.Milliseconds(), func() {
		r.enqueue(r.pairingTimeout)
	})
	r.sendHello()
	r.helloCancel = r.cfg.Scheduler.SetInterval(HelloInterval.Milliseconds(), func() {
		r.enqueue(r.sendHello)
	})
}

func (r *Receiver) sendHello() {
	if r.state != host.ReceiverPairing {
		return
	}
	body := codec.HelloBody{
		Algorithms: r.pendingAlgorithms,
		Interfaces: r.cfg.Interfaces,
		SessionKey: [codec.SessionKeyLen]byte(r.pendingKey),
	}.Encode()

	hdr := codec.UnencryptedHeader{
		Type:      codec.MessageHello,
		SessionID: [4]byte(r.pendingSessionID),
		Algorithm: r.pendingAlgorithms[0],
		Nonce:     zeroNonce(r.pendingAlgorithms[0]),
	}
	frame, err := codec.Frame{Header: hdr, UnencryptedBody: body}.Encode()
	if err != nil {
		r.cfg.Logger.Error("encoding HELLO", logging.KeyError, err, logging.KeySessionID, r.pendingSessionID)
		return
	}
	decoded, err := codec.DecodeFrame(frame)
	if err != nil {
		r.cfg.Logger.Error("re-decoding HELLO", logging.KeyError, err, logging.KeySessionID, r.pendingSessionID)
		return
	}
	if err := r.cfg.PrivateBus.Send(decoded); err != nil {
		r.cfg.Logger.Error("sending HELLO", logging.KeyError, err, logging.KeySessionID, r.pendingSessionID)
	}
}

func (r *Receiver) stopPairingTimers() {
	if r.pairingCancel != nil {
		r.pairingCancel()
		r.pairingCancel = nil
	}
	if r.helloCancel != nil {
		r.helloCancel()
		r.helloCancel = nil
	}
}

func (r *Receiver) pairingTimeout() {
	if r.state != host.ReceiverPairing {
		return
	}
	r.stopPairingTimers()
	r.setState(host.ReceiverConfiguring)
}

// handleBind accepts a BIND matching the pending session during PAIRING,
// installing a session record and replying with BOUND.
func (r *Receiver) handleBind(f codec.Frame) {
	if r.state != host.ReceiverPairing {
		return
	}
	if session.ID(f.Header.SessionID) != r.pendingSessionID {
		return
	}

	unencBody, err := codec.DecodeBindUnencryptedBody(f.UnencryptedBody)
	if err != nil {
		r.onReceptionError()
		return
	}
	if !algorithmCandidate(unencBody.ProtectionAlgorithmType, r.pendingAlgorithms) {
		return
	}

	seq, body, err := protection.OpenFrame(r.pendingKey, f)
	if err != nil {
		r.onReceptionError()
		return
	}
	encBody, err := codec.DecodeBindEncryptedBody(body)
	if err != nil {
		r.onReceptionError()
		return
	}
	r.cfg.Logger.Debug("BIND accepted", logging.KeySessionID, r.pendingSessionID, logging.KeyTransmitterID, encBody.TransmitterID, logging.KeyInterface, encBody.InterfaceTypes, logging.KeySeqNo, seq)

	rec := session.Record{
		ID:                r.pendingSessionID,
		Algorithm:         f.Header.Algorithm,
		Key:               r.pendingKey,
		LastAcceptedSeqNo: seq,
	}
	if err := r.store.InsertUnique(rec); err != nil {
		// Capacity exhausted or (vanishingly unlikely) collision: BIND
		// fails cleanly, state returns to CONFIGURING at timeout per the
		// design notes rather than by immediate transition here.
		r.cfg.Logger.Warn("BIND rejected", logging.KeyError, err, logging.KeySessionID, r.pendingSessionID)
		return
	}

	r.stopPairingTimers()

	boundFrame, err := protection.SealFrame(r.pendingKey, codec.UnencryptedHeader{
		Type:      codec.MessageBound,
		SessionID: [4]byte(r.pendingSessionID),
		Algorithm: f.Header.Algorithm,
		Nonce:     zeroNonce(f.Header.Algorithm),
	}, nil, seq, codec.EmptyBody{}.Encode())
	if err != nil {
		r.cfg.Logger.Error("sealing BOUND", logging.KeyError, err, logging.KeySessionID, r.pendingSessionID)
		return
	}
	if err := r.cfg.PrivateBus.Send(boundFrame); err != nil {
		r.cfg.Logger.Error("sending BOUND", logging.KeyError, err, logging.KeySessionID, r.pendingSessionID)
	}

	r.armConfiguringWindow(ConfiguringWindow)
}

// armConfiguringWindow moves to CONFIGURING and arms a timeout back to
// IDLE after d. BIND and CONFIGURE use the 30s window; a successful ACT
// re-arms the shorter 10s window, per the design notes' distinct figures
// for these two cases.
func (r *Receiver) armConfiguringWindow(d time.Duration) {
	if r.windowCancel != nil {
		r.windowCancel()
	}
	r.setState(host.ReceiverConfiguring)
	r.windowCancel = r.cfg.Scheduler.SetTimeout(d.Milliseconds(), func() {
		r.enqueue(func() {
			if r.state == host.ReceiverConfiguring {
				r.setState(host.ReceiverIdle)
			}
		})
	})
}

// SetUnpairing implements the host's set_unpairing() operation, honored
// only from CONFIGURING.
func (r *Receiver) SetUnpairing() {
	r.enqueue(r.setUnpairing)
}

func (r *Receiver) setUnpairing() {
	if r.state != host.ReceiverConfiguring {
		return
	}
	r.setState(host.ReceiverUnpairing)
	r.pairingCancel = r.cfg.Scheduler.SetTimeout(UnpairingTimeout.Milliseconds(), func() {
		r.enqueue(func() {
			if r.state == host.ReceiverUnpairing {
				r.setState(host.ReceiverConfiguring)
			}
		})
	})
}

func (r *Receiver) handleUnbind(f codec.Frame) {
	if r.state != host.ReceiverUnpairing {
		return
	}
	rec, ok := r.store.Find(session.ID(f.Header.SessionID))
	if ok {
		if _, _, err := protection.OpenFrame(rec.Key, f); err != nil {
			r.onReceptionError()
			return
		}
		r.store.Remove(rec.ID)
	}
	r.cfg.Logger.Debug("UNBIND accepted", logging.KeySessionID, f.Header.SessionID)
	// Success is signaled whether or not the key was still present, to
	// confirm "you are no longer accepted".
	if r.pairingCancel != nil {
		r.pairingCancel()
		r.pairingCancel = nil
	}
	r.setState(host.ReceiverIdle)
}

func (r *Receiver) handleAct(f codec.Frame) {
	if r.state != host.ReceiverIdle && r.state != host.ReceiverConfiguring {
		return
	}
	rec, ok := r.store.Find(session.ID(f.Header.SessionID))
	if !ok {
		return
	}

	seq, body, err := protection.OpenFrame(rec.Key, f)
	if err != nil {
		r.onReceptionError()
		r.cfg.Host.AttemptedReception()
		return
	}
	if seq <= rec.LastAcceptedSeqNo {
		return // replay, silently dropped
	}

	actBody, err := codec.DecodeActBody(body)
	if err != nil {
		r.onReceptionError()
		return
	}
	r.cfg.Logger.Debug("ACT accepted", logging.KeySessionID, rec.ID, logging.KeySeqNo, seq, logging.KeyInterface, actBody.Interface)

	rec.LastAcceptedSeqNo = seq
	r.store.Update(rec)

	r.cfg.Host.Act(host.Action{Interface: actBody.Interface, Parameters: actBody.Parameters})
	r.armConfiguringWindow(ActRearmWindow)
}

func (r *Receiver) handleConfigure(f codec.Frame) {
	if r.state != host.ReceiverIdle {
		return
	}
	rec, ok := r.store.Find(session.ID(f.Header.SessionID))
	if !ok {
		return
	}
	if _, _, err := protection.OpenFrame(rec.Key, f); err != nil {
		r.onReceptionError()
		return
	}
	r.armConfiguringWindow(ConfiguringWindow)
}

// FactoryReset clears all sessions and cancels timers, returning to
// STARTING then CONFIGURING (an uncommissioned device has no sessions).
func (r *Receiver) FactoryReset() {
	r.enqueue(r.factoryReset)
}

func (r *Receiver) factoryReset() {
	r.stopPairingTimers()
	if r.windowCancel != nil {
		r.windowCancel()
		r.windowCancel = nil
	}
	r.store.Clear()
	r.setState(host.ReceiverStarting)
	r.finishStartup()
}

func algorithmCandidate(alg codec.ProtectionAlgorithm, candidates []codec.ProtectionAlgorithm) bool {
	for _, c := range candidates {
		if c == alg {
			return true
		}
	}
	return false
}

func zeroNonce(alg codec.ProtectionAlgorithm) []byte {
	n, ok := alg.NonceLen()
	if !ok {
		return nil
	}
	return make([]byte, n)
}
