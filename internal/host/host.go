// Package host defines the boundary between the protocol core and the
// surrounding device: the UI, GPIO, or actuator that drives pairing and
// receives state/action callbacks. The core never assumes a concrete
// implementation; cmd/openepo's demo wires TransmitterHost and
// ReceiverHost to terminal output and a simulated lock.
package host

import "github.com/tommie/openepo/internal/codec"

// TransmitterState is the transmitter FSM's externally visible state (C4).
type TransmitterState int

const (
	TransmitterIdle TransmitterState = iota
	TransmitterPairing
)

// String returns a human-readable state name, used in logs.
func (s TransmitterState) String() string {
	switch s {
	case TransmitterIdle:
		return "IDLE"
	case TransmitterPairing:
		return "PAIRING"
	default:
		return "UNKNOWN"
	}
}

// ReceiverState is the receiver FSM's externally visible state (C5).
type ReceiverState int

const (
	ReceiverStarting ReceiverState = iota
	ReceiverIdle
	ReceiverConfiguring
	ReceiverPairing
	ReceiverUnpairing
)

// String returns a human-readable state name, used in logs.
func (s ReceiverState) String() string {
	switch s {
	case ReceiverStarting:
		return "STARTING"
	case ReceiverIdle:
		return "IDLE"
	case ReceiverConfiguring:
		return "CONFIGURING"
	case ReceiverPairing:
		return "PAIRING"
	case ReceiverUnpairing:
		return "UNPAIRING"
	default:
		return "UNKNOWN"
	}
}

// Action is the decoded, authenticated, replay-checked payload the
// receiver hands to its host on a successful ACT.
type Action struct {
	Interface  codec.InterfaceType
	Parameters []byte
}

// TransmitterHost receives callbacks from a Transmitter. Implementations
// must not block: the core's single cooperative execution context
// delivers every bus frame and timer callback through these same methods.
type TransmitterHost interface {
	// StateChanged reports a transmitter FSM state transition.
	StateChanged(TransmitterState)

	// PairingChanged reports the paired/unpaired flag, set true on a
	// successful BOUND and false on a host-initiated unpair.
	PairingChanged(paired bool)
}

// ReceiverHost receives callbacks from a Receiver.
type ReceiverHost interface {
	// StateChanged reports a receiver FSM state transition.
	StateChanged(ReceiverState)

	// Act is invoked once per accepted, non-replayed ACT frame.
	Act(Action)

	// AttemptedReception optionally reports an auth failure on an
	// ACT-shaped frame, distinct from Act. Framing errors MUST NOT
	// reach this callback, per the design notes; only an ACT for a known
	// session whose authentication fails does. Hosts that don't care may
	// leave this a no-op.
	AttemptedReception()
}
