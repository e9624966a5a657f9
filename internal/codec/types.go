package codec

// MessageType identifies the message carried by a frame's header.
type MessageType uint8

const (
	// MessageReserved (0) is never sent.
	MessageReserved MessageType = 0
	// MessageHello (1): private bus, receiver -> transmitter, plaintext only.
	MessageHello MessageType = 1
	// MessageBound (2): private bus, receiver -> transmitter, encrypted.
	MessageBound MessageType = 2
	// MessageBind (3): public bus, transmitter -> receiver.
	MessageBind MessageType = 3
	// MessageUnbind (4): public bus, encrypted.
	MessageUnbind MessageType = 4
	// MessageConfigure (5): public bus, encrypted, empty bodies.
	MessageConfigure MessageType = 5
	// MessageAct (8): public bus, encrypted.
	MessageAct MessageType = 8
)

// String returns a human-readable message type name, used in logs.
func (t MessageType) String() string {
	switch t {
	case MessageReserved:
		return "RESERVED"
	case MessageHello:
		return "HELLO"
	case MessageBound:
		return "BOUND"
	case MessageBind:
		return "BIND"
	case MessageUnbind:
		return "UNBIND"
	case MessageConfigure:
		return "CONFIGURE"
	case MessageAct:
		return "ACT"
	default:
		return "UNKNOWN"
	}
}

// HasEncryptedPart reports whether this message type carries an AEAD
// encrypted part. Only HELLO is plaintext-only.
func (t MessageType) HasEncryptedPart() bool {
	return t != MessageHello
}

// ProtectionAlgorithm identifies the AEAD construction and nonce width used
// for a session, carried as the discriminant of the header's protection
// union.
type ProtectionAlgorithm uint8

const (
	// AlgorithmOCBTag128 is AEAD_AES_128_OCB_TAGLEN128, 8-byte nonce.
	AlgorithmOCBTag128 ProtectionAlgorithm = 20
	// AlgorithmOCBTag64 is AEAD_AES_128_OCB_TAGLEN64, 4-byte nonce.
	AlgorithmOCBTag64 ProtectionAlgorithm = 22
)

// NonceLen returns the nonce width in bytes for a known algorithm, or
// (0, false) for anything else (including the >=128 private-use range,
// which this implementation does not assign a meaning to).
func (a ProtectionAlgorithm) NonceLen() (int, bool) {
	switch a {
	case AlgorithmOCBTag128:
		return 8, true
	case AlgorithmOCBTag64:
		return 4, true
	default:
		return 0, false
	}
}

// TagLen returns the AEAD authentication tag width in bytes for a known
// algorithm.
func (a ProtectionAlgorithm) TagLen() (int, bool) {
	switch a {
	case AlgorithmOCBTag128:
		return 16, true
	case AlgorithmOCBTag64:
		return 8, true
	default:
		return 0, false
	}
}

func (a ProtectionAlgorithm) String() string {
	switch a {
	case AlgorithmOCBTag128:
		return "AEAD_AES_128_OCB_TAGLEN128"
	case AlgorithmOCBTag64:
		return "AEAD_AES_128_OCB_TAGLEN64"
	default:
		return "UNKNOWN"
	}
}

// InterfaceType identifies the kind of interface an ACT message addresses.
type InterfaceType uint8

// InterfaceButtonAct is the only interface type defined by the base
// specification: a single momentary button action (lock/unlock toggle,
// garage door, blind stop/go, depending on deployment).
const InterfaceButtonAct InterfaceType = 1

func (t InterfaceType) String() string {
	switch t {
	case InterfaceButtonAct:
		return "BUTTON_ACT"
	default:
		return "UNKNOWN"
	}
}
