package codec

func algorithmsToBytes(algs []ProtectionAlgorithm) []byte {
	b := make([]byte, len(algs))
	for i, a := range algs {
		b[i] = uint8(a)
	}
	return b
}

func bytesToAlgorithms(b []byte) []ProtectionAlgorithm {
	algs := make([]ProtectionAlgorithm, len(b))
	for i, v := range b {
		algs[i] = ProtectionAlgorithm(v)
	}
	return algs
}

func interfacesToBytes(ifaces []InterfaceType) []byte {
	b := make([]byte, len(ifaces))
	for i, t := range ifaces {
		b[i] = uint8(t)
	}
	return b
}

func bytesToInterfaces(b []byte) []InterfaceType {
	ifaces := make([]InterfaceType, len(b))
	for i, v := range b {
		ifaces[i] = InterfaceType(v)
	}
	return ifaces
}

// SessionKeyLen is the width of the session key HELLO carries in the
// clear. This is only ever safe because HELLO travels exclusively on the
// trusted line-of-sight private medium, never on the public radio link.
const SessionKeyLen = 16

// HelloBody is the plaintext-only HELLO body. session_id itself travels in
// the common header and is not repeated here. SessionKey is the fresh
// 16-byte key the receiver minted for this pairing window; carrying it in
// the clear is only sound because HELLO never reaches the public bus.
type HelloBody struct {
	Algorithms []ProtectionAlgorithm
	Interfaces []InterfaceType
	SessionKey [SessionKeyLen]byte
}

// Encode serializes the HELLO body.
func (b HelloBody) Encode() []byte {
	w := &writer{}
	w.list8(algorithmsToBytes(b.Algorithms))
	w.list8(interfacesToBytes(b.Interfaces))
	w.bytes(b.SessionKey[:])
	return w.bytesOut()
}

// DecodeHelloBody parses a HELLO body, requiring it to consume the buffer
// exactly (HELLO has no trailing fields beyond this).
func DecodeHelloBody(buf []byte) (HelloBody, error) {
	r := newReader(buf)
	algs, err := r.list8()
	if err != nil {
		return HelloBody{}, err
	}
	ifaces, err := r.list8()
	if err != nil {
		return HelloBody{}, err
	}
	keyBytes, err := r.take(SessionKeyLen)
	if err != nil {
		return HelloBody{}, err
	}
	if !r.atEnd() {
		return HelloBody{}, ErrTruncated
	}
	var key [SessionKeyLen]byte
	copy(key[:], keyBytes)
	return HelloBody{
		Algorithms: bytesToAlgorithms(algs),
		Interfaces: bytesToInterfaces(ifaces),
		SessionKey: key,
	}, nil
}

// BindUnencryptedBody is BIND's plaintext body: the candidate protection
// algorithm the transmitter adopted, checked by the receiver against its
// pending candidates before it even attempts decryption.
type BindUnencryptedBody struct {
	ProtectionAlgorithmType ProtectionAlgorithm
}

// Encode serializes the BIND unencrypted body.
func (b BindUnencryptedBody) Encode() []byte {
	w := &writer{}
	w.u8(uint8(b.ProtectionAlgorithmType))
	return w.bytesOut()
}

// DecodeBindUnencryptedBody parses BIND's unencrypted body.
func DecodeBindUnencryptedBody(buf []byte) (BindUnencryptedBody, error) {
	r := newReader(buf)
	alg, err := r.u8()
	if err != nil {
		return BindUnencryptedBody{}, err
	}
	if !r.atEnd() {
		return BindUnencryptedBody{}, ErrTruncated
	}
	return BindUnencryptedBody{ProtectionAlgorithmType: ProtectionAlgorithm(alg)}, nil
}

// TransmitterIDLen is the width chosen for BIND's transmitter_id field (the
// design notes record two competing drafts, 8 and 16 bytes; this
// implementation uses 8, consistent within the deployment).
const TransmitterIDLen = 8

// BindEncryptedBody is BIND's authenticated body: the transmitter's
// identifier and the interface types it supports.
type BindEncryptedBody struct {
	TransmitterID  [TransmitterIDLen]byte
	InterfaceTypes []InterfaceType
}

// Encode serializes the BIND encrypted body.
func (b BindEncryptedBody) Encode() []byte {
	w := &writer{}
	w.bytes(b.TransmitterID[:])
	w.list8(interfacesToBytes(b.InterfaceTypes))
	return w.bytesOut()
}

// DecodeBindEncryptedBody parses BIND's authenticated body.
func DecodeBindEncryptedBody(buf []byte) (BindEncryptedBody, error) {
	r := newReader(buf)
	idBytes, err := r.take(TransmitterIDLen)
	if err != nil {
		return BindEncryptedBody{}, err
	}
	ifaceBytes, err := r.list8()
	if err != nil {
		return BindEncryptedBody{}, err
	}
	if !r.atEnd() {
		return BindEncryptedBody{}, ErrTruncated
	}
	var id [TransmitterIDLen]byte
	copy(id[:], idBytes)
	return BindEncryptedBody{
		TransmitterID:  id,
		InterfaceTypes: bytesToInterfaces(ifaceBytes),
	}, nil
}

// EmptyBody is the shared shape for message bodies that are present but
// carry no fields: BOUND (both halves), UNBIND (encrypted half), and
// CONFIGURE (both halves). Authentication still covers them as associated
// data / zero-length plaintext.
type EmptyBody struct{}

// Encode serializes an empty body (zero bytes).
func (EmptyBody) Encode() []byte { return nil }

// DecodeEmptyBody validates that a body claiming to be empty really is.
func DecodeEmptyBody(buf []byte) (EmptyBody, error) {
	if len(buf) != 0 {
		return EmptyBody{}, ErrTruncated
	}
	return EmptyBody{}, nil
}

// ActBody is ACT's authenticated body: an interface selector and its
// (extensible) parameters. BUTTON_ACT carries no parameters; unknown
// interface types have their parameters skipped, not rejected, per the
// extensible-union rule, but the receiver's host dispatch still has no
// handler to invoke for them.
type ActBody struct {
	Interface  InterfaceType
	Parameters []byte
}

// Encode serializes the ACT body.
func (b ActBody) Encode() []byte {
	w := &writer{}
	w.u8(uint8(b.Interface))
	w.extensible(b.Parameters)
	return w.bytesOut()
}

// DecodeActBody parses the ACT body.
func DecodeActBody(buf []byte) (ActBody, error) {
	r := newReader(buf)
	iface, err := r.u8()
	if err != nil {
		return ActBody{}, err
	}
	params, err := r.extensible()
	if err != nil {
		return ActBody{}, err
	}
	if !r.atEnd() {
		return ActBody{}, ErrTruncated
	}
	return ActBody{Interface: InterfaceType(iface), Parameters: append([]byte(nil), params...)}, nil
}
