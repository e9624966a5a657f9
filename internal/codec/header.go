package codec

// Version is the only header version this implementation speaks; the
// version field keys an extensible union of header layouts and v1 is
// frozen per the design notes.
const Version uint8 = 1

// UnencryptedHeader is the common header present on every frame: protocol
// version, message type, session id, and the protection algorithm
// discriminant with its nonce.
type UnencryptedHeader struct {
	Type      MessageType
	SessionID [4]byte
	Algorithm ProtectionAlgorithm
	Nonce     []byte
}

// Encode serializes the header. If forAD is true the nonce is spliced out
// (zero-length) as required when building AEAD associated data, per the
// protection design: "the nonce field treated as zero-length during AD
// hashing".
func (h UnencryptedHeader) encode(forAD bool) ([]byte, error) {
	nonceLen, ok := h.Algorithm.NonceLen()
	if !ok {
		return nil, ErrUnknownTag
	}
	if !forAD && len(h.Nonce) != nonceLen {
		return nil, ErrTruncated
	}

	w := &writer{}
	w.u8(Version<<4 | uint8(h.Type)&0x0f)
	w.bytes(h.SessionID[:])
	w.u8(uint8(h.Algorithm))
	if !forAD {
		w.bytes(h.Nonce)
	}
	return w.bytesOut(), nil
}

// Encode serializes the header as it appears on the wire, nonce included.
func (h UnencryptedHeader) Encode() ([]byte, error) { return h.encode(false) }

// EncodeForAD serializes the header with the nonce spliced out, for use as
// AEAD associated data.
func (h UnencryptedHeader) EncodeForAD() ([]byte, error) { return h.encode(true) }

// DecodeUnencryptedHeader parses the common header from the front of a
// decoded (de-stuffed) message, returning the header and the remaining
// unread bytes.
func DecodeUnencryptedHeader(b []byte) (UnencryptedHeader, []byte, error) {
	r := newReader(b)

	verType, err := r.u8()
	if err != nil {
		return UnencryptedHeader{}, nil, err
	}
	version := verType >> 4
	if version != Version {
		return UnencryptedHeader{}, nil, ErrBadVersion
	}
	msgType := MessageType(verType & 0x0f)

	sidBytes, err := r.take(4)
	if err != nil {
		return UnencryptedHeader{}, nil, err
	}
	var sid [4]byte
	copy(sid[:], sidBytes)

	algByte, err := r.u8()
	if err != nil {
		return UnencryptedHeader{}, nil, err
	}
	alg := ProtectionAlgorithm(algByte)
	nonceLen, ok := alg.NonceLen()
	if !ok {
		return UnencryptedHeader{}, nil, ErrUnknownTag
	}
	nonce, err := r.take(nonceLen)
	if err != nil {
		return UnencryptedHeader{}, nil, err
	}
	nonceCopy := append([]byte(nil), nonce...)

	return UnencryptedHeader{
		Type:      msgType,
		SessionID: sid,
		Algorithm: alg,
		Nonce:     nonceCopy,
	}, b[r.pos:], nil
}

// EncryptedHeader is the header inside the AEAD plaintext: a per-frame
// sequence number used for strictly-monotonic replay defense.
type EncryptedHeader struct {
	SequenceNumber uint32
}

// Encode serializes the encrypted header.
func (h EncryptedHeader) Encode() []byte {
	w := &writer{}
	w.u32(h.SequenceNumber)
	return w.bytesOut()
}

// DecodeEncryptedHeader parses the encrypted header from the front of an
// AEAD plaintext, returning the header and the remaining (body) bytes.
func DecodeEncryptedHeader(b []byte) (EncryptedHeader, []byte, error) {
	r := newReader(b)
	seq, err := r.u32()
	if err != nil {
		return EncryptedHeader{}, nil, err
	}
	return EncryptedHeader{SequenceNumber: seq}, b[r.pos:], nil
}
