package codec

import "fmt"

// Frame is a fully-decoded (but not yet decrypted) on-wire unit: the
// unencrypted header, any type-specific unencrypted body bytes, and the
// opaque encrypted payload (ciphertext || tag) when the message type has
// one. Decrypting EncryptedPayload and authenticating it against the header
// and unencrypted body as associated data is the protection package's job,
// not this one's.
type Frame struct {
	Header           UnencryptedHeader
	UnencryptedBody  []byte
	EncryptedPayload []byte
}

// unencryptedBodyLen reports how many bytes of unencrypted body follow the
// common header for a given message type, or -1 if the body is HELLO's
// variable-length shape (which consumes everything up to EOF since HELLO
// has no encrypted part).
func unencryptedBodyLen(t MessageType) int {
	switch t {
	case MessageBind:
		return 1 // BindUnencryptedBody.ProtectionAlgorithmType
	case MessageBound, MessageUnbind, MessageConfigure, MessageAct:
		return 0
	case MessageHello:
		return -1
	default:
		return -2 // unknown type, caller must reject
	}
}

// Encode serializes a Frame to the byte sequence that Modulate expects.
func (f Frame) Encode() ([]byte, error) {
	hdr, err := f.Header.Encode()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(hdr)+len(f.UnencryptedBody)+len(f.EncryptedPayload))
	out = append(out, hdr...)
	out = append(out, f.UnencryptedBody...)
	out = append(out, f.EncryptedPayload...)
	return out, nil
}

// DecodeFrame parses the common header and splits the remainder into the
// message type's unencrypted body and its encrypted payload (if any).
// Unknown message types are a decode error: the message catalog is a closed
// sum type per version.
func DecodeFrame(buf []byte) (Frame, error) {
	hdr, rest, err := DecodeUnencryptedHeader(buf)
	if err != nil {
		return Frame{}, err
	}

	n := unencryptedBodyLen(hdr.Type)
	if n == -2 {
		return Frame{}, fmt.Errorf("%w: message type %d", ErrUnknownTag, hdr.Type)
	}

	if n == -1 {
		// HELLO: no encrypted part, everything remaining is the body.
		return Frame{Header: hdr, UnencryptedBody: rest}, nil
	}

	if len(rest) < n {
		return Frame{}, ErrTruncated
	}
	return Frame{
		Header:           hdr,
		UnencryptedBody:  rest[:n],
		EncryptedPayload: rest[n:],
	}, nil
}

// AssociatedData returns the bytes the AEAD authenticates but does not
// encrypt: the header with its nonce spliced out, followed by the
// unencrypted body, in wire order.
func (f Frame) AssociatedData() ([]byte, error) {
	hdrAD, err := f.Header.EncodeForAD()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(hdrAD)+len(f.UnencryptedBody))
	out = append(out, hdrAD...)
	out = append(out, f.UnencryptedBody...)
	return out, nil
}
