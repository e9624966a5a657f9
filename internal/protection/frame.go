package protection

import "github.com/tommie/openepo/internal/codec"

// SealFrame builds the encrypted part of a frame: the encrypted header
// (carrying seq) and body are sealed together as AEAD plaintext, with the
// unencrypted header (nonce spliced out) and unencrypted body as associated
// data, per the wire format.
func SealFrame(key Key, header codec.UnencryptedHeader, unencBody []byte, seq uint32, body []byte) (codec.Frame, error) {
	f := codec.Frame{Header: header, UnencryptedBody: unencBody}
	ad, err := f.AssociatedData()
	if err != nil {
		return codec.Frame{}, err
	}

	plaintext := append(codec.EncryptedHeader{SequenceNumber: seq}.Encode(), body...)
	ciphertext, err := Seal(header.Algorithm, key, header.Nonce, ad, plaintext)
	if err != nil {
		return codec.Frame{}, err
	}
	f.EncryptedPayload = ciphertext
	return f, nil
}

// OpenFrame authenticates and decrypts a frame's encrypted part, returning
// the sequence number and the plaintext body bytes.
func OpenFrame(key Key, f codec.Frame) (seq uint32, body []byte, err error) {
	ad, err := f.AssociatedData()
	if err != nil {
		return 0, nil, err
	}
	plaintext, err := Open(f.Header.Algorithm, key, f.Header.Nonce, ad, f.EncryptedPayload)
	if err != nil {
		return 0, nil, err
	}
	hdr, rest, err := codec.DecodeEncryptedHeader(plaintext)
	if err != nil {
		return 0, nil, err
	}
	return hdr.SequenceNumber, rest, nil
}
