package codec

import "encoding/binary"

// writer accumulates a packed, big-endian byte stream. It mirrors the
// manual offset bookkeeping the reference frame codec uses, but centralizes
// it so each message type doesn't recompute sizes by hand.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// list8 writes a count-prefixed list of fixed-size elements (one byte
// each), the "list<u8 count>" shape used for protection_algorithms,
// interfaces, and interface_types.
func (w *writer) list8(elems []byte) {
	w.u8(uint8(len(elems)))
	w.bytes(elems)
}

// extensible writes a length-prefixed opaque payload: the shape used for an
// extensible union element body, letting an unrecognized element be skipped
// without desynchronizing the parse.
func (w *writer) extensible(payload []byte) {
	w.u8(uint8(len(payload)))
	w.bytes(payload)
}

func (w *writer) bytesOut() []byte { return w.buf }

// reader consumes a packed, big-endian byte stream, tracking how much has
// been read so truncation can be detected precisely.
type reader struct {
	buf []byte
	pos int
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) u8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, ErrTruncated
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, ErrTruncated
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// list8 reads a count-prefixed list of fixed-size (one byte) elements.
func (r *reader) list8() ([]byte, error) {
	n, err := r.u8()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

// extensible reads a length-prefixed opaque payload.
func (r *reader) extensible() ([]byte, error) {
	n, err := r.u8()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

func (r *reader) atEnd() bool { return r.remaining() == 0 }
