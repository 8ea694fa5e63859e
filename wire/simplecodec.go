// Package wire implements the deterministic binary "simple codec" used by
// both the UDP discovery protocol and the TCP transport frames (spec.md §4.1).
package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrMalformed is returned whenever a decoder observes a length that
// over/underflows the remaining buffer.
var ErrMalformed = errors.New("wire: malformed message")

// Writer accumulates a simple-codec encoded body.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) WriteU8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) WriteI16(v int16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteI32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteI64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteU32(v uint32) { w.WriteI32(int32(v)) }

// WriteBytes writes a length-prefixed byte slice; nil encodes as length -1.
func (w *Writer) WriteBytes(b []byte) {
	if b == nil {
		w.WriteI32(-1)
		return
	}
	if len(b) > math.MaxInt32 {
		panic("wire: bytes too long")
	}
	w.WriteI32(int32(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteString writes a length-prefixed UTF-8 string; empty and nil are
// indistinguishable (both encode as length 0) — callers that need to
// distinguish "absent" use WriteBytes(nil) semantics via WriteOptString.
func (w *Writer) WriteString(s string) {
	w.WriteBytes([]byte(s))
}

// WriteOptString encodes a *string so that nil round-trips through length -1.
func (w *Writer) WriteOptString(s *string) {
	if s == nil {
		w.WriteBytes(nil)
		return
	}
	w.WriteBytes([]byte(*s))
}

// Reader decodes a simple-codec body, failing closed on any malformed length.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) remaining() int { return len(r.buf) - r.pos }

func (r *Reader) ReadU8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, ErrMalformed
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadI16() (int16, error) {
	if r.remaining() < 2 {
		return 0, ErrMalformed
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return int16(v), nil
}

func (r *Reader) ReadI32() (int32, error) {
	if r.remaining() < 4 {
		return 0, ErrMalformed
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return int32(v), nil
}

func (r *Reader) ReadU32() (uint32, error) {
	v, err := r.ReadI32()
	return uint32(v), err
}

func (r *Reader) ReadI64() (int64, error) {
	if r.remaining() < 8 {
		return 0, ErrMalformed
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return int64(v), nil
}

// ReadBytes decodes a length-prefixed byte slice; length -1 returns nil.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	if n < 0 || int(n) > r.remaining() {
		return nil, ErrMalformed
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadOptString mirrors WriteOptString: length -1 decodes to nil.
func (r *Reader) ReadOptString() (*string, error) {
	n, err := r.peekLen()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		_, _ = r.ReadI32()
		return nil, nil
	}
	s, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Reader) peekLen() (int32, error) {
	if r.remaining() < 4 {
		return 0, ErrMalformed
	}
	return int32(binary.BigEndian.Uint32(r.buf[r.pos:])), nil
}

// Done reports whether every byte of the body has been consumed.
func (r *Reader) Done() bool { return r.remaining() == 0 }
