package wit

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var errTruncated = errors.New("wit: unexpected end of input")

// reader decodes the primitive encodings of the wasm binary format.
type reader struct {
	buf []byte
	pos int
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) eof() bool { return r.pos >= len(r.buf) }

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errTruncated
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) peek() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errTruncated
	}
	return r.buf[r.pos], nil
}

func (r *reader) bytes(n uint32) ([]byte, error) {
	if uint64(r.pos)+uint64(n) > uint64(len(r.buf)) {
		return nil, errTruncated
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

// u32 reads an unsigned LEB128 value of at most 5 bytes.
func (r *reader) u32() (uint32, error) {
	var v uint64
	for shift := 0; shift < 35; shift += 7 {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			if v > 0xffffffff {
				return 0, fmt.Errorf("wit: u32 overflow at %d", r.pos)
			}
			return uint32(v), nil
		}
	}
	return 0, fmt.Errorf("wit: LEB128 too long at %d", r.pos)
}

func (r *reader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("wit: invalid utf-8 name at %d", r.pos)
	}
	return string(b), nil
}

// vec reads a count and calls fn that many times.
func (r *reader) vec(fn func() error) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	if int(n) > len(r.buf)-r.pos {
		return errTruncated
	}
	for i := uint32(0); i < n; i++ {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func (r *reader) expect(b byte) error {
	got, err := r.byte()
	if err != nil {
		return err
	}
	if got != b {
		return fmt.Errorf("wit: expected 0x%02x, got 0x%02x at %d", b, got, r.pos-1)
	}
	return nil
}
