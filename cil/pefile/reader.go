package pefile

import (
	"encoding/binary"
	"fmt"
	"io"
)

// reader wraps a byte slice with a cursor for sequential little-endian
// reads. Reads past EOF return io.ErrUnexpectedEOF; the caller decides
// whether that is fatal for the whole image or only for one method.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) truncated(n int, what string) error {
	return fmt.Errorf("%s at offset %d: need %d bytes, have %d: %w",
		what, r.pos, n, r.remaining(), io.ErrUnexpectedEOF)
}

func (r *reader) u8() (uint8, error) {
	if r.pos >= len(r.data) {
		return 0, r.truncated(1, "u8")
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, r.truncated(2, "u16")
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, r.truncated(4, "u32")
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, r.truncated(8, "u64")
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("bytes: negative count %d", n)
	}
	if r.pos+n > len(r.data) {
		return nil, r.truncated(n, "bytes")
	}
	v := r.data[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *reader) skip(n int) error {
	if n < 0 {
		return fmt.Errorf("skip: negative count %d", n)
	}
	if r.pos+n > len(r.data) {
		return r.truncated(n, "skip")
	}
	r.pos += n
	return nil
}

// index reads a 2- or 4-byte index depending on wide.
func (r *reader) index(wide bool) (uint32, error) {
	if wide {
		return r.u32()
	}
	v, err := r.u16()
	return uint32(v), err
}

// align advances the cursor to the next multiple of n relative to the
// start of the buffer.
func (r *reader) align(n int) error {
	rem := r.pos % n
	if rem == 0 {
		return nil
	}
	return r.skip(n - rem)
}
