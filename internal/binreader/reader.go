// Package binreader is the little-endian byte-slice cursor shared by
// every decoder in this module.
package binreader

import (
	"encoding/binary"
	"fmt"
)

// ShortReadError reports a read that ran past the end of the buffer.
type ShortReadError struct {
	Pos     int
	Wanted  int
	BufSize int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("short read at position %d, wanted %d bytes", e.Pos, e.Wanted)
}

// Reader is a cursor over an in-memory byte slice. It never copies the
// underlying buffer; every returned slice borrows from it.
type Reader struct {
	data []byte
	pos  int
}

// New creates a Reader positioned at the start of data.
func New(data []byte) *Reader {
	return &Reader{data: data}
}

// Pos reports the current cursor position.
func (r *Reader) Pos() int {
	return r.pos
}

// Len returns the total length of the underlying buffer.
func (r *Reader) Len() int {
	return len(r.data)
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

func (r *Reader) need(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return &ShortReadError{Pos: r.pos, Wanted: n, BufSize: len(r.data)}
	}
	return nil
}

// Uint8 reads one byte, advancing the cursor.
func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

// Uint16 reads a little-endian uint16, advancing the cursor.
func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

// Uint32 reads a little-endian uint32, advancing the cursor.
func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

// Uint64 reads a little-endian uint64, advancing the cursor.
func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

// Bytes reads n raw bytes, advancing the cursor. The returned slice
// borrows from the underlying buffer.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.data[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

// Skip advances the cursor by n bytes without returning them.
func (r *Reader) Skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.pos += n
	return nil
}

// Slice borrows data[start:start+length] without moving the cursor.
func Slice(data []byte, start, length int) ([]byte, error) {
	if start < 0 || length < 0 || start+length > len(data) {
		return nil, &ShortReadError{Pos: start, Wanted: length, BufSize: len(data)}
	}
	return data[start : start+length], nil
}
