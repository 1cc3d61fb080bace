// Package lz4env unwraps the mobile toolkit's "XALZ" compression
// envelope: a fixed 12-byte header followed by a single raw LZ4 block
// (not a framed stream). It uses github.com/pierrec/lz4/v4. The
// envelope declares its uncompressed size up front, so the destination
// buffer is sized exactly once.
package lz4env

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Magic is the 4-byte envelope signature.
var Magic = [4]byte{'X', 'A', 'L', 'Z'}

// HeaderSize is the fixed envelope header: magic(4) + descriptor index(4) + declared size(4).
const HeaderSize = 12

// DefaultMaxUncompressedSize is the default ceiling on a declared
// uncompressed size, guarding against a hostile or corrupt envelope
// requesting an enormous allocation.
const DefaultMaxUncompressedSize = 64 * 1024 * 1024

var (
	// ErrEnvelopeTooShort is returned when data is shorter than HeaderSize.
	ErrEnvelopeTooShort = errors.New("lz4env: envelope shorter than 12 bytes")
	// ErrBadMagic is returned when the leading 4 bytes aren't "XALZ".
	ErrBadMagic = errors.New("lz4env: bad XALZ magic")
	// ErrSizeTooLarge is returned when the declared size exceeds the configured ceiling.
	ErrSizeTooLarge = errors.New("lz4env: declared uncompressed size exceeds ceiling")
	// ErrSizeMismatch is returned when the decoded block doesn't match the declared size.
	ErrSizeMismatch = errors.New("lz4env: decoded size does not match declared size")
)

// HasEnvelope reports whether data begins with the XALZ magic.
func HasEnvelope(data []byte) bool {
	return len(data) >= 4 && data[0] == Magic[0] && data[1] == Magic[1] && data[2] == Magic[2] && data[3] == Magic[3]
}

// Decompress unwraps an XALZ envelope, returning exactly
// DeclaredUncompressedSize bytes. maxSize <= 0 selects
// DefaultMaxUncompressedSize.
func Decompress(data []byte, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxUncompressedSize
	}

	if len(data) < HeaderSize {
		return nil, ErrEnvelopeTooShort
	}
	if !HasEnvelope(data) {
		return nil, ErrBadMagic
	}

	declaredSize := int(binary.LittleEndian.Uint32(data[8:12]))
	if declaredSize > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrSizeTooLarge, declaredSize, maxSize)
	}

	block := data[HeaderSize:]
	dst := make([]byte, declaredSize)

	n, err := lz4.UncompressBlock(block, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4env: decoding block: %w", err)
	}
	if n != declaredSize {
		return nil, fmt.Errorf("%w: got %d, declared %d", ErrSizeMismatch, n, declaredSize)
	}

	return dst, nil
}
