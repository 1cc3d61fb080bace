package lz4env

import (
	"encoding/binary"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"
)

func packEnvelope(t *testing.T, payload []byte) []byte {
	t.Helper()

	dst := make([]byte, lz4.CompressBlockBound(len(payload)))
	var c lz4.Compressor
	n, err := c.CompressBlock(payload, dst)
	require.NoError(t, err)
	block := dst[:n]

	envelope := make([]byte, HeaderSize+len(block))
	copy(envelope[0:4], Magic[:])
	binary.LittleEndian.PutUint32(envelope[4:8], 0) // descriptor index, ignored
	binary.LittleEndian.PutUint32(envelope[8:12], uint32(len(payload)))
	copy(envelope[HeaderSize:], block)
	return envelope
}

func TestDecompressRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeatedly, repeatedly, repeatedly")
	envelope := packEnvelope(t, payload)

	got, err := Decompress(envelope, 0)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDecompressEmptyPayload(t *testing.T) {
	envelope := packEnvelope(t, nil)
	got, err := Decompress(envelope, 0)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDecompressEnvelopeTooShort(t *testing.T) {
	_, err := Decompress([]byte{'X', 'A', 'L', 'Z', 0, 0, 0}, 0)
	require.ErrorIs(t, err, ErrEnvelopeTooShort)
}

func TestDecompressBadMagic(t *testing.T) {
	envelope := packEnvelope(t, []byte("hello"))
	envelope[0] = 'Z'
	_, err := Decompress(envelope, 0)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestDecompressSizeCeiling(t *testing.T) {
	envelope := packEnvelope(t, []byte("hello world"))
	_, err := Decompress(envelope, 4)
	require.ErrorIs(t, err, ErrSizeTooLarge)
}

func TestHasEnvelope(t *testing.T) {
	require.True(t, HasEnvelope([]byte("XALZ...")))
	require.False(t, HasEnvelope([]byte("MZxx")))
	require.False(t, HasEnvelope([]byte("XA")))
}
