package recovery

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/provide-io/dotnetstore-extract/internal/manifest"
)

func buildPECLI(t *testing.T, peOffset int) []byte {
	t.Helper()
	total := peOffset + 248 + 8
	if total < minRecoverySliceLen {
		// Boundary slicing drops slices shorter than minRecoverySliceLen.
		total = minRecoverySliceLen
	}
	data := make([]byte, total)
	data[0], data[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(data[0x3C:0x40], uint32(peOffset))
	data[peOffset], data[peOffset+1] = 'P', 'E'
	binary.LittleEndian.PutUint32(data[peOffset+232:peOffset+236], 0x2008)
	binary.LittleEndian.PutUint32(data[peOffset+236:peOffset+240], 0x48)
	return data
}

func emptyManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	return manifest.Parse(strings.NewReader(""), nil)
}

func TestScanWrongMagicFallsThroughToBoundarySlicing(t *testing.T) {
	a := buildPECLI(t, 0x80)
	b := buildPECLI(t, 0x90)

	var buf bytes.Buffer
	buf.WriteString("ZZZZ")
	buf.Write(a)
	buf.Write(make([]byte, 600)) // padding between images
	buf.Write(b)

	results := Scan(buf.Bytes(), emptyManifest(t), "assemblies", nil)
	require.Len(t, results, 2)
	require.Equal(t, "assemblies_assembly_000.dll", results[0].Name)
	require.Equal(t, "assemblies_assembly_001.dll", results[1].Name)
	// The first slice runs up to the next boundary, so it carries the padding.
	require.Equal(t, append(append([]byte{}, a...), make([]byte, 600)...), results[0].Data)
	require.Equal(t, b, results[1].Data)
}

func TestScanDeduplicatesOverlappingBoundaries(t *testing.T) {
	// A candidate whose BSJB magic and keyword both backscan to the same
	// MZ should still produce exactly one slice, not a duplicate.
	img := buildPECLI(t, 0x80)
	// Splice in a BSJB marker and a keyword string within the image body
	// (both resolve back to the same leading MZ).
	copy(img[300:304], []byte("BSJB"))
	copy(img[320:328], []byte("mscorlib"))

	results := Scan(img, emptyManifest(t), "assemblies", nil)
	require.Len(t, results, 1)
	require.Equal(t, "assemblies_assembly_000.dll", results[0].Name)
}

func TestScanManifestGuidedSlicingWithHeaderSkip(t *testing.T) {
	a := buildPECLI(t, 0x80)

	var buf bytes.Buffer
	// 16 bytes of leading junk matching one of the probed skips. Its MZ
	// pairs at offsets 0, 4 and 8 are not real images (their e_lfanew
	// reads as 0), so the probes at those skips find nothing valid and the
	// 16-byte skip is the first to succeed.
	junk := make([]byte, 16)
	copy(junk[0:2], "MZ")
	copy(junk[4:6], "MZ")
	copy(junk[8:10], "MZ")
	buf.Write(junk)
	buf.Write(a)

	text := "Hash32 Hash64 BlobID BlobIdx Name\naa bb 0 0 Hello\n"
	// Give the manifest a Size via JSON so OrderedSizes succeeds.
	jsonText := `{"Assemblies":[{"Name":"Hello","Size":` + itoa(len(a)) + `}]}`
	_ = text
	man := manifest.Parse(strings.NewReader(jsonText), nil)

	results := Scan(buf.Bytes(), man, "assemblies", nil)
	require.Len(t, results, 1)
	require.Equal(t, "Hello", results[0].Name)
	require.Equal(t, a, results[0].Data)
}

func TestScanCompressedContainerSweepGzip(t *testing.T) {
	a := buildPECLI(t, 0x80)

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, err := w.Write(a)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var buf bytes.Buffer
	buf.WriteString("garbage-prefix")
	buf.Write(gz.Bytes())

	results := Scan(buf.Bytes(), emptyManifest(t), "assemblies", nil)
	require.Len(t, results, 1)
	require.Equal(t, a, results[0].Data)
}

func TestScanBoundarySlicingAcceptsWeakCLIMagicCandidate(t *testing.T) {
	// A slice whose CLI runtime header directory is zeroed (fails
	// canonical validation) but that carries the BSJB metadata magic
	// should still be salvaged by the recovery-only weak path.
	peOffset := 0x80
	total := 600
	img := make([]byte, total)
	img[0], img[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(img[0x3C:0x40], uint32(peOffset))
	img[peOffset], img[peOffset+1] = 'P', 'E'
	// CLI directory left zero: canonical validation must reject this.
	copy(img[500:504], []byte("BSJB"))

	var buf bytes.Buffer
	buf.Write(make([]byte, 32)) // leading junk, not itself an MZ pair
	buf.Write(img)

	results := Scan(buf.Bytes(), emptyManifest(t), "assemblies", nil)
	require.Len(t, results, 1)
	require.Equal(t, "assemblies_assembly_000.dll", results[0].Name)
	require.Equal(t, img, results[0].Data)
}

func TestScanYieldsNothingOnNoise(t *testing.T) {
	noise := bytes.Repeat([]byte{0x00, 0xFF, 0x42}, 100)
	results := Scan(noise, emptyManifest(t), "assemblies", nil)
	require.Empty(t, results)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
