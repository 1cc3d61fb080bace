package dotnetstore

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	headerSize     = 20
	descriptorSize = 24
)

func buildPECLI(peOffset int) []byte {
	total := peOffset + 248 + 8
	if total < 512 {
		// Recovery's boundary slicing drops slices shorter than 512 bytes.
		total = 512
	}
	data := make([]byte, total)
	data[0], data[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(data[0x3C:0x40], uint32(peOffset))
	data[peOffset], data[peOffset+1] = 'P', 'E'
	binary.LittleEndian.PutUint32(data[peOffset+232:peOffset+236], 0x2008)
	binary.LittleEndian.PutUint32(data[peOffset+236:peOffset+240], 0x48)
	return data
}

func buildStoreBytes(storeID uint32, version uint32, payloads [][]byte) []byte {
	count := uint32(len(payloads))

	header := make([]byte, headerSize)
	copy(header[0:4], []byte("XABA"))
	binary.LittleEndian.PutUint32(header[4:8], version)
	binary.LittleEndian.PutUint32(header[8:12], count)
	binary.LittleEndian.PutUint32(header[12:16], count)
	binary.LittleEndian.PutUint32(header[16:20], storeID)

	descTable := make([]byte, int(count)*descriptorSize)
	dataStart := len(header) + len(descTable)
	var data []byte
	offset := dataStart
	for i, p := range payloads {
		d := descTable[i*descriptorSize : (i+1)*descriptorSize]
		binary.LittleEndian.PutUint32(d[0:4], uint32(offset))
		binary.LittleEndian.PutUint32(d[4:8], uint32(len(p)))
		data = append(data, p...)
		offset += len(p)
	}

	out := append([]byte{}, header...)
	out = append(out, descTable...)
	out = append(out, data...)
	return out
}

func TestRunExtractsSingleAssemblyPrimaryStore(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	hello := buildPECLI(0x80)
	require.NoError(t, os.WriteFile(filepath.Join(in, "assemblies.blob"), buildStoreBytes(0, 1, [][]byte{hello}), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "assemblies.manifest"),
		[]byte("Hash32 Hash64 BlobID BlobIdx Name\naa bb 0 0 Hello\n"), 0o644))

	report, err := Run(Options{InputDir: in, OutputDir: out})
	require.NoError(t, err)
	require.Equal(t, 1, report.TotalExtracted)
	require.Len(t, report.Stores, 1)
	require.False(t, report.Stores[0].Recovered)

	got, err := os.ReadFile(filepath.Join(out, "assemblies", "Hello.dll"))
	require.NoError(t, err)
	require.Equal(t, hello, got)

	_, err = os.Stat(report.ConversionLog)
	require.NoError(t, err)
}

func TestRunSkipsUnsupportedVersionStore(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	hello := buildPECLI(0x80)
	require.NoError(t, os.WriteFile(filepath.Join(in, "assemblies.blob"), buildStoreBytes(0, 2, [][]byte{hello}), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "assemblies.manifest"),
		[]byte("Hash32 Hash64 BlobID BlobIdx Name\naa bb 0 0 Hello\n"), 0o644))

	report, err := Run(Options{InputDir: in, OutputDir: out})
	require.NoError(t, err)
	require.Len(t, report.Stores, 1)
	require.True(t, report.Stores[0].Skipped)
	require.Equal(t, 0, report.TotalExtracted)

	_, statErr := os.Stat(filepath.Join(out, "assemblies"))
	require.True(t, os.IsNotExist(statErr))
}

func TestRunFallsThroughToRecoveryOnBadMagic(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	a := buildPECLI(0x80)
	b := buildPECLI(0x90)

	var blob []byte
	blob = append(blob, []byte("ZZZZ")...)
	blob = append(blob, a...)
	blob = append(blob, make([]byte, 600)...)
	blob = append(blob, b...)

	require.NoError(t, os.WriteFile(filepath.Join(in, "assemblies.blob"), blob, 0o644))

	report, err := Run(Options{InputDir: in, OutputDir: out})
	require.NoError(t, err)
	require.Len(t, report.Stores, 1)
	require.True(t, report.Stores[0].Recovered)
	require.Equal(t, 2, report.Stores[0].Summary.Extracted)

	_, err = os.Stat(filepath.Join(out, "assemblies", "assemblies_assembly_000.dll"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "assemblies", "assemblies_assembly_001.dll"))
	require.NoError(t, err)
}

func TestRunErrorsOnMissingInputDir(t *testing.T) {
	_, err := Run(Options{InputDir: filepath.Join(t.TempDir(), "nope"), OutputDir: t.TempDir()})
	require.Error(t, err)
}

func TestRunDryRunWritesNoFiles(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	hello := buildPECLI(0x80)
	require.NoError(t, os.WriteFile(filepath.Join(in, "assemblies.blob"), buildStoreBytes(0, 1, [][]byte{hello}), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "assemblies.manifest"),
		[]byte("Hash32 Hash64 BlobID BlobIdx Name\naa bb 0 0 Hello\n"), 0o644))

	report, err := Run(Options{InputDir: in, OutputDir: out, DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 1, report.TotalExtracted)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Empty(t, entries)
}
