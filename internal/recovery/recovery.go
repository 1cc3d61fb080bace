// Package recovery implements the heuristic salvage pipeline invoked
// when the AssemblyStore Parser rejects an input file outright: a
// short-circuiting ladder of increasingly desperate passes, each one
// returning salvaged candidates on success. The caller writes them out
// as anonymously numbered files.
package recovery

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/dotnetstore-extract/internal/manifest"
	"github.com/provide-io/dotnetstore-extract/internal/peclr"
)

var (
	mzSig          = []byte{'M', 'Z'}
	bsjb           = []byte("BSJB")
	gzipSig        = []byte{0x1F, 0x8B}
	zlibSig1       = []byte{0x78, 0x9C}
	zlibSig2       = []byte{0x78, 0xDA}
	lz4FrameSig    = []byte{0x04, 0x22, 0x4D, 0x18}
	zipLocalHeader = []byte{0x50, 0x4B, 0x03, 0x04}

	// keywords are diagnostic strings whose presence signals a nearby
	// managed-assembly boundary when walked backward to the nearest MZ.
	keywords = []string{
		"System.Runtime",
		"System.Collections",
		"mscorlib",
		".NETFramework",
		".NETCoreApp",
	}

	headerProbeSkips = []int{0, 4, 8, 16, 32, 64, 128}
)

const (
	bsjbBackscanLimit    = 1024
	keywordBackscanLimit = 2048
	minRecoverySliceLen  = 512
)

// Result is one salvaged candidate. Name is the manifest row name (pass
// a), the archive entry name (pass c), or "<basename>_assembly_NNN.dll"
// (passes b and d).
type Result struct {
	Name string
	Data []byte
}

// Scan runs the recovery ladder against data, short-circuiting on the
// first pass that yields at least one valid assembly. basename is used
// to build pass (d)'s "<basename>_assembly_NNN" output names.
func Scan(data []byte, man *manifest.Manifest, basename string, logger hclog.Logger) []Result {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	if man != nil && !man.Empty() {
		if results := manifestGuidedSlicing(data, man, logger); len(results) > 0 {
			return results
		}
	}

	if results := compressedContainerSweep(data, basename, logger); len(results) > 0 {
		return results
	}

	if results := embeddedZipSweep(data, logger); len(results) > 0 {
		return results
	}

	return boundarySequentialSlicing(data, basename, logger)
}

// manifestGuidedSlicing is pass (a).
func manifestGuidedSlicing(data []byte, man *manifest.Manifest, logger hclog.Logger) []Result {
	sizes, names, ok := man.OrderedSizes()
	if !ok || len(sizes) == 0 {
		return nil
	}

	for _, skip := range headerProbeSkips {
		if skip >= len(data) {
			continue
		}
		results := sliceByDeclaredSizes(data[skip:], sizes, names)
		if len(results) > 0 {
			logger.Debug("recovery pass a succeeded", "header_skip", skip, "count", len(results))
			return results
		}
	}
	return nil
}

func sliceByDeclaredSizes(data []byte, sizes []int64, names []string) []Result {
	var results []Result
	offset := 0
	for i, size := range sizes {
		if size <= 0 || offset+int(size) > len(data) {
			break
		}
		candidate := data[offset : offset+int(size)]
		offset += int(size)

		trimmed := trimToMZ(candidate)
		if trimmed == nil || !isRecoveryValid(trimmed) {
			continue
		}
		name := ""
		if i < len(names) {
			name = names[i]
		}
		results = append(results, Result{Name: name, Data: trimmed})
	}
	return results
}

// compressedContainerSweep is pass (b).
func compressedContainerSweep(data []byte, basename string, logger hclog.Logger) []Result {
	idx, kind := findFirstCompressedSignature(data)
	if idx < 0 {
		return nil
	}

	switch kind {
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(data[idx:]))
		if err != nil {
			logger.Debug("recovery pass b: gzip header matched but stream invalid", "error", err)
			return nil
		}
		defer zr.Close()
		decoded, err := io.ReadAll(zr)
		if err != nil {
			logger.Debug("recovery pass b: gzip decode failed", "error", err)
			return nil
		}
		return boundarySequentialSlicing(decoded, basename, logger)
	case "zlib":
		zr, err := zlib.NewReader(bytes.NewReader(data[idx:]))
		if err != nil {
			logger.Debug("recovery pass b: zlib header matched but stream invalid", "error", err)
			return nil
		}
		defer zr.Close()
		decoded, err := io.ReadAll(zr)
		if err != nil {
			logger.Debug("recovery pass b: zlib decode failed", "error", err)
			return nil
		}
		return boundarySequentialSlicing(decoded, basename, logger)
	case "lz4frame":
		// LZ4-frame recovery is deliberately unimplemented.
		logger.Info("recovery pass b: LZ4 frame signature found but frame decoding is not implemented, skipping")
		return nil
	}
	return nil
}

func findFirstCompressedSignature(data []byte) (int, string) {
	best := -1
	kind := ""
	check := func(sig []byte, name string) {
		if i := bytes.Index(data, sig); i >= 0 && (best < 0 || i < best) {
			best = i
			kind = name
		}
	}
	check(gzipSig, "gzip")
	check(zlibSig1, "zlib")
	check(zlibSig2, "zlib")
	check(lz4FrameSig, "lz4frame")
	return best, kind
}

// embeddedZipSweep is pass (c).
func embeddedZipSweep(data []byte, logger hclog.Logger) []Result {
	idx := bytes.Index(data, zipLocalHeader)
	if idx < 0 {
		return nil
	}

	region := data[idx:]
	zr, err := zip.NewReader(bytes.NewReader(region), int64(len(region)))
	if err != nil {
		logger.Debug("recovery pass c: zip signature matched but archive invalid", "error", err)
		return nil
	}

	var results []Result
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".dll") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		if !isRecoveryValid(content) {
			continue
		}
		results = append(results, Result{Name: f.Name, Data: content})
	}
	return results
}

// boundarySequentialSlicing is pass (d).
func boundarySequentialSlicing(data []byte, basename string, logger hclog.Logger) []Result {
	boundaries := collectBoundaries(data)
	if len(boundaries) == 0 {
		return nil
	}

	var results []Result
	counter := 0
	for i, start := range boundaries {
		end := len(data)
		if i+1 < len(boundaries) {
			end = boundaries[i+1]
		}
		if end-start < minRecoverySliceLen {
			continue
		}

		candidate := trimToMZ(data[start:end])
		if candidate == nil || !isRecoveryValid(candidate) {
			continue
		}

		results = append(results, Result{
			Name: fmt.Sprintf("%s_assembly_%03d.dll", basename, counter),
			Data: candidate,
		})
		counter++
	}

	logger.Debug("recovery pass d boundary slicing", "boundary_count", len(boundaries), "emitted", len(results))
	return results
}

// collectBoundaries gathers every MZ offset, plus every BSJB and
// keyword occurrence walked backward to its nearest preceding MZ,
// deduplicated and sorted ascending.
func collectBoundaries(data []byte) []int {
	set := make(map[int]struct{})

	for i := 0; i+1 < len(data); i++ {
		if data[i] == mzSig[0] && data[i+1] == mzSig[1] {
			set[i] = struct{}{}
		}
	}

	for _, idx := range findAll(data, bsjb) {
		if mz, ok := backscanToMZ(data, idx, bsjbBackscanLimit); ok {
			set[mz] = struct{}{}
		}
	}

	for _, kw := range keywords {
		for _, idx := range findAll(data, []byte(kw)) {
			if mz, ok := backscanToMZ(data, idx, keywordBackscanLimit); ok {
				set[mz] = struct{}{}
			}
		}
	}

	boundaries := make([]int, 0, len(set))
	for b := range set {
		boundaries = append(boundaries, b)
	}
	sort.Ints(boundaries)
	return boundaries
}

func findAll(data, sig []byte) []int {
	var out []int
	start := 0
	for {
		i := bytes.Index(data[start:], sig)
		if i < 0 {
			return out
		}
		out = append(out, start+i)
		start += i + 1
	}
}

// backscanToMZ walks backward from idx up to limit bytes looking for
// the nearest MZ pair.
func backscanToMZ(data []byte, idx, limit int) (int, bool) {
	floor := idx - limit
	if floor < 0 {
		floor = 0
	}
	for i := idx; i >= floor; i-- {
		if i+1 < len(data) && data[i] == mzSig[0] && data[i+1] == mzSig[1] {
			return i, true
		}
	}
	return 0, false
}

// trimToMZ discards leading bytes before the first MZ pair, or returns
// the slice unchanged if it already starts with one. Returns nil if no
// MZ pair exists in the slice.
func trimToMZ(data []byte) []byte {
	if len(data) >= 2 && data[0] == mzSig[0] && data[1] == mzSig[1] {
		return data
	}
	i := bytes.Index(data, mzSig)
	if i < 0 {
		return nil
	}
	return data[i:]
}

// isRecoveryValid accepts a candidate that passes full canonical
// validation or the weaker recovery-only check (DOS stub + in-range
// PE signature plus a known CLI/managed-code magic string).
func isRecoveryValid(data []byte) bool {
	return peclr.ValidateCanonical(data) || peclr.ValidateWeak(data)
}
