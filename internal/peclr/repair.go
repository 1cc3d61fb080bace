package peclr

import "encoding/binary"

// mzScanWindow bounds the leading-padding scan for a displaced MZ
// signature; peOffsetScanStart/End bound the strided PE-signature scan
// used to patch a corrupted e_lfanew field.
const (
	mzScanWindow      = 1024
	peOffsetScanStart = 0x40
	peOffsetScanEnd   = 0x200
	peOffsetStride    = 4
)

// Repair attempts the single repair pass the extraction path applies to
// a canonically-invalid slice: strip leading junk ahead of a displaced
// MZ signature, or patch a miscopied e_lfanew field by locating the
// real "PE" signature with a strided scan. It returns the repaired
// bytes and true on the first repair that revalidates; otherwise
// (nil, false).
func Repair(data []byte) ([]byte, bool) {
	if repaired, ok := repairLeadingPadding(data); ok {
		return repaired, ok
	}
	if repaired, ok := repairPEOffsetField(data); ok {
		return repaired, ok
	}
	return nil, false
}

// repairLeadingPadding looks for an MZ pair at some offset k > 0 within
// the first 1024 bytes and, if found, discards the leading junk.
func repairLeadingPadding(data []byte) ([]byte, bool) {
	limit := mzScanWindow
	if limit > len(data)-1 {
		limit = len(data) - 1
	}

	for k := 1; k < limit; k++ {
		if data[k] == 'M' && data[k+1] == 'Z' {
			candidate := data[k:]
			if ValidateCanonical(candidate) {
				return candidate, true
			}
			// Only the first MZ pair is tried: one repair attempt per
			// pass, not an exhaustive search.
			return nil, false
		}
	}
	return nil, false
}

// repairPEOffsetField handles an MZ-at-0 slice whose e_lfanew field is
// out of range: it scans offsets 0x40..0x200 in 4-byte strides for a
// literal "PE" signature and, if found, overwrites 0x3C-0x3F with that
// offset.
func repairPEOffsetField(data []byte) ([]byte, bool) {
	if len(data) < 2 || data[0] != 'M' || data[1] != 'Z' {
		return nil, false
	}

	peOffset, ok := PEOffset(data)
	if ok && peOffset >= 0 && peOffset <= len(data)-4 && data[peOffset] == 'P' && data[peOffset+1] == 'E' {
		// The field was already in range; this pass doesn't apply.
		return nil, false
	}

	end := peOffsetScanEnd
	if end > len(data)-2 {
		end = len(data) - 2
	}

	for i := peOffsetScanStart; i < end; i += peOffsetStride {
		if data[i] == 'P' && data[i+1] == 'E' {
			patched := make([]byte, len(data))
			copy(patched, data)
			binary.LittleEndian.PutUint32(patched[PEOffsetField:PEOffsetField+4], uint32(i))
			if ValidateCanonical(patched) {
				return patched, true
			}
			return nil, false
		}
	}
	return nil, false
}
