// Package peclr structurally validates candidate .NET assemblies by
// byte inspection alone. It never loads or executes a candidate into a
// runtime.
package peclr

import (
	"bytes"
	"encoding/binary"
)

// MinLength is the shortest slice ValidateCanonical will consider.
const MinLength = 128

// PEOffsetField is the file offset of the DOS header's e_lfanew field.
const PEOffsetField = 0x3C

// cliDirectoryOffset is pe_offset + 232: the CLI runtime header
// directory entry (RVA at +232, size at +236) inside the PE32 optional
// header's data directory array, present once the optional header has
// grown far enough to include it (pe_offset + 248 <= length).
const cliDirectoryOffset = 232
const cliDirectoryMinPEExtent = 248

// weakMagics are substrings whose presence, combined with checks 1-4,
// is accepted only by the Recovery Scanner's weaker validation path.
var weakMagics = [][]byte{
	[]byte("BSJB"),
	[]byte("System."),
	[]byte("mscorlib"),
}

// PEOffset reads the little-endian e_lfanew field at 0x3C, without
// validating that it points at a real PE signature.
func PEOffset(data []byte) (int, bool) {
	if len(data) < PEOffsetField+4 {
		return 0, false
	}
	off := int(binary.LittleEndian.Uint32(data[PEOffsetField : PEOffsetField+4]))
	return off, true
}

// ValidateCanonical implements the canonical PE/CLI validity check from
// the extraction path: DOS stub, in-range PE signature, and (when the
// optional header reaches far enough) a nonzero CLI runtime header
// directory entry.
func ValidateCanonical(data []byte) bool {
	length := len(data)
	if length < MinLength {
		return false
	}
	if data[0] != 'M' || data[1] != 'Z' {
		return false
	}

	peOffset, ok := PEOffset(data)
	if !ok || peOffset < 0 || peOffset > length-4 {
		return false
	}
	if data[peOffset] != 'P' || data[peOffset+1] != 'E' {
		return false
	}

	if peOffset+cliDirectoryMinPEExtent <= length {
		rva := binary.LittleEndian.Uint32(data[peOffset+cliDirectoryOffset : peOffset+cliDirectoryOffset+4])
		size := binary.LittleEndian.Uint32(data[peOffset+cliDirectoryOffset+4 : peOffset+cliDirectoryOffset+8])
		if rva == 0 || size == 0 {
			return false
		}
	}

	return true
}

// ValidateWeak is the Recovery Scanner's weaker acceptance test: checks
// 1-4 of ValidateCanonical (DOS stub + in-range PE signature), plus the
// presence of one well-known in-file magic string. It is never
// sufficient for the canonical extraction path.
func ValidateWeak(data []byte) bool {
	length := len(data)
	if length < MinLength {
		return false
	}
	if data[0] != 'M' || data[1] != 'Z' {
		return false
	}
	peOffset, ok := PEOffset(data)
	if !ok || peOffset < 0 || peOffset > length-4 {
		return false
	}
	if data[peOffset] != 'P' || data[peOffset+1] != 'E' {
		return false
	}

	for _, magic := range weakMagics {
		if bytes.Contains(data, magic) {
			return true
		}
	}
	return false
}
