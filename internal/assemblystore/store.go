// Package assemblystore decodes the AssemblyStore container format: a
// fixed header, a local assembly descriptor table, and (primary store
// only) two global hash tables.
package assemblystore

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/dotnetstore-extract/internal/binreader"
)

// Magic is the 4-byte AssemblyStore signature.
var Magic = [4]byte{'X', 'A', 'B', 'A'}

// MaxSupportedVersion is the highest store format version this reader
// understands.
const MaxSupportedVersion = 1

const (
	headerSize     = 20
	descriptorSize = 24
	hash32Size     = 20
	hash64Size     = 24
)

var (
	// ErrNotAssemblyStore signals a magic mismatch: the caller should
	// fall back to the Recovery Scanner.
	ErrNotAssemblyStore = errors.New("assemblystore: not an AssemblyStore (bad magic)")
	// ErrMalformedStore wraps any other structural failure: unsupported
	// version, or a truncated descriptor/hash table. Fatal for this
	// store; the caller logs and skips it.
	ErrMalformedStore = errors.New("assemblystore: malformed store")
)

// Header is the fixed 20-byte Store Header.
type Header struct {
	Magic            [4]byte
	Version          uint32
	LocalEntryCount  uint32
	GlobalEntryCount uint32
	StoreID          uint32
}

// Descriptor is one 24-byte Assembly Descriptor.
type Descriptor struct {
	DataOffset   uint32
	DataSize     uint32
	DebugOffset  uint32
	DebugSize    uint32
	ConfigOffset uint32
	ConfigSize   uint32
}

// Hash32Entry is one 20-byte primary-store hash table entry.
type Hash32Entry struct {
	Hash            uint32
	Reserved        [4]byte
	MappingIndex    uint32
	LocalStoreIndex uint32
	StoreID         uint32
}

// Hash64Entry is one 24-byte primary-store hash table entry. The
// 4-byte Reserved field after Hash keeps the record 8-byte aligned.
type Hash64Entry struct {
	Hash            uint64
	Reserved        uint32
	MappingIndex    uint32
	LocalStoreIndex uint32
	StoreID         uint32
}

// Store is a parsed AssemblyStore file. Data is the raw file contents;
// every Descriptor's offsets are absolute within Data. The parser owns
// Data for the lifetime of this store's extraction; descriptors borrow
// non-overlapping sub-ranges of it.
type Store struct {
	Header      Header
	Descriptors []Descriptor
	Hash32      []Hash32Entry
	Hash64      []Hash64Entry
	Data        []byte
}

// Parse decodes a store file from data. isPrimary selects whether the
// two global hash tables (primary store only) are read.
func Parse(data []byte, isPrimary bool, logger hclog.Logger) (*Store, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	if len(data) < 4 || data[0] != Magic[0] || data[1] != Magic[1] || data[2] != Magic[2] || data[3] != Magic[3] {
		return nil, ErrNotAssemblyStore
	}

	r := binreader.New(data)

	var hdr Header
	copy(hdr.Magic[:], data[0:4])
	if err := r.Skip(4); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStore, err)
	}

	version, err := r.Uint32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated header: %v", ErrMalformedStore, err)
	}
	hdr.Version = version
	if hdr.Version > MaxSupportedVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedStore, hdr.Version)
	}

	hdr.LocalEntryCount, err = r.Uint32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated header: %v", ErrMalformedStore, err)
	}
	hdr.GlobalEntryCount, err = r.Uint32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated header: %v", ErrMalformedStore, err)
	}
	hdr.StoreID, err = r.Uint32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated header: %v", ErrMalformedStore, err)
	}

	logger.Debug("parsed store header",
		"version", hdr.Version, "local_entry_count", hdr.LocalEntryCount,
		"global_entry_count", hdr.GlobalEntryCount, "store_id", hdr.StoreID)

	descriptors := make([]Descriptor, 0, hdr.LocalEntryCount)
	for i := uint32(0); i < hdr.LocalEntryCount; i++ {
		d, err := readDescriptor(r)
		if err != nil {
			return nil, fmt.Errorf("%w: truncated descriptor table at entry %d: %v", ErrMalformedStore, i, err)
		}
		descriptors = append(descriptors, d)
	}

	store := &Store{Header: hdr, Descriptors: descriptors, Data: data}

	if isPrimary {
		hash32 := make([]Hash32Entry, 0, hdr.LocalEntryCount)
		for i := uint32(0); i < hdr.LocalEntryCount; i++ {
			e, err := readHash32(r)
			if err != nil {
				return nil, fmt.Errorf("%w: truncated hash32 table at entry %d: %v", ErrMalformedStore, i, err)
			}
			hash32 = append(hash32, e)
		}

		hash64 := make([]Hash64Entry, 0, hdr.LocalEntryCount)
		for i := uint32(0); i < hdr.LocalEntryCount; i++ {
			e, err := readHash64(r)
			if err != nil {
				return nil, fmt.Errorf("%w: truncated hash64 table at entry %d: %v", ErrMalformedStore, i, err)
			}
			hash64 = append(hash64, e)
		}

		store.Hash32 = hash32
		store.Hash64 = hash64
	}

	return store, nil
}

func readDescriptor(r *binreader.Reader) (Descriptor, error) {
	var d Descriptor
	var err error
	if d.DataOffset, err = r.Uint32(); err != nil {
		return d, err
	}
	if d.DataSize, err = r.Uint32(); err != nil {
		return d, err
	}
	if d.DebugOffset, err = r.Uint32(); err != nil {
		return d, err
	}
	if d.DebugSize, err = r.Uint32(); err != nil {
		return d, err
	}
	if d.ConfigOffset, err = r.Uint32(); err != nil {
		return d, err
	}
	if d.ConfigSize, err = r.Uint32(); err != nil {
		return d, err
	}
	return d, nil
}

func readHash32(r *binreader.Reader) (Hash32Entry, error) {
	var e Hash32Entry
	var err error
	if e.Hash, err = r.Uint32(); err != nil {
		return e, err
	}
	reserved, err := r.Bytes(4)
	if err != nil {
		return e, err
	}
	copy(e.Reserved[:], reserved)
	if e.MappingIndex, err = r.Uint32(); err != nil {
		return e, err
	}
	if e.LocalStoreIndex, err = r.Uint32(); err != nil {
		return e, err
	}
	if e.StoreID, err = r.Uint32(); err != nil {
		return e, err
	}
	return e, nil
}

func readHash64(r *binreader.Reader) (Hash64Entry, error) {
	var e Hash64Entry
	var err error
	if e.Hash, err = r.Uint64(); err != nil {
		return e, err
	}
	if e.Reserved, err = r.Uint32(); err != nil {
		return e, err
	}
	if e.MappingIndex, err = r.Uint32(); err != nil {
		return e, err
	}
	if e.LocalStoreIndex, err = r.Uint32(); err != nil {
		return e, err
	}
	if e.StoreID, err = r.Uint32(); err != nil {
		return e, err
	}
	return e, nil
}

// DataBounds reports whether the descriptor's data region fits within
// the store file, and the borrowed slice if so.
func (s *Store) DataBounds(d Descriptor) ([]byte, bool) {
	slice, err := binreader.Slice(s.Data, int(d.DataOffset), int(d.DataSize))
	if err != nil {
		return nil, false
	}
	return slice, true
}
