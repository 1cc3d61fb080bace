// Package storeio opens store files from disk. Store
// files are memory-mapped read-only rather than read in full, so a
// large secondary store's descriptors can be sliced by offset without
// a second heap copy of the whole file.
package storeio

import (
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// MappedFile is a memory-mapped store file. Close unmaps it and closes
// the underlying descriptor.
type MappedFile struct {
	data mmap.MMap
	f    *os.File
}

// OpenStore memory-maps path read-only.
func OpenStore(path string) (*MappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening store file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("statting store file: %w", err)
	}
	if info.Size() == 0 {
		// mmap.Map rejects zero-length files; treat as empty data
		// rather than a hard failure, so the caller's store parse (which
		// rejects it as not an AssemblyStore) handles it instead of an
		// I/O error.
		f.Close()
		return &MappedFile{data: mmap.MMap{}, f: nil}, nil
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("memory-mapping store file: %w", err)
	}

	return &MappedFile{data: data, f: f}, nil
}

// Bytes returns the mapped contents.
func (m *MappedFile) Bytes() []byte {
	return m.data
}

// Close unmaps and closes the file. Safe to call on a zero-length
// MappedFile.
func (m *MappedFile) Close() error {
	if m.f == nil {
		return nil
	}
	if err := m.data.Unmap(); err != nil {
		m.f.Close()
		return fmt.Errorf("unmapping store file: %w", err)
	}
	return m.f.Close()
}
