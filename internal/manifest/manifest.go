// Package manifest parses the text (or, for newer packagers, JSON)
// assembly manifest that pairs (store_id, local_index) tuples with
// human-readable assembly names.
package manifest

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Key identifies a manifest row by (store_id, local_index).
type Key struct {
	BlobID  uint32
	BlobIdx uint32
}

// Entry is one parsed manifest row.
type Entry struct {
	Hash32  string
	Hash64  string
	BlobID  uint32
	BlobIdx uint32
	Name    string
	// Size is only populated by the JSON manifest variant; the text
	// variant carries no size column.
	Size    int64
	HasSize bool
}

// Manifest is an ordered collection of entries, indexed by (blob_id, blob_idx).
type Manifest struct {
	entries map[Key]Entry
	// order preserves JSON/text row order for the recovery scanner's
	// manifest-guided slicing pass, which walks entries by position.
	order []Key
}

func empty() *Manifest {
	return &Manifest{entries: make(map[Key]Entry)}
}

// Lookup returns the entry for (blobID, blobIdx), if any.
func (m *Manifest) Lookup(blobID, blobIdx uint32) (Entry, bool) {
	e, ok := m.entries[Key{BlobID: blobID, BlobIdx: blobIdx}]
	return e, ok
}

// Len reports the number of parsed entries.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Empty reports whether the manifest has no entries at all. The
// extractor falls through to the Recovery Scanner for every store
// when this is true, except stores rejected as malformed, which are
// skipped.
func (m *Manifest) Empty() bool {
	return len(m.entries) == 0
}

// OrderedSizes returns the Size and Name of every entry, in manifest
// row order. It is used by the recovery scanner's manifest-guided
// slicing pass. ok is false, and nothing is returned, if any entry
// lacks a size (the plain text manifest variant never carries one) or
// the manifest is empty.
func (m *Manifest) OrderedSizes() (sizes []int64, names []string, ok bool) {
	for _, k := range m.order {
		e := m.entries[k]
		if !e.HasSize {
			return nil, nil, false
		}
		sizes = append(sizes, e.Size)
		names = append(names, e.Name)
	}
	return sizes, names, len(sizes) > 0
}

func (m *Manifest) add(e Entry) {
	k := Key{BlobID: e.BlobID, BlobIdx: e.BlobIdx}
	if _, exists := m.entries[k]; !exists {
		m.order = append(m.order, k)
	}
	m.entries[k] = e
}

// Parse reads a manifest from r. It never returns an error: any
// failure (malformed JSON, zero parseable rows) yields an empty
// Manifest and is only reported through logger.
func Parse(r io.Reader, logger hclog.Logger) *Manifest {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	data, err := io.ReadAll(r)
	if err != nil {
		logger.Warn("failed to read manifest", "error", err)
		return empty()
	}

	trimmed := strings.TrimLeft(string(data), " \t\r\n")
	if strings.HasPrefix(trimmed, "{") {
		return parseJSON(data, logger)
	}
	return parseText(data, logger)
}

type jsonManifest struct {
	Assemblies []struct {
		Name string `json:"Name"`
		Size int64  `json:"Size"`
		Hash string `json:"Hash"`
	} `json:"Assemblies"`
}

func parseJSON(data []byte, logger hclog.Logger) *Manifest {
	var doc jsonManifest
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn("failed to parse JSON manifest", "error", err)
		return empty()
	}

	m := empty()
	for i, a := range doc.Assemblies {
		m.add(Entry{
			Hash32:  a.Hash,
			Hash64:  "",
			BlobID:  0,
			BlobIdx: uint32(i),
			Name:    a.Name,
			Size:    a.Size,
			HasSize: true,
		})
	}
	return m
}

func parseText(data []byte, logger hclog.Logger) *Manifest {
	m := empty()
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	headerSkipped := false
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if !headerSkipped && strings.HasPrefix(fields[0], "Hash") {
			headerSkipped = true
			continue
		}
		headerSkipped = true

		if len(fields) < 5 {
			logger.Warn("skipping malformed manifest row", "line", lineNo, "fields", len(fields))
			continue
		}

		blobID, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			logger.Warn("skipping manifest row with non-numeric blob_id", "line", lineNo, "value", fields[2])
			continue
		}
		blobIdx, err := strconv.ParseUint(fields[3], 10, 32)
		if err != nil {
			logger.Warn("skipping manifest row with non-numeric blob_idx", "line", lineNo, "value", fields[3])
			continue
		}

		m.add(Entry{
			Hash32:  fields[0],
			Hash64:  fields[1],
			BlobID:  uint32(blobID),
			BlobIdx: uint32(blobIdx),
			Name:    fields[4],
		})
	}

	if err := scanner.Err(); err != nil {
		logger.Warn("error scanning manifest", "error", err)
	}

	return m
}
