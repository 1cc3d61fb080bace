// Package orchestrator drives the canonical extraction path: for each
// descriptor in a parsed store, resolve its manifest name, slice its
// payload, unwrap LZ4 if present, validate (repairing once if needed),
// and write the named DLL. It is the sole writer on the canonical
// path; the decoders and validator it calls are pure functions over
// byte slices.
package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/dotnetstore-extract/internal/assemblystore"
	"github.com/provide-io/dotnetstore-extract/internal/lz4env"
	"github.com/provide-io/dotnetstore-extract/internal/manifest"
	"github.com/provide-io/dotnetstore-extract/internal/peclr"
)

// Options configures a single store's extraction.
type Options struct {
	// OutputRoot is the extraction output directory; files land under
	// OutputRoot/<StoreBaseName>/...
	OutputRoot string
	// StoreBaseName is the store file's basename without extension
	// (e.g. "assemblies" for the primary store).
	StoreBaseName string
	// MaxUncompressedSize bounds LZ4 envelope expansion; <= 0 selects
	// lz4env.DefaultMaxUncompressedSize.
	MaxUncompressedSize int
	Logger              hclog.Logger
}

// Summary tallies what happened across one store's descriptors.
type Summary struct {
	Extracted int
	Invalid   int
	Skipped   int
}

// ExtractStore walks store's descriptors in ascending local index,
// an observable ordering contract, and writes one DLL per resolved,
// valid descriptor.
func ExtractStore(store *assemblystore.Store, man *manifest.Manifest, opts Options) (Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	var summary Summary

	for i, desc := range store.Descriptors {
		entry, ok := man.Lookup(store.Header.StoreID, uint32(i))
		if !ok {
			logger.Warn("no manifest entry for descriptor, skipping", "store_id", store.Header.StoreID, "index", i)
			summary.Skipped++
			continue
		}

		if desc.DataSize == 0 {
			logger.Debug("descriptor has zero data size, skipping", "index", i, "name", entry.Name)
			summary.Skipped++
			continue
		}

		payload, ok := store.DataBounds(desc)
		if !ok {
			logger.Error("descriptor data region out of bounds, skipping",
				"index", i, "name", entry.Name, "offset", desc.DataOffset, "size", desc.DataSize)
			summary.Skipped++
			continue
		}

		if lz4env.HasEnvelope(payload) {
			decoded, err := lz4env.Decompress(payload, opts.MaxUncompressedSize)
			if err != nil {
				logger.Error("failed to decompress LZ4 envelope, skipping", "index", i, "name", entry.Name, "error", err)
				summary.Skipped++
				continue
			}
			payload = decoded
		}

		valid := peclr.ValidateCanonical(payload)
		if !valid {
			if repaired, ok := peclr.Repair(payload); ok {
				payload = repaired
				valid = true
				logger.Info("repaired assembly after validation failure", "index", i, "name", entry.Name)
			}
		}

		outName := dllName(entry.Name)

		if !valid {
			if err := writeFile(filepath.Join(opts.OutputRoot, opts.StoreBaseName, "invalid", filepath.Base(outName)), payload); err != nil {
				logger.Error("failed to write invalid assembly", "index", i, "name", entry.Name, "error", err)
				summary.Skipped++
				continue
			}
			logger.Warn("assembly failed validation, moved to invalid/", "index", i, "name", entry.Name)
			summary.Invalid++
			continue
		}

		outPath := filepath.Join(opts.OutputRoot, opts.StoreBaseName, filepath.FromSlash(outName))
		if err := writeFile(outPath, payload); err != nil {
			logger.Error("failed to write assembly", "index", i, "name", entry.Name, "error", err)
			summary.Skipped++
			continue
		}

		logger.Info("extracted assembly", "index", i, "name", entry.Name, "path", outPath)
		summary.Extracted++
	}

	return summary, nil
}

// dllName appends ".dll" unless name already has a case-insensitive
// ".dll" suffix.
func dllName(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".dll") {
		return name
	}
	return name + ".dll"
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
