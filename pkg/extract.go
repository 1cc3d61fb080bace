// Package dotnetstore is the extractor's top-level API. It discovers
// store and manifest inputs, parses or recovers each store, and writes
// DLLs under the output directory.
package dotnetstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/dotnetstore-extract/internal/assemblystore"
	"github.com/provide-io/dotnetstore-extract/internal/discovery"
	"github.com/provide-io/dotnetstore-extract/internal/lz4env"
	"github.com/provide-io/dotnetstore-extract/internal/manifest"
	"github.com/provide-io/dotnetstore-extract/internal/obslog"
	"github.com/provide-io/dotnetstore-extract/internal/orchestrator"
	"github.com/provide-io/dotnetstore-extract/internal/peclr"
	"github.com/provide-io/dotnetstore-extract/internal/recovery"
	"github.com/provide-io/dotnetstore-extract/internal/storeio"
)

// Options configures a full extraction run.
type Options struct {
	InputDir  string
	OutputDir string
	// DryRun verifies inputs and reports what would be extracted
	// without writing any files.
	DryRun bool
	// MaxUncompressedSize bounds LZ4 envelope expansion; <= 0 selects
	// the decoder's default ceiling.
	MaxUncompressedSize int
	Logger              hclog.Logger
}

// StoreReport tallies one store's outcome.
type StoreReport struct {
	BaseName   string
	Recovered  bool
	Skipped    bool
	SkipReason string
	Summary    orchestrator.Summary
}

// Report aggregates an entire run.
type Report struct {
	Stores         []StoreReport
	ConversionLog  string
	ManifestFound  bool
	TotalExtracted int
	TotalInvalid   int
}

// Run discovers inputs under opts.InputDir and extracts every store
// found into opts.OutputDir, returning an aggregate Report. The only
// errors it returns are top-level programmer errors; every per-store
// or per-descriptor failure is recorded in the returned Report and the
// conversion log instead.
func Run(opts Options) (Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = obslog.NewLogger("dotnetstore-extract", obslog.GetLogLevel(), nil)
	}

	info, err := os.Stat(opts.InputDir)
	if err != nil || !info.IsDir() {
		return Report{}, fmt.Errorf("input directory does not exist: %s", opts.InputDir)
	}

	inputs, err := discovery.Discover(opts.InputDir)
	if err != nil {
		return Report{}, fmt.Errorf("discovering inputs: %w", err)
	}

	man := manifest.Parse(strings.NewReader(""), logger)
	manifestFound := inputs.ManifestPath != ""
	if manifestFound {
		f, err := os.Open(inputs.ManifestPath)
		if err != nil {
			logger.Warn("failed to open manifest, proceeding with empty manifest", "path", inputs.ManifestPath, "error", err)
		} else {
			man = manifest.Parse(f, logger)
			f.Close()
		}
	} else {
		logger.Warn("no assemblies.manifest found; every store will fall through to recovery")
	}

	var convLog *obslog.ConversionLog
	if !opts.DryRun {
		convLog, err = obslog.NewConversionLog(opts.OutputDir, time.Now())
		if err != nil {
			return Report{}, fmt.Errorf("creating conversion log: %w", err)
		}
		defer convLog.Close()
	}

	report := Report{ManifestFound: manifestFound}
	if convLog != nil {
		report.ConversionLog = convLog.Path()
	}

	for _, storePath := range inputs.StorePaths {
		basename := discovery.StoreBaseName(storePath)
		isPrimary := discovery.IsPrimary(basename)

		storeReport := extractOneStore(storePath, basename, isPrimary, man, opts, logger, convLog)
		report.Stores = append(report.Stores, storeReport)
		report.TotalExtracted += storeReport.Summary.Extracted
		report.TotalInvalid += storeReport.Summary.Invalid
	}

	return report, nil
}

func extractOneStore(
	storePath, basename string,
	isPrimary bool,
	man *manifest.Manifest,
	opts Options,
	logger hclog.Logger,
	convLog *obslog.ConversionLog,
) StoreReport {
	report := StoreReport{BaseName: basename}

	mf, err := storeio.OpenStore(storePath)
	if err != nil {
		report.Skipped = true
		report.SkipReason = fmt.Sprintf("I/O failure opening store: %v", err)
		logger.Error("failed to open store", "path", storePath, "error", err)
		logLine(convLog, "store %s: IOFailure: %v", basename, err)
		return report
	}
	defer mf.Close()

	data := mf.Bytes()

	store, err := assemblystore.Parse(data, isPrimary, logger)
	switch {
	case err == nil && man.Empty():
		logger.Info("manifest is empty, falling back to recovery", "path", storePath)
		logLine(convLog, "store %s: empty manifest, using recovery scanner", basename)
		report.Recovered = true
		report.Summary = runRecovery(data, man, basename, opts, logger, convLog)
		return report

	case err == nil:
		if opts.DryRun {
			report.Summary = verifyDryRun(store, man, opts.MaxUncompressedSize)
			logLine(convLog, "store %s: dry-run would extract %d, skip %d",
				basename, report.Summary.Extracted, report.Summary.Skipped)
			return report
		}

		summary, extractErr := orchestrator.ExtractStore(store, man, orchestrator.Options{
			OutputRoot:          opts.OutputDir,
			StoreBaseName:       basename,
			MaxUncompressedSize: opts.MaxUncompressedSize,
			Logger:              logger,
		})
		if extractErr != nil {
			report.Skipped = true
			report.SkipReason = extractErr.Error()
			logLine(convLog, "store %s: extraction aborted: %v", basename, extractErr)
			return report
		}
		report.Summary = summary
		logLine(convLog, "store %s: extracted %d, invalid %d, skipped %d",
			basename, summary.Extracted, summary.Invalid, summary.Skipped)
		return report

	case errors.Is(err, assemblystore.ErrNotAssemblyStore):
		logger.Info("store failed canonical parse, falling back to recovery", "path", storePath)
		logLine(convLog, "store %s: NotAnAssemblyStore, using recovery scanner", basename)
		report.Recovered = true
		report.Summary = runRecovery(data, man, basename, opts, logger, convLog)
		return report

	default:
		report.Skipped = true
		report.SkipReason = err.Error()
		logger.Error("store parse failed fatally, skipping", "path", storePath, "error", err)
		logLine(convLog, "store %s: %v", basename, err)
		return report
	}
}

func runRecovery(
	data []byte,
	man *manifest.Manifest,
	basename string,
	opts Options,
	logger hclog.Logger,
	convLog *obslog.ConversionLog,
) orchestrator.Summary {
	results := recovery.Scan(data, man, basename, logger)

	var summary orchestrator.Summary
	if opts.DryRun {
		summary.Extracted = len(results)
		return summary
	}

	for i, res := range results {
		name := fmt.Sprintf("%s_assembly_%03d.dll", basename, i)
		outPath := filepath.Join(opts.OutputDir, basename, name)
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			logger.Error("failed to create recovery output directory", "path", outPath, "error", err)
			summary.Skipped++
			continue
		}
		if err := os.WriteFile(outPath, res.Data, 0o644); err != nil {
			logger.Error("failed to write recovered assembly", "path", outPath, "error", err)
			summary.Skipped++
			continue
		}
		summary.Extracted++
	}

	logLine(convLog, "store %s: recovery scanner emitted %d candidate(s)", basename, len(results))
	return summary
}

// verifyDryRun mirrors orchestrator.ExtractStore's bookkeeping without
// writing any files, for Options.DryRun.
func verifyDryRun(store *assemblystore.Store, man *manifest.Manifest, maxUncompressedSize int) orchestrator.Summary {
	var summary orchestrator.Summary
	for i, desc := range store.Descriptors {
		entry, ok := man.Lookup(store.Header.StoreID, uint32(i))
		if !ok || desc.DataSize == 0 {
			summary.Skipped++
			continue
		}
		payload, ok := store.DataBounds(desc)
		if !ok {
			summary.Skipped++
			continue
		}
		_ = entry

		if lz4env.HasEnvelope(payload) {
			decoded, err := lz4env.Decompress(payload, maxUncompressedSize)
			if err != nil {
				summary.Skipped++
				continue
			}
			payload = decoded
		}

		if peclr.ValidateCanonical(payload) {
			summary.Extracted++
		} else if _, repaired := peclr.Repair(payload); repaired {
			summary.Extracted++
		} else {
			summary.Invalid++
		}
	}
	return summary
}

func logLine(convLog *obslog.ConversionLog, format string, args ...any) {
	if convLog != nil {
		convLog.Linef(format, args...)
	}
}
