package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ConversionLog is the process-wide, file-backed record of one extraction
// run: one line per store outcome (its counts, a skip reason, or a
// recovery fallback). Per-assembly warnings and repairs go only to the
// hclog logger, not to this file. It is written to under a mutex so interleaved writes
// stay line-atomic; the current driver is single-threaded and never
// exercises that contention, but the contract is retained for any
// future concurrent extension.
type ConversionLog struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewConversionLog creates "conversion_log_<YYYYMMDD_HHMMSS>.txt" inside
// outputDir, creating outputDir if necessary.
func NewConversionLog(outputDir string, now time.Time) (*ConversionLog, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	name := fmt.Sprintf("conversion_log_%s.txt", now.UTC().Format("20060102_150405"))
	path := filepath.Join(outputDir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating conversion log: %w", err)
	}

	return &ConversionLog{file: f, path: path}, nil
}

// Path returns the path of the underlying log file.
func (c *ConversionLog) Path() string {
	return c.path
}

// Linef writes one formatted, timestamped line to the log.
func (c *ConversionLog) Linef(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line := fmt.Sprintf("%s  %s\n", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	_, _ = c.file.WriteString(line)
}

// Close flushes and closes the underlying file.
func (c *ConversionLog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Close()
}
