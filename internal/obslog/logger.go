// Package obslog wires up structured logging for the extractor: a
// named logger with an env-driven level, optional JSON formatting, and
// a line-prefixing writer for human-readable terminal output.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
)

// NewLogger creates a new hclog logger with this tool's standard settings.
func NewLogger(name string, level string, output io.Writer) hclog.Logger {
	if output == nil {
		output = os.Stderr
	}

	jsonFormat := os.Getenv("ASMSTORE_JSON_LOG") == "1"
	if !jsonFormat {
		output = NewPrefixWriter("[dotnetstore] ", output)
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(level),
		JSONFormat: jsonFormat,
		Output:     output,
		TimeFormat: "2006-01-02T15:04:05Z",
		TimeFn: func() time.Time {
			return time.Now().UTC()
		},
	})
}

// GetLogLevel returns the configured log level from the environment,
// defaulting to "info" (the CLI is interactive by default, unlike a
// long-running service).
func GetLogLevel() string {
	if level := os.Getenv("ASMSTORE_LOG_LEVEL"); level != "" {
		return level
	}
	return "info"
}
