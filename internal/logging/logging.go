package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Options control how New builds a logger
type Options struct {
	Level     string
	Prefix    string
	Timestamp bool
}

// New returns a leveled logger writing to w. Unknown level names fall back to info.
func New(w io.Writer, opts Options) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := log.NewWithOptions(w, log.Options{
		Prefix:          opts.Prefix,
		ReportTimestamp: opts.Timestamp,
		TimeFormat:      time.RFC3339,
	})
	logger.SetLevel(ParseLevel(opts.Level))
	return logger
}

// ParseLevel maps a config value to a log level
func ParseLevel(raw string) log.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// Discard returns a logger that drops everything, for tests and library defaults
func Discard() *log.Logger {
	return log.New(io.Discard)
}
