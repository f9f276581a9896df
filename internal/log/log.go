// Package log builds the slog handlers used by fedsync commands.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

const (
	JSONFormat = "json"
	TextFormat = "text"

	LevelEnv  = "FEDSYNC_LOG_LEVEL"
	FormatEnv = "FEDSYNC_LOG_FORMAT"
)

// NewFromEnv creates a [slog.Logger] writing to stderr, configured by
// FEDSYNC_LOG_LEVEL and FEDSYNC_LOG_FORMAT.
func NewFromEnv() *slog.Logger {
	format := os.Getenv(FormatEnv)
	if format == "" {
		format = DefaultFormat(os.Stderr)
	}
	return slog.New(CreateHandler(os.Stderr, os.Getenv(LevelEnv), format))
}

// CreateHandler creates a [slog.Handler] by strings. Unknown formats fall
// back to text.
func CreateHandler(w io.Writer, logLevel, logFormat string) slog.Handler {
	opts := &slog.HandlerOptions{Level: GetLevel(logLevel)}

	switch strings.ToLower(logFormat) {
	case JSONFormat:
		return slog.NewJSONHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

func GetLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "panic", "fatal", "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	case "debug", "trace":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// ParseFormat validates a log format name. The empty string selects the
// default for the terminal.
func ParseFormat(logFormat string) (string, error) {
	switch f := strings.ToLower(logFormat); f {
	case JSONFormat, TextFormat:
		return f, nil
	case "":
		return DefaultFormat(os.Stderr), nil
	default:
		return "", fmt.Errorf("unknown log format %q", logFormat)
	}
}

// DefaultFormat is text when f is a terminal and JSON otherwise.
func DefaultFormat(f *os.File) string {
	if f != nil && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return TextFormat
	}
	return JSONFormat
}
