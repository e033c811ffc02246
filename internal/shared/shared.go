// package shared defines shared helpers
package shared

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a new [log.Logger] instance with the specified [io.Writer], with timestamps and caller reporting enabled.
//
// The writer defaults to [os.Stderr]
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{ReportTimestamp: true, ReportCaller: true}
	return log.NewWithOptions(w, opts)
}

// NewRotatingWriter returns a size-rotated log file writer for cfg.File.
func NewRotatingWriter(cfg LogConfig) (io.Writer, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("%w: log file path is empty", ErrInvalidConfig)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}, nil
}

// NewConfiguredLogger builds the CLI logger: stderr, plus the rotating file when one is configured.
func NewConfiguredLogger(cfg LogConfig, debug bool) (*log.Logger, error) {
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		fw, err := NewRotatingWriter(cfg)
		if err != nil {
			return nil, err
		}
		w = io.MultiWriter(os.Stderr, fw)
	}
	logger := NewLogger(w)
	if debug {
		SetLogLevel(logger, log.DebugLevel)
	}
	return logger, nil
}

// NewFileLogger creates a logger that writes only to a rotating file at path.
// The TUI uses it so log lines do not interleave with rendering.
func NewFileLogger(path string) (*log.Logger, error) {
	w, err := NewRotatingWriter(LogConfig{File: path, MaxSize: 10, MaxBackups: 3})
	if err != nil {
		return nil, err
	}
	return NewLogger(w), nil
}

// WithLogger creates a child [log.Logger] with the specified key-value pairs added to all log entries.
func WithLogger(l *log.Logger, kv ...any) *log.Logger {
	return l.With(kv...)
}

// SetLogLevel sets the [log.Level] for the given [log.Logger].
func SetLogLevel(l *log.Logger, ll log.Level) {
	l.SetLevel(ll)
}

// GenerateID generates a new v4 [uuid.UUID] as a string
func GenerateID() string {
	return uuid.New().String()
}
