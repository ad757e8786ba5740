// Package logging provides the structured, leveled logger shared by every
// adaliases subsystem. Records are written through go-hclog to a single log
// file; each subsystem gets a named sub-logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Logger interface for subsystem logging.
type Logger interface {
	Trace(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)

	// Named returns a sub-logger for the given subsystem.
	Named(subsystem string) Logger
	// With returns a logger that adds fields to every record.
	With(fields map[string]any) Logger
}

// Options controls where and how records are written.
type Options struct {
	Path   string    // Log file, opened in append mode
	Output io.Writer // Used instead of Path when set
	Level  string    // trace, debug, info, warn, error
	JSON   bool      // Emit JSON lines instead of text
}

// HCLogger adapts go-hclog to the Logger interface.
type HCLogger struct {
	l hclog.Logger
}

// New opens the configured destination and returns a root logger. The
// returned closer releases the log file and must be called on exit.
func New(opts Options) (*HCLogger, io.Closer, error) {
	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		return nil, nil, fmt.Errorf("invalid log level %q", opts.Level)
	}

	out := opts.Output
	closer := io.Closer(nopCloser{})
	if out == nil {
		if opts.Path == "" {
			return nil, nil, fmt.Errorf("log file path is empty")
		}
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}

	l := hclog.New(&hclog.LoggerOptions{
		Name:       "adaliases",
		Level:      level,
		Output:     out,
		JSONFormat: opts.JSON,
	})

	return &HCLogger{l: l}, closer, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *HCLogger {
	return &HCLogger{l: hclog.NewNullLogger()}
}

func (h *HCLogger) Trace(msg string, fields map[string]any) { h.l.Trace(msg, pairs(fields)...) }
func (h *HCLogger) Debug(msg string, fields map[string]any) { h.l.Debug(msg, pairs(fields)...) }
func (h *HCLogger) Info(msg string, fields map[string]any)  { h.l.Info(msg, pairs(fields)...) }
func (h *HCLogger) Warn(msg string, fields map[string]any)  { h.l.Warn(msg, pairs(fields)...) }
func (h *HCLogger) Error(msg string, fields map[string]any) { h.l.Error(msg, pairs(fields)...) }

func (h *HCLogger) Named(subsystem string) Logger {
	return &HCLogger{l: h.l.Named(subsystem)}
}

func (h *HCLogger) With(fields map[string]any) Logger {
	return &HCLogger{l: h.l.With(pairs(fields)...)}
}

// pairs flattens a field map into hclog key/value arguments in key order so
// records are stable across runs.
func pairs(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, strings.Compare)

	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return args
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
