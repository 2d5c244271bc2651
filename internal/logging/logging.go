package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

const permission = 0664

// Options selects where and how log lines are written.
type Options struct {
	// Path, when set, appends to a file instead of Writer.
	Path   string
	Writer io.Writer
	Level  string
	// Pretty renders human-readable lines for a terminal.
	Pretty bool
}

// Logger bundles the zerolog logger with the file it may own.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// New builds a timestamped logger. The default sink is stderr because
// stdout belongs to the MCP stdio transport.
func New(opts Options) (*Logger, error) {
	out := &Logger{}
	var w io.Writer = os.Stderr
	if opts.Writer != nil {
		w = opts.Writer
	}
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(opts.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		out.file = f
		w = zerolog.SyncWriter(f)
	}
	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	out.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	return out, nil
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Nop discards everything.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Component tags l with the subsystem name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
