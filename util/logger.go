// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// Logger writes levelled messages to stderr with optional timestamps
// and level prefixes.  When a log file is attached, every message is
// also recorded there at debug granularity regardless of the console
// level.
type Logger struct {
	level      LogLevel
	output     io.Writer
	mu         sync.Mutex
	timestamps bool // if true, prepend wall-clock timestamps

	file *os.File
	sink *zerolog.Logger
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	return &Logger{
		level:      LogLevel(verbosity),
		output:     os.Stderr,
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
	}
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) { l.timestamps = on }

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) { l.output = w }

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// AttachFile opens path in append mode and mirrors every message into
// it as a zerolog record tagged with runID.  The command line is
// written first so each run in the file is self-describing.
func (l *Logger) AttachFile(path, runID string, argv []string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("log file %s: %w", path, err)
	}
	sink := zerolog.New(f).Level(zerolog.DebugLevel).With().
		Timestamp().
		Str("run", runID).
		Logger()

	l.mu.Lock()
	l.file = f
	l.sink = &sink
	l.mu.Unlock()

	sink.Debug().Str("argv", strings.Join(argv, " ")).Msg("starting")
	return nil
}

// Close flushes and closes the attached log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.sink = nil
	return err
}

// Info prints when verbosity ≥ 1.  Prefixed with [INF].
func (l *Logger) Info(format string, args ...interface{}) {
	l.emit(LogNormal, zerolog.InfoLevel, "INF", format, args...)
}

// Warn prints when verbosity ≥ 1.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	l.emit(LogNormal, zerolog.WarnLevel, "WRN", format, args...)
}

// Verbose prints when verbosity ≥ 2.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	l.emit(LogVerbose, zerolog.DebugLevel, "VRB", format, args...)
}

// Debug prints when verbosity ≥ 3.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	l.emit(LogDebug, zerolog.DebugLevel, "DBG", format, args...)
}

// Error always prints regardless of verbosity.  Prefixed with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	l.emit(LogQuiet, zerolog.ErrorLevel, "ERR", format, args...)
}

func (l *Logger) emit(min LogLevel, zl zerolog.Level, prefix, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	if l.sink != nil {
		l.sink.WithLevel(zl).Msg(msg)
	}
	if l.level < min {
		return
	}
	if l.timestamps {
		ts := time.Now().Format("15:04:05.000")
		fmt.Fprintf(l.output, "%s [%s] %s\n", ts, prefix, msg)
	} else {
		fmt.Fprintf(l.output, "[%s] %s\n", prefix, msg)
	}
}
