// Package obslog provides the structured, leveled logger shared by the
// session facade, optimizer, provider, and scheduler packages.
package obslog

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog's level ordering but keeps the runtime's own call
// sites decoupled from the zerolog import.
type Level int8

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case Debug:
		return zerolog.DebugLevel
	case Warn:
		return zerolog.WarnLevel
	case Error:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger wraps a zerolog.Logger with the field vocabulary the runtime uses:
// run_id, node, pass, device.
type Logger struct {
	z zerolog.Logger
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(os.Stderr, Info)
)

// New builds a Logger writing to w at the given minimum level.
func New(w io.Writer, level Level) Logger {
	z := zerolog.New(w).With().Timestamp().Logger().Level(level.zerolog())
	return Logger{z: z}
}

// SetDefault replaces the package-level default logger returned by Default.
func SetDefault(l Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// Default returns the package-level logger used by components that were not
// handed an explicit Logger.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// With returns a child logger with run_id attached to every subsequent entry.
func (l Logger) With(runID string) Logger {
	return Logger{z: l.z.With().Str("run_id", runID).Logger()}
}

// WithNode returns a child logger tagged with the node name being executed.
func (l Logger) WithNode(node string) Logger {
	return Logger{z: l.z.With().Str("node", node).Logger()}
}

// WithPass returns a child logger tagged with the optimizer pass name.
func (l Logger) WithPass(pass string) Logger {
	return Logger{z: l.z.With().Str("pass", pass).Logger()}
}

func (l Logger) Debugf(format string, args ...interface{}) {
	l.z.Debug().Msgf(format, args...)
}

func (l Logger) Infof(format string, args ...interface{}) {
	l.z.Info().Msgf(format, args...)
}

func (l Logger) Warnf(format string, args ...interface{}) {
	l.z.Warn().Msgf(format, args...)
}

func (l Logger) Errorf(format string, args ...interface{}) {
	l.z.Error().Msgf(format, args...)
}

// Err logs err at Error level along with a message, returning err unchanged
// so callers can write `return obslog.Default().Err(err, "...")`.
func (l Logger) Err(err error, msg string) error {
	l.z.Error().Err(err).Msg(msg)
	return err
}
