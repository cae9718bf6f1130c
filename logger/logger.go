// Package logger defines the leveled, structured logging surface used
// across the container: the run loop, the workers, and the bundled
// mux/task implementations all log through a logger.Logger rather than
// a concrete backend.
package logger

type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Base is the minimal surface a backend must implement. Wrap it with
// WrapLogger to get the convenience Debug/Info/Warn/Error methods.
type Base interface {
	Level() Level
	Log(level Level, msg string, kv ...any)
}

type Logger interface {
	Base
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	With(kv ...any) Logger
}

type noopLogger struct{}

func (noopLogger) Log(Level, string, ...any) {}
func (noopLogger) Level() Level              { return InfoLevel }

// NewNoop returns a Logger that discards everything. Useful as a
// default so callers never need a nil check.
func NewNoop() Logger {
	return WrapLogger(noopLogger{})
}
