package kafkamux

import (
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/chrisbu/taskloop/logger"
)

// kgoLogger adapts a logger.Logger to kgo.Logger, the interface
// kgo.WithLogger expects, the same way plugins/zaplogger adapts a
// *zap.Logger to logger.Base: one seam per backend, at the edge the
// backend's own library defines. Without this, kgo's own internal
// diagnostics (rebalances, broker connection issues, retries) have
// nowhere to go but its built-in stderr default.
type kgoLogger struct {
	l logger.Logger
}

var _ kgo.Logger = kgoLogger{}

func newKgoLogger(l logger.Logger) kgo.Logger {
	return kgoLogger{l: l}
}

func (k kgoLogger) Level() kgo.LogLevel {
	switch k.l.Level() {
	case logger.DebugLevel:
		return kgo.LogLevelDebug
	case logger.InfoLevel:
		return kgo.LogLevelInfo
	case logger.WarnLevel:
		return kgo.LogLevelWarn
	case logger.ErrorLevel:
		return kgo.LogLevelError
	default:
		return kgo.LogLevelInfo
	}
}

func (k kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	switch level {
	case kgo.LogLevelDebug:
		k.l.Debug(msg, keyvals...)
	case kgo.LogLevelInfo:
		k.l.Info(msg, keyvals...)
	case kgo.LogLevelWarn:
		k.l.Warn(msg, keyvals...)
	case kgo.LogLevelError:
		k.l.Error(msg, keyvals...)
	}
}
