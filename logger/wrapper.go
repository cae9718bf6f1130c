package logger

// LevelWrapper adds the Debug/Info/Warn/Error convenience methods and
// key/value scoping on top of a bare Base backend.
type LevelWrapper struct {
	base Base
	kv   []any
}

func WrapLogger(l Base) Logger {
	return &LevelWrapper{base: l}
}

func (w *LevelWrapper) Level() Level {
	return w.base.Level()
}

func (w *LevelWrapper) Log(level Level, msg string, kv ...any) {
	if len(w.kv) == 0 {
		w.base.Log(level, msg, kv...)
		return
	}
	merged := make([]any, 0, len(w.kv)+len(kv))
	merged = append(merged, w.kv...)
	merged = append(merged, kv...)
	w.base.Log(level, msg, merged...)
}

func (w *LevelWrapper) Debug(msg string, kv ...any) { w.Log(DebugLevel, msg, kv...) }
func (w *LevelWrapper) Info(msg string, kv ...any)  { w.Log(InfoLevel, msg, kv...) }
func (w *LevelWrapper) Warn(msg string, kv ...any)  { w.Log(WarnLevel, msg, kv...) }
func (w *LevelWrapper) Error(msg string, kv ...any) { w.Log(ErrorLevel, msg, kv...) }

// With returns a Logger that prepends kv to every subsequent log call,
// leaving the receiver unchanged.
func (w *LevelWrapper) With(kv ...any) Logger {
	merged := make([]any, 0, len(w.kv)+len(kv))
	merged = append(merged, w.kv...)
	merged = append(merged, kv...)
	return &LevelWrapper{base: w.base, kv: merged}
}
