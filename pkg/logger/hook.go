package logger

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Entry is a single log entry handed to a Hook.
type Entry struct {
	Level   zapcore.Level
	Message string
	Time    time.Time
	// Fields holds the structured context of the entry, including fields added with [With].
	Fields map[string]any
}

// Hook receives entries written through a Logger returned by WithHook.
// It is called synchronously on the goroutine that wrote the entry.
type Hook func(Entry)

// WithHook returns a Logger that writes every entry to l and, when enabled by level, also to hook.
// Loggers not created by this package are wrapped, every call goes to l and to the hook.
func WithHook(l Logger, level zapcore.LevelEnabler, hook Hook) Logger {
	hc := &hookCore{LevelEnabler: level, hook: hook}

	zl, ok := l.(*logger)
	if !ok {
		return &teeLogger{ext: l, hooked: zap.New(hc).Sugar()}
	}

	wrapped := zl.Desugar().WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, hc)
	}))

	return &logger{wrapped.Sugar()}
}

// hookCore is a zapcore.Core that converts entries to Entry values.
type hookCore struct {
	zapcore.LevelEnabler

	hook   Hook
	fields []zapcore.Field
}

var _ zapcore.Core = (*hookCore)(nil)

func (c *hookCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)

	return &hookCore{LevelEnabler: c.LevelEnabler, hook: c.hook, fields: merged}
}

func (c *hookCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}

	return ce
}

func (c *hookCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	c.hook(Entry{
		Level:   ent.Level,
		Message: ent.Message,
		Time:    ent.Time,
		Fields:  enc.Fields,
	})

	return nil
}

func (c *hookCore) Sync() error { return nil }

// teeLogger writes every entry to an external Logger and to a hook-only zap logger.
// Panic and Fatal entries reach the hook at DPanic level, only ext panics or exits.
type teeLogger struct {
	ext    Logger
	hooked *zap.SugaredLogger
}

func (t *teeLogger) with(keysAndValues ...any) *teeLogger {
	return &teeLogger{ext: With(t.ext, keysAndValues...), hooked: t.hooked.With(keysAndValues...)}
}

func (t *teeLogger) Name() string { return t.ext.Name() }

func (t *teeLogger) Debug(args ...any) {
	t.hooked.Debug(args...)
	t.ext.Debug(args...)
}

func (t *teeLogger) Info(args ...any) {
	t.hooked.Info(args...)
	t.ext.Info(args...)
}

func (t *teeLogger) Warn(args ...any) {
	t.hooked.Warn(args...)
	t.ext.Warn(args...)
}

func (t *teeLogger) Error(args ...any) {
	t.hooked.Error(args...)
	t.ext.Error(args...)
}

func (t *teeLogger) Panic(args ...any) {
	t.hooked.DPanic(args...)
	t.ext.Panic(args...)
}

func (t *teeLogger) Fatal(args ...any) {
	t.hooked.DPanic(args...)
	t.ext.Fatal(args...)
}

func (t *teeLogger) Debugf(format string, values ...any) {
	t.hooked.Debugf(format, values...)
	t.ext.Debugf(format, values...)
}

func (t *teeLogger) Infof(format string, values ...any) {
	t.hooked.Infof(format, values...)
	t.ext.Infof(format, values...)
}

func (t *teeLogger) Warnf(format string, values ...any) {
	t.hooked.Warnf(format, values...)
	t.ext.Warnf(format, values...)
}

func (t *teeLogger) Errorf(format string, values ...any) {
	t.hooked.Errorf(format, values...)
	t.ext.Errorf(format, values...)
}

func (t *teeLogger) Panicf(format string, values ...any) {
	t.hooked.DPanicf(format, values...)
	t.ext.Panicf(format, values...)
}

func (t *teeLogger) Fatalf(format string, values ...any) {
	t.hooked.DPanicf(format, values...)
	t.ext.Fatalf(format, values...)
}

func (t *teeLogger) Debugw(msg string, keysAndValues ...any) {
	t.hooked.Debugw(msg, keysAndValues...)
	t.ext.Debugw(msg, keysAndValues...)
}

func (t *teeLogger) Infow(msg string, keysAndValues ...any) {
	t.hooked.Infow(msg, keysAndValues...)
	t.ext.Infow(msg, keysAndValues...)
}

func (t *teeLogger) Warnw(msg string, keysAndValues ...any) {
	t.hooked.Warnw(msg, keysAndValues...)
	t.ext.Warnw(msg, keysAndValues...)
}

func (t *teeLogger) Errorw(msg string, keysAndValues ...any) {
	t.hooked.Errorw(msg, keysAndValues...)
	t.ext.Errorw(msg, keysAndValues...)
}

func (t *teeLogger) Panicw(msg string, keysAndValues ...any) {
	t.hooked.DPanicw(msg, keysAndValues...)
	t.ext.Panicw(msg, keysAndValues...)
}

func (t *teeLogger) Fatalw(msg string, keysAndValues ...any) {
	t.hooked.DPanicw(msg, keysAndValues...)
	t.ext.Fatalw(msg, keysAndValues...)
}

func (t *teeLogger) Sync() error {
	return errors.Join(t.hooked.Sync(), t.ext.Sync())
}
