package log

import "go.uber.org/zap"

// ZapLogger adapts a zap logger to the Logger interface.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

var _ Logger = ZapLogger{}

// NewZap wraps l. Callers keep ownership of l and should Sync it on exit.
func NewZap(l *zap.Logger) ZapLogger {
	return ZapLogger{sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (z ZapLogger) Debug(msg string, args ...any) {
	z.sugar.Debugw(msg, args...)
}

func (z ZapLogger) Info(msg string, args ...any) {
	z.sugar.Infow(msg, args...)
}

func (z ZapLogger) Warn(msg string, args ...any) {
	z.sugar.Warnw(msg, args...)
}

func (z ZapLogger) Error(msg string, args ...any) {
	z.sugar.Errorw(msg, args...)
}

// With returns a logger that adds the given key/value pairs to every entry.
func (z ZapLogger) With(args ...any) ZapLogger {
	return ZapLogger{sugar: z.sugar.With(args...)}
}
