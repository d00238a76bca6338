package log

type (
	// Logger is the logging facade used across the module. Arguments are key/value pairs,
	// so *slog.Logger satisfies it as well as the zap adapter returned by NewZap.
	Logger interface {
		Debug(msg string, args ...any)
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
		Error(msg string, args ...any)
	}
	NOOPLogger struct{}
)

func (NOOPLogger) Debug(msg string, args ...any) {
}

func (NOOPLogger) Info(msg string, args ...any) {
}

func (NOOPLogger) Warn(msg string, args ...any) {
}

func (NOOPLogger) Error(msg string, args ...any) {
}

// OrNOOP returns l, or a NOOPLogger when l is nil.
func OrNOOP(l Logger) Logger {
	if l == nil {
		return NOOPLogger{}
	}
	return l
}
