package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/exepirit/meshcat/internal/config"
)

// Setup builds a zap logger writing to diag (the diagnostic stream) and, when
// configured, to a log file. The caller should defer logger.Sync().
func Setup(c config.LogConfig, diag io.Writer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(c.Format) {
	case "json":
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case "", "console":
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.TimeKey = ""
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid log format %q", c.Format)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(diag), level),
	}

	if c.File != "" {
		ws, err := fileSyncer(c)
		if err != nil {
			return nil, err
		}
		fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEncoder, ws, level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.DPanicLevel))
	return logger, nil
}

func fileSyncer(c config.LogConfig) (zapcore.WriteSyncer, error) {
	if dir := filepath.Dir(c.File); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	if c.Rotation.Enable {
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    max(c.Rotation.MaxSizeMB, 1),
			MaxBackups: c.Rotation.MaxBackups,
			MaxAge:     c.Rotation.MaxAgeDays,
			Compress:   c.Rotation.Compress,
		}), nil
	}

	f, err := os.OpenFile(c.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return zapcore.AddSync(f), nil
}
