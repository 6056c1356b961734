package logging

import (
	"io"

	"github.com/edaniels/golog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewFileLogger is like NewLogger but also appends JSON lines to path, rotating the file once
// it grows past 100 megabytes. The returned closer releases the file.
func NewFileLogger(name, path string, debug bool) (golog.Logger, io.Closer) {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}
	config := NewLoggerConfig()
	config.Level = zap.NewAtomicLevelAt(level)

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 3,
		Compress:   true,
	}
	encoderConfig := config.EncoderConfig
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), level)

	logger := zap.Must(config.Build(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	})))
	return logger.Sugar().Named(name), rotator
}
