// Package log provides the process-wide structured logger.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is shared by every package. Handlers log upstream failures here
	// with full detail; clients only ever see the sanitized message.
	Logger *zap.Logger

	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var err error
	if Logger, err = cfg.Build(zap.WithCaller(false)); err != nil {
		panic(err)
	}
}

// SetDebug lowers the log level to debug, enabling wire-level traces in the
// GitHub and AI gateway clients.
func SetDebug() {
	level.SetLevel(zapcore.DebugLevel)
}
