// Package logging builds the process logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON production logger in "release" mode and a colored
// development logger otherwise.
func New(mode string) (*zap.Logger, error) {
	var config zap.Config

	if mode == "release" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if mode == "test" {
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	return config.Build()
}

// Sync flushes l, ignoring the error stderr returns on some platforms.
func Sync(l *zap.Logger) {
	if l != nil {
		_ = l.Sync()
	}
}
