// Package logger builds the process-wide structured logger.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a JSON logger at the given level. Levels follow zap's
// names; an empty level means info, an unknown one is a configuration
// mistake and fails instead of being silently downgraded.
func NewLogger(level string) (*zap.Logger, error) {
	minLevel := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("logger: unknown level %q", level)
		}
		minLevel = parsed
	}

	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})

	// Progress lines go to stdout, warnings and errors to stderr, so batch
	// pipelines can separate the run log from the problem log.
	outLevel := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= minLevel && l < zapcore.WarnLevel
	})
	errLevel := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= minLevel && l >= zapcore.WarnLevel
	})
	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), outLevel),
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), errLevel),
	)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// NewComponentLogger returns a sugared logger tagged with the component name.
// Detection rules and the category runner use this so every log line carries
// its origin.
func NewComponentLogger(base *zap.Logger, component string) *zap.SugaredLogger {
	return base.Named(component).Sugar()
}
