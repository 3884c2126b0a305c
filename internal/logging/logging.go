// Package logging builds the process-wide zap logger. Components pick up
// the global via zap.L().Named(...), so callers install the result with
// zap.ReplaceGlobals.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BuildConsoleLogger is the interactive configuration: colored levels,
// human timestamps, debug level when verbose.
func BuildConsoleLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return config.Build()
}

// BuildFileLogger writes production JSON logs to outputFilePath, used when
// the companion runs embedded rather than from a terminal.
func BuildFileLogger(outputFilePath string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{outputFilePath}
	return cfg.Build()
}
