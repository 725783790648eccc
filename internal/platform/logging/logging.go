package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects verbosity for a command invocation. Quiet wins over Verbose.
type Options struct {
	Verbose bool
	Quiet   bool
}

// New builds the process logger. Console encoder on stderr so machine-readable
// stdout modes stay clean.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	switch {
	case opts.Quiet:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	case opts.Verbose:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	return cfg.Build()
}

// Nop returns a logger that drops everything; used by tests and as the
// default before bootstrap wires the real one.
func Nop() *zap.Logger {
	return zap.NewNop()
}
