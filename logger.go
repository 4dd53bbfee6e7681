package rabbitcore

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the abstract structured log sink the core emits records
// through (spec §1: "the core emits records through an abstract log
// sink"). It intentionally mirrors the small, field-based interface used
// throughout the example corpus rather than accepting printf-style
// verbs, so any structured logger can be adapted with a few lines.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
}

// zapLogger adapts *zap.Logger to the Logger interface. It is the
// default sink used when Config.Logger is nil.
type zapLogger struct {
	z *zap.Logger
}

// newDefaultLogger builds a JSON-structured zap logger writing to
// stderr, following the construction style of the corpus's logger
// packages (ISO8601 timestamps, capitalized level names, caller info).
func newDefaultLogger() Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderCfg.EncodeDuration = zapcore.MillisDurationEncoder

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zap.InfoLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields: map[string]any{
			"pid":       os.Getpid(),
			"component": "rabbitcore",
		},
	}

	z, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		// zap.Config.Build only fails on malformed encoder/output
		// configuration, which the literal above never produces; fall
		// back to zap's own default rather than panic on a logging path.
		z = zap.NewExample()
	}
	return &zapLogger{z: z}
}

func toZapFields(fields []any) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		out = append(out, zap.Any(key, fields[i+1]))
	}
	return out
}

func (l *zapLogger) Debug(msg string, fields ...any) { l.z.Debug(msg, toZapFields(fields)...) }
func (l *zapLogger) Info(msg string, fields ...any)  { l.z.Info(msg, toZapFields(fields)...) }
func (l *zapLogger) Warn(msg string, fields ...any)  { l.z.Warn(msg, toZapFields(fields)...) }
func (l *zapLogger) Error(msg string, fields ...any) { l.z.Error(msg, toZapFields(fields)...) }

// noopLogger discards every record. Useful in tests that don't care about
// log output but still need a non-nil Logger.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NewNoopLogger returns a Logger that discards every record.
func NewNoopLogger() Logger { return noopLogger{} }
