// Package log provides the structured, leveled logging convention used
// throughout dotvm/dotdb: named child loggers carrying key-value context,
// in the same spirit as erigon-lib/log/v3, backed by go.uber.org/zap.
package log

import (
	"go.uber.org/zap"
)

// Logger is the interface every dotvm/dotdb component depends on instead of
// a concrete *zap.Logger, so tests can inject a no-op or observed logger.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	New(kv ...any) Logger
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New builds the root Logger backed by a production zap configuration.
func New() Logger {
	z, err := zap.NewProduction()
	if err != nil {
		z = zap.NewNop()
	}
	return &zapLogger{s: z.Sugar()}
}

// Nop returns a Logger that discards everything, for tests and defaults.
func Nop() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}

func (l *zapLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }

func (l *zapLogger) New(kv ...any) Logger {
	return &zapLogger{s: l.s.With(kv...)}
}
