package log

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/sierrasoftworks/humane-errors-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

const defaultLoggerKey ctxKey = 0

// New builds the console logger used by both binaries. Output goes to stderr so that a
// process supervisor (systemd, runit) captures it alongside the exit status.
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(lvl),
	)

	return zap.New(core), nil
}

// IntoContext returns a copy of ctx carrying logger.
func IntoContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, defaultLoggerKey, logger)
}

// FromContext returns the logger stored in ctx, or the global zap logger.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return zap.L()
	}
	if logger, ok := ctx.Value(defaultLoggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return zap.L()
}

// ErrorFields describes err for a log entry. Humane errors only report their top message
// through Error, so the cause chain and the advice of every level are added as well,
// innermost advice first.
func ErrorFields(err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}

	var causes, advice []string
	for e := err; e != nil; e = unwrap(e) {
		if e != err {
			causes = append(causes, e.Error())
		}
		if h, ok := e.(humane.Error); ok {
			advice = append(append([]string{}, h.Advice()...), advice...)
		}
	}

	if len(causes) > 0 {
		fields = append(fields, zap.String("cause", strings.Join(causes, ": ")))
	}
	if len(advice) > 0 {
		fields = append(fields, zap.Strings("advice", advice))
	}
	return fields
}

func unwrap(err error) error {
	if h, ok := err.(humane.Error); ok {
		return h.Cause()
	}
	return errors.Unwrap(err)
}
