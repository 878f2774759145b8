// Package logging builds the process logger.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger at level ("debug", "info", "warn", "error") in
// format ("console" or "json") writing to stderr. When extra is non-nil a
// second, always-console core writes the same entries to it.
func New(level, format string, extra io.Writer) (*zap.Logger, error) {
	return NewWithOutput(level, format, os.Stderr, extra)
}

// NewWithOutput is New with the primary sink replaced by out. A nil out
// leaves only extra, which the terminal monitor uses to keep the screen
// clean.
func NewWithOutput(level, format string, out, extra io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(consoleCfg)
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("logging.format must be console or json, got %q", format)
	}

	var cores []zapcore.Core
	if out != nil {
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), lvl))
	}
	if extra != nil {
		bufCfg := encCfg
		bufCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(bufCfg), zapcore.AddSync(extra), lvl))
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}

type ctxKey struct{}

// NewContext returns a copy of ctx with the logger stored.
func NewContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves a logger from ctx or returns a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}
