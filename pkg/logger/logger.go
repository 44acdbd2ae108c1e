// Package logger configures the process-wide zap logger and carries run
// identity (run id, base, table) on contexts so every component logs it.
package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	global *zap.Logger
)

type contextKey string

const (
	runIDKey  contextKey = "run_id"
	baseIDKey contextKey = "base_id"
	tableKey  contextKey = "table"
)

// Config represents logger configuration
type Config struct {
	Level       string
	Encoding    string // json or console
	Development bool
	OutputPaths []string
}

// Init builds the global logger from cfg. A second call replaces it.
func Init(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	global = l
	mu.Unlock()
	return nil
}

// New builds a logger without installing it.
func New(cfg Config) (*zap.Logger, error) {
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "json"
	}
	if encoding != "json" && encoding != "console" {
		return nil, fmt.Errorf("invalid log format %q", encoding)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	if encoding == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Development:      cfg.Development,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	l, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l, nil
}

// Get returns the global logger, building an info-level JSON logger on first
// use when Init was never called.
func Get() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		l, err := New(Config{})
		if err != nil {
			l = zap.NewNop()
		}
		global = l
	}
	return global
}

// Sync flushes the global logger.
func Sync() error {
	mu.Lock()
	l := global
	mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Sync()
}

// WithRun returns a context carrying the run id.
func WithRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithTable returns a context carrying the base and table a run works on.
func WithTable(ctx context.Context, baseID, table string) context.Context {
	ctx = context.WithValue(ctx, baseIDKey, baseID)
	return context.WithValue(ctx, tableKey, table)
}

// FromContext decorates base with the run identity carried by ctx.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	var fields []zap.Field
	if v, ok := ctx.Value(runIDKey).(string); ok {
		fields = append(fields, zap.String("run_id", v))
	}
	if v, ok := ctx.Value(baseIDKey).(string); ok {
		fields = append(fields, zap.String("base_id", v))
	}
	if v, ok := ctx.Value(tableKey).(string); ok {
		fields = append(fields, zap.String("table", v))
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
