package observability

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/storefront-commerce/api/internal/platform/requestctx"
)

// NewLogger builds a JSON logger using Cloud Logging field names. Unknown levels fall back to
// info.
func NewLogger(levelName string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(levelName))
	if err != nil {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Sampling = nil
	cfg.OutputPaths = []string{"stdout"}
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg.Build()
}

// WithLogger injects the logger into ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// warnSuffixes mark service events that indicate a degraded outcome.
var warnSuffixes = []string{".fallback", ".failed", ".declined", ".compensated", ".unpriced_lines"}

// EventLogger adapts zap to the func(ctx, event, fields) hook the services accept. The request
// logger on ctx wins over base so request ids and trace fields are carried along.
func EventLogger(base *zap.Logger) func(context.Context, string, map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = base
		}

		zfields := []zap.Field{zap.String("event", event)}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			zfields = append(zfields, eventField(k, fields[k]))
		}

		level := zapcore.InfoLevel
		if slices.ContainsFunc(warnSuffixes, func(s string) bool { return strings.HasSuffix(event, s) }) {
			level = zapcore.WarnLevel
		}
		logger.Log(level, event, zfields...)
	}
}

func eventField(key string, value any) zap.Field {
	switch v := value.(type) {
	case error:
		return zap.NamedError(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	default:
		return zap.Any(key, v)
	}
}
