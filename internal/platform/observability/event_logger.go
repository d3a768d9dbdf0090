package observability

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hanko-field/orders/internal/platform/requestctx"
)

// EventLogger adapts zap to the event/fields logging contract used by services and outbound
// clients. Request-scoped loggers found on the context take precedence over base so entries
// keep the request and trace fields. A "severity" field selects the level; entries carrying an
// "error" field default to WARN.
func EventLogger(base *zap.Logger, name string) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	if name != "" {
		base = base.Named(name)
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := base
		if scoped, ok := requestctx.ScopedLogger(ctx); ok {
			logger = scoped
			if name != "" {
				logger = scoped.Named(name)
			}
		}

		level := zapcore.InfoLevel
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		zFields := make([]zap.Field, 0, len(fields)+2)
		zFields = append(zFields, zap.String("event", event))
		for _, key := range keys {
			value := fields[key]
			if key == "severity" {
				if raw, ok := value.(string); ok {
					level = severityLevel(raw)
				}
				continue
			}
			if key == "error" && level == zapcore.InfoLevel {
				level = zapcore.WarnLevel
			}
			zFields = append(zFields, zap.Any(key, value))
		}
		if traceID := requestctx.TraceID(ctx); traceID != "" {
			zFields = append(zFields, zap.String("trace_id", traceID))
		}

		if ce := logger.Check(level, event); ce != nil {
			ce.Write(zFields...)
		}
	}
}

func severityLevel(raw string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR", "CRITICAL", "ALERT", "EMERGENCY":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
