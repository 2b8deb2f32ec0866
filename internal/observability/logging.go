package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig holds configuration for the structured logger.
type LogConfig struct {
	Level       string // "debug", "info", "warn", "error"
	Format      string // "json" or "text"
	ServiceName string
	Environment string
	Output      io.Writer // defaults to os.Stdout
}

// sensitivePatterns are matched case-insensitively as substrings of attribute keys.
var sensitivePatterns = []string{
	"_key",
	"_secret",
	"_token",
	"_password",
	"_pepper",
	"_credential",
	"authorization",
	"bearer",
	"api_key",
	"apikey",
	"secret",
	"password",
	"private",
}

// sensitiveKeys are redacted only on an exact (case-insensitive) match;
// as substrings they would catch status_code and friends.
var sensitiveKeys = map[string]struct{}{
	"otp":      {},
	"code":     {},
	"otp_code": {},
}

// phoneKeys hold phone numbers; they are masked rather than redacted so
// operators can still correlate log lines.
var phoneKeys = map[string]struct{}{
	"phone":        {},
	"phone_number": {},
	"claim_phone":  {},
}

// InitLogger creates a new structured logger with secret redaction.
// The returned logger is also set as the default via slog.SetDefault.
func InitLogger(cfg LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level, ReplaceAttr: redactSecrets})
	} else {
		handler = NewRedactingHandler(out, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler).With(
		slog.String("service", cfg.ServiceName),
		slog.String("environment", cfg.Environment),
	)

	slog.SetDefault(logger)
	return logger
}

// NewRedactingHandler creates a JSON slog handler that redacts sensitive fields.
func NewRedactingHandler(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}

	originalReplace := opts.ReplaceAttr
	opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if originalReplace != nil {
			a = originalReplace(groups, a)
		}
		return redactSecrets(groups, a)
	}

	return slog.NewJSONHandler(w, opts)
}

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	keyLower := strings.ToLower(a.Key)
	if _, ok := sensitiveKeys[keyLower]; ok {
		return slog.String(a.Key, "[REDACTED]")
	}
	if _, ok := phoneKeys[keyLower]; ok && a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, MaskPhone(a.Value.String()))
	}
	for _, pattern := range sensitivePatterns {
		if strings.Contains(keyLower, pattern) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}

// MaskPhone keeps the country code area and the last three digits:
// 9647701234567 -> 9647*******567. Short values are fully masked.
func MaskPhone(phone string) string {
	const keepHead, keepTail = 4, 3
	if len(phone) <= keepHead+keepTail {
		return strings.Repeat("*", len(phone))
	}
	return phone[:keepHead] + strings.Repeat("*", len(phone)-keepHead-keepTail) + phone[len(phone)-keepTail:]
}

// WithTraceID returns a new logger with the trace ID from context.
func WithTraceID(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		return logger.With(slog.String("trace_id", traceID))
	}
	return logger
}
