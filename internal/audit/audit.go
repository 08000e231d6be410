// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package audit writes security audit entries to a structured logger.
package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Event is a single audit entry.
type Event struct { //nolint:govet // fieldalignment: readability over optimization
	Type     string
	Username string
	IP       string
	Success  bool
	Reason   string
	Metadata map[string]string
}

// Logger writes audit events. A nil *Logger discards them.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger.With("channel", "audit")}
}

// Log records event; failures are logged at warn level.
func (l *Logger) Log(ctx context.Context, event Event) {
	if l == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("event_type", event.Type),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	if event.Username != "" {
		attrs = append(attrs, slog.String("user", event.Username))
	}
	if event.IP != "" {
		attrs = append(attrs, slog.String("ip", event.IP))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	l.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// MaskEmail hides an address for logging, keeping the first character of
// the local part and the top-level domain: alice@example.org -> a****@*******.org.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" {
		return "[invalid-email]"
	}

	if len(local) > 1 {
		local = local[:1] + strings.Repeat("*", len(local)-1)
	}

	parts := strings.Split(domain, ".")
	if len(parts) > 1 {
		for i := range len(parts) - 1 {
			parts[i] = strings.Repeat("*", len(parts[i]))
		}
		domain = strings.Join(parts, ".")
	}

	return local + "@" + domain
}
