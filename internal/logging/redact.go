package logging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// Values under keys containing any of these are dropped entirely.
var sensitiveKeyPatterns = []string{
	"password",
	"passphrase",
	"secret",
	"private_key",
	"privkey",
	"mnemonic",
}

// Keys that legitimately carry 32-byte hex values.
var hashKeys = map[string]bool{
	"tx_hash":    true,
	"hash":       true,
	"block_hash": true,
}

// 0x followed by exactly 64 hex chars: a raw secp256k1 key or a 32-byte hash
var hex32Pattern = regexp.MustCompile(`\b0x[0-9a-fA-F]{64}\b`)

// bare hex runs of 64+ chars, e.g. an exported key without 0x
var bareHexPattern = regexp.MustCompile(`\b[0-9a-fA-F]{64,}\b`)

// RedactingHandler wraps an slog.Handler and strips key material and
// passwords before records reach the inner handler.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler wraps inner. Wrapping a RedactingHandler returns it unchanged.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	if rh, ok := inner.(*RedactingHandler); ok {
		return rh
	}
	return &RedactingHandler{inner: inner}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, redactString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(out)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(key, pattern) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}

	switch a.Value.Kind() {
	case slog.KindGroup:
		group := a.Value.Group()
		out := make([]any, len(group))
		for i, ga := range group {
			out[i] = redactAttr(ga)
		}
		return slog.Group(a.Key, out...)
	case slog.KindString:
		if hashKeys[key] {
			return a
		}
		val := a.Value.String()
		if red := redactString(val); red != val {
			return slog.String(a.Key, red)
		}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			val := err.Error()
			if red := redactString(val); red != val {
				return slog.String(a.Key, red)
			}
		}
	}
	return a
}

// redactString masks anything shaped like a private key, keeping a short
// prefix and suffix so log lines stay correlatable.
func redactString(val string) string {
	val = hex32Pattern.ReplaceAllStringFunc(val, func(m string) string {
		return m[:6] + "..." + m[len(m)-4:]
	})
	val = bareHexPattern.ReplaceAllStringFunc(val, func(m string) string {
		return m[:4] + "...[REDACTED]"
	})
	return val
}
