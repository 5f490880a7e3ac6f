// Package logging configures the structured logger shared by all core
// components and provides a redacting wrapper for sensitive values.
package logging

import (
	"io"
	"log/slog"
)

// New returns a text-handler logger writing to w at the given level.
// Components receive the logger by injection; nothing in the core logs
// through a package-level default.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// redactedPlaceholder is what a Redacted value renders as in any sink.
const redactedPlaceholder = "***REDACTED***"

// Redacted wraps a sensitive string (password, token, sometimes a full
// address). Its default rendering in logs and fmt verbs is the redaction
// placeholder; the raw value is only reachable through Reveal.
type Redacted string

// LogValue implements slog.LogValuer so structured records never carry
// the raw value.
func (Redacted) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// String keeps %s/%v formatting from leaking the value.
func (Redacted) String() string {
	return redactedPlaceholder
}

// Reveal returns the wrapped value. Call sites that need the secret must
// do so explicitly.
func (r Redacted) Reveal() string {
	return string(r)
}
