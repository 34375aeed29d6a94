// Package logging builds the process logger: JSON lines on stdout with
// email addresses and credentials masked before they are written.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// keys whose values are never written in clear.
var secretKeys = map[string]bool{
	"secret":         true,
	"secret_key":     true,
	"client_secret":  true,
	"authorization":  true,
	"password":       true,
	"token":          true,
	"webhook_secret": true,
}

// New returns a JSON logger. Debug output is enabled outside production.
func New(env string) *slog.Logger {
	return NewWithWriter(os.Stdout, env)
}

func NewWithWriter(w io.Writer, env string) *slog.Logger {
	level := slog.LevelDebug
	if env == "production" {
		level = slog.LevelInfo
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: maskAttr,
	})
	return slog.New(h).With("env", env)
}

func maskAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	key := strings.ToLower(a.Key)
	switch {
	case secretKeys[key]:
		return slog.String(a.Key, MaskString(a.Value.String()))
	case key == "email" || strings.HasSuffix(key, "_email"):
		return slog.String(a.Key, MaskEmail(a.Value.String()))
	}
	return a
}

// MaskEmail keeps the first and last character of the local part.
func MaskEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[REDACTED]"
	}
	user, domain := parts[0], parts[1]
	if len(user) <= 2 {
		return strings.Repeat("*", len(user)) + "@" + domain
	}
	return string(user[0]) + strings.Repeat("*", len(user)-2) + string(user[len(user)-1]) + "@" + domain
}

// MaskString keeps the last four characters of long values.
func MaskString(s string) string {
	if len(s) <= 8 {
		return "[REDACTED]"
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// Discard is a logger for tests and tools that should stay quiet.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
