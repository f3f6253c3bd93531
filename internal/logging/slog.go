// Package logging owns the daemon's structured loggers. Everything a
// component logs about a guest should carry the module key, so besides
// the plain operational logger there are module- and invocation-scoped
// variants that bind the shared attribute names once.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Attribute names shared across all rvm log lines.
const (
	attrModuleKey = "key"
	attrRequestID = "request_id"
)

var (
	current  atomic.Pointer[slog.Logger]
	minLevel = new(slog.LevelVar)
)

func init() {
	if lvl, ok := ParseLevel(os.Getenv("RVM_LOG_LEVEL")); ok {
		minLevel.Set(lvl)
	}
	current.Store(slog.New(newHandler("text")))
}

// Init reconfigures the daemon logger from config. format is "text"
// (default) or "json"; level accepts debug/info/warn/error and leaves the
// current level untouched when it doesn't parse.
func Init(format, level string) {
	if lvl, ok := ParseLevel(level); ok {
		minLevel.Set(lvl)
	}
	current.Store(slog.New(newHandler(format)))
}

func newHandler(format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: minLevel}
	if format == "json" {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

// ParseLevel maps a level name onto its slog level; ok is false for
// names it doesn't know.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// Op returns the operational logger for daemon/infrastructure logs.
func Op() *slog.Logger {
	return current.Load()
}

// ForModule returns the operational logger bound to a module key. Worker
// lifecycle and guest-failure logs go through this so fuel-exhaustion
// warnings and trap logs are always attributable to a tenant.
func ForModule(key string) *slog.Logger {
	return current.Load().With(attrModuleKey, key)
}

// ForInvocation binds both the module key and the per-request id; the
// proxy uses it so one request's lines correlate across components.
func ForInvocation(key, requestID string) *slog.Logger {
	return current.Load().With(attrModuleKey, key, attrRequestID, requestID)
}
