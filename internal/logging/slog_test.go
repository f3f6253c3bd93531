package logging

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"warning", slog.LevelWarn, true},
		{"Error", slog.LevelError, true},
		{"", slog.LevelInfo, false},
		{"verbose", slog.LevelInfo, false},
	}

	for _, tt := range tests {
		got, ok := ParseLevel(tt.name)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ParseLevel(%q) = (%v, %v), want (%v, %v)", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestScopedLoggersNonNil(t *testing.T) {
	if Op() == nil {
		t.Fatal("Op returned nil")
	}
	if ForModule("echo") == nil {
		t.Fatal("ForModule returned nil")
	}
	if ForInvocation("echo", "req-1") == nil {
		t.Fatal("ForInvocation returned nil")
	}
}
