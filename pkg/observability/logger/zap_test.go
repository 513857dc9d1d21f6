package logger

import (
	"context"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"info", InfoLevel, false},
		{"warn", WarnLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"verbose", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLogLevel(%q): expected error, got %q", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLogLevel(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseLogFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    LogFormat
		wantErr bool
	}{
		{"json", JSONFormat, false},
		{"text", TextFormat, false},
		{"console", TextFormat, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		got, err := ParseLogFormat(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLogFormat(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLogFormat(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogFormat(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestZapLoggerWithContext(t *testing.T) {
	log, err := NewZapLogger(DefaultConfig())
	if err != nil {
		t.Fatalf("NewZapLogger: %v", err)
	}

	// No correlation ID: same logger comes back.
	if got := log.WithContext(context.Background()); got != log {
		t.Error("expected identical logger when context carries no correlation id")
	}

	ctx := context.WithValue(context.Background(), CorrelationIDKey, "corr-123")
	if got := log.WithContext(ctx); got == log {
		t.Error("expected child logger when context carries a correlation id")
	}
}

func TestNopLogger(t *testing.T) {
	log := NewNop()
	log.Debug("msg", "k", "v")
	log.Info("msg")
	log.Warn("msg")
	log.Error("msg")
	if log.With("k", "v") == nil {
		t.Error("With returned nil")
	}
	if log.WithContext(context.Background()) == nil {
		t.Error("WithContext returned nil")
	}
}
