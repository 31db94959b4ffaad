package config

import (
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := &Config{LogLevel: "info", Addr: ":8080", RateBurst: 1, ChunkSize: 65536}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("EVENTRX_LOG_LEVEL", "debug")
	t.Setenv("EVENTRX_ADDR", "127.0.0.1:9000")
	t.Setenv("EVENTRX_RATE_LIMIT", "2.5")
	t.Setenv("EVENTRX_RATE_BURST", "5")
	t.Setenv("EVENTRX_CHUNK_SIZE", "1024")
	t.Setenv("EVENTRX_MAPS_FILE", "maps.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := &Config{
		LogLevel:  "debug",
		Addr:      "127.0.0.1:9000",
		RateLimit: 2.5,
		RateBurst: 5,
		ChunkSize: 1024,
		MapsFile:  "maps.yaml",
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unparsable chunk size", "EVENTRX_CHUNK_SIZE", "big"},
		{"zero chunk size", "EVENTRX_CHUNK_SIZE", "0"},
		{"negative rate", "EVENTRX_RATE_LIMIT", "-1"},
		{"unknown level", "EVENTRX_LOG_LEVEL", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Error("expected error")
			}
		})
	}

	t.Run("empty address", func(t *testing.T) {
		cfg := &Config{LogLevel: "info", ChunkSize: 1}
		if err := cfg.Validate(); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("burst without room", func(t *testing.T) {
		cfg := &Config{Addr: ":1", RateLimit: 1, RateBurst: 0, ChunkSize: 1}
		if err := cfg.Validate(); err == nil {
			t.Error("expected error")
		}
	})
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}
