package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	// Save original env
	originalDir := os.Getenv("TWEETS_DIR")
	defer func() {
		if originalDir != "" {
			os.Setenv("TWEETS_DIR", originalDir)
		} else {
			os.Unsetenv("TWEETS_DIR")
		}
	}()

	// Test with environment variable
	os.Setenv("TWEETS_DIR", dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Archive.Dir != dir {
		t.Errorf("Expected archive dir from env, got: %s", cfg.Archive.Dir)
	}
	if cfg.Archive.OutputDir != dir {
		t.Errorf("Expected output dir to default to archive dir, got: %s", cfg.Archive.OutputDir)
	}
	if cfg.Resolver.SaveEvery != 125 {
		t.Errorf("Expected online save_every of 125, got: %d", cfg.Resolver.SaveEvery)
	}
}

func validConfig(t *testing.T) *Config {
	dir := t.TempDir()
	return &Config{
		Archive: ArchiveConfig{Dir: dir, OutputDir: dir},
		Resolver: ResolverConfig{
			ConnectTimeout: 3 * time.Second,
			MaxTime:        30 * time.Second,
			SaveEvery:      125,
		},
		Output: OutputConfig{Format: "json"},
	}
}

func TestValidate(t *testing.T) {
	cfg := validConfig(t)

	if err := cfg.Validate(); err != nil {
		t.Errorf("Valid config should not error: %v", err)
	}

	// Test invalid save_every
	cfg.Resolver.SaveEvery = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for invalid save_every")
	}
}

func TestValidateAccumulatesErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.Archive.Dir = "/does/not/exist"
	cfg.Output.Format = "xml"
	cfg.Filter.RegexpSave = "words"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected errors")
	}
	if got := len(multierr.Errors(err)); got != 3 {
		t.Errorf("Expected 3 accumulated errors, got %d: %v", got, err)
	}
	if !strings.Contains(err.Error(), "valid directory") {
		t.Errorf("Expected directory error, got: %v", err)
	}
}

func TestValidateReportsFilterErrorsWithDirectoryErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.Archive.Dir = "/nonexistent/dir"
	cfg.Filter.Regexp = "/(unclosed/"
	cfg.Filter.DateFrom = "not a date at all"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected errors")
	}
	if got := len(multierr.Errors(err)); got != 3 {
		t.Errorf("Expected 3 accumulated errors, got %d: %v", got, err)
	}
	for _, want := range []string{"valid directory", "invalid regexp", "unable to parse date from"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected %q in: %v", want, err)
		}
	}
}

func TestToEnvKey(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"dir", "DIR"},
		{"date_from", "DATE_FROM"},
		{"keys-filter", "KEYS_FILTER"},
	}
	for _, tt := range tests {
		if got := toEnvKey(tt.key); got != tt.expected {
			t.Errorf("toEnvKey(%q) = %q, want %q", tt.key, got, tt.expected)
		}
	}
}
