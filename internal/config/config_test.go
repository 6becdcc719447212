package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TobiSchelling/surveysentiment/internal/bucket"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if cfg.Sentiment.Provider != "google" {
		t.Errorf("expected provider 'google', got %q", cfg.Sentiment.Provider)
	}
	if cfg.Sentiment.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", cfg.Sentiment.Timeout)
	}
	if cfg.Pipeline.ChunkSize != 50 {
		t.Errorf("expected chunk size 50, got %d", cfg.Pipeline.ChunkSize)
	}
	if cfg.Reshape.Questions.Pattern == "" {
		t.Error("expected a default question pattern")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to validate: %v", err)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
sentiment:
  provider: vader
reshape:
  questions:
    include: [Comments]
buckets:
  scheme: coarse
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Sentiment.Provider != "vader" {
		t.Errorf("expected provider 'vader', got %q", cfg.Sentiment.Provider)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Reshape.IDColumn != "uID" {
		t.Errorf("expected default id column, got %q", cfg.Reshape.IDColumn)
	}
	if cfg.Output.Format != "csv" {
		t.Errorf("expected default format csv, got %q", cfg.Output.Format)
	}

	scheme, err := cfg.BucketScheme()
	if err != nil {
		t.Fatalf("BucketScheme: %v", err)
	}
	if len(scheme.Labels()) != 3 {
		t.Errorf("expected coarse scheme, got %q", scheme.Labels())
	}
	opts := cfg.ReshapeOptions()
	if len(opts.Questions.Include) != 1 || opts.Questions.Include[0] != "Comments" {
		t.Errorf("unexpected reshape options %+v", opts)
	}
}

func TestValidateRequiresQuestionSelection(t *testing.T) {
	cfg, _ := parse([]byte("sentiment:\n  provider: vader\n"))
	if err := cfg.Validate(); err == nil {
		t.Error("expected error without question selection")
	}
}

func TestValidateRejectsBadCustomScheme(t *testing.T) {
	cfg, _ := parse([]byte(`
reshape:
  questions:
    all: true
buckets:
  scheme: custom
  edges: [-1, 0, 1]
  labels: [Bad, Meh, Good]
`))
	err := cfg.Validate()
	var cfgErr *bucket.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

func TestValidateRejectsFormat(t *testing.T) {
	cfg, _ := parse([]byte("reshape:\n  questions:\n    all: true\noutput:\n  format: parquet\n"))
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.EnvFile != filepath.Join(dir, ".env") {
		t.Errorf("expected env file next to config, got %q", cfg.EnvFile)
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("SURVEYSENTIMENT_TEST_KEY=from-file\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("SURVEYSENTIMENT_TEST_KEY", "")
	os.Unsetenv("SURVEYSENTIMENT_TEST_KEY")

	cfg := &Config{EnvFile: envPath}
	if err := cfg.LoadEnv(); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("SURVEYSENTIMENT_TEST_KEY"); got != "from-file" {
		t.Errorf("expected value from env file, got %q", got)
	}

	cfg.EnvFile = filepath.Join(dir, "missing.env")
	if err := cfg.LoadEnv(); err != nil {
		t.Errorf("expected missing env file to be ignored, got %v", err)
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
	if cfg.StatePath() != filepath.Join("/custom/path", "state.db") {
		t.Errorf("unexpected state path %q", cfg.StatePath())
	}
}
