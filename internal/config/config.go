package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/surveysentiment/internal/bucket"
	"github.com/TobiSchelling/surveysentiment/internal/reshape"
	"github.com/TobiSchelling/surveysentiment/internal/sentiment"
	"github.com/TobiSchelling/surveysentiment/internal/source"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Input     Input     `yaml:"input"`
	Reshape   Reshape   `yaml:"reshape"`
	Sentiment Sentiment `yaml:"sentiment"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	Buckets   Buckets   `yaml:"buckets"`
	Output    Output    `yaml:"output"`
	Report    Report    `yaml:"report"`
	Metrics   Metrics   `yaml:"metrics"`
	Logging   Logging   `yaml:"logging"`
	EnvFile   string    `yaml:"env_file"`
}

type Input struct {
	Path  string   `yaml:"path"`
	Sheet string   `yaml:"sheet"`
	Query string   `yaml:"query"`
	S3    S3Config `yaml:"s3"`
}

type S3Config struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

type Reshape struct {
	IDColumn    string    `yaml:"id_column"`
	GenerateIDs bool      `yaml:"generate_ids"`
	KeyColumns  []string  `yaml:"key_columns"`
	Questions   Questions `yaml:"questions"`
	Limit       int       `yaml:"limit"`
}

type Questions struct {
	All     bool     `yaml:"all"`
	Include []string `yaml:"include"`
	Pattern string   `yaml:"pattern"`
}

type Sentiment struct {
	Provider  string        `yaml:"provider"`
	Language  string        `yaml:"language"`
	Endpoint  string        `yaml:"endpoint"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

type Pipeline struct {
	Granularity string `yaml:"granularity"`
	ChunkSize   int    `yaml:"chunk_size"`
}

type Buckets struct {
	Scheme string    `yaml:"scheme"`
	Edges  []float64 `yaml:"edges"`
	Labels []string  `yaml:"labels"`
}

type Output struct {
	Dir     string `yaml:"dir"`
	Format  string `yaml:"format"`
	DataDir string `yaml:"data_dir"`
}

type Report struct {
	Enabled     bool `yaml:"enabled"`
	TopEntities int  `yaml:"top_entities"`
}

type Metrics struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for surveysentiment.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "surveysentiment")
}

// DataDir returns the XDG data directory for surveysentiment.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "surveysentiment")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/surveysentiment/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'surveysentiment init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file. A relative env_file is resolved
// against the config file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if cfg.EnvFile != "" && !filepath.IsAbs(cfg.EnvFile) {
		cfg.EnvFile = filepath.Join(filepath.Dir(path), cfg.EnvFile)
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Reshape: Reshape{IDColumn: "uID"},
		Sentiment: Sentiment{
			Provider:  sentiment.ProviderGoogle,
			Language:  "en",
			APIKeyEnv: "GOOGLE_API_KEY",
			MaxTokens: 256,
			Timeout:   30 * time.Second,
		},
		Pipeline: Pipeline{
			Granularity: "overall",
			ChunkSize:   50,
		},
		Buckets: Buckets{Scheme: bucket.SchemeDefault},
		Output: Output{
			Dir:    "output",
			Format: "csv",
		},
		Report:  Report{Enabled: true, TopEntities: 20},
		Metrics: Metrics{Job: "surveysentiment"},
		Logging: Logging{Level: "INFO"},
		EnvFile: ".env",
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// LoadEnv loads credentials from the configured .env file without
// overriding variables already set. A missing file is not an error.
func (c *Config) LoadEnv() error {
	if c.EnvFile == "" {
		return nil
	}
	if err := gotenv.Load(c.EnvFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("no env file, using process environment", "path", c.EnvFile)
			return nil
		}
		return fmt.Errorf("loading %s: %w", c.EnvFile, err)
	}
	slog.Debug("loaded env file", "path", c.EnvFile)
	return nil
}

// Validate checks everything that can be checked before any remote call.
func (c *Config) Validate() error {
	if _, err := c.BucketScheme(); err != nil {
		return err
	}
	if err := c.ReshapeOptions().Validate(); err != nil {
		return err
	}
	if c.Pipeline.ChunkSize < 0 {
		return fmt.Errorf("pipeline.chunk_size must not be negative")
	}
	switch c.Output.Format {
	case "csv", "xlsx":
	default:
		return fmt.Errorf("output.format must be csv or xlsx, got %q", c.Output.Format)
	}
	return nil
}

// BucketScheme resolves the configured bucket scheme.
func (c *Config) BucketScheme() (*bucket.Scheme, error) {
	return bucket.ByName(c.Buckets.Scheme, c.Buckets.Edges, c.Buckets.Labels)
}

// ReshapeOptions converts the reshape section.
func (c *Config) ReshapeOptions() reshape.Options {
	return reshape.Options{
		IDColumn:   c.Reshape.IDColumn,
		KeyColumns: c.Reshape.KeyColumns,
		Questions: reshape.Selector{
			All:     c.Reshape.Questions.All,
			Include: c.Reshape.Questions.Include,
			Pattern: c.Reshape.Questions.Pattern,
		},
		GenerateIDs: c.Reshape.GenerateIDs,
		Limit:       c.Reshape.Limit,
	}
}

// SentimentSettings converts the sentiment section.
func (c *Config) SentimentSettings() sentiment.Settings {
	s := c.Sentiment
	return sentiment.Settings{
		Provider:  s.Provider,
		Language:  s.Language,
		Endpoint:  s.Endpoint,
		APIKeyEnv: s.APIKeyEnv,
		Model:     s.Model,
		MaxTokens: s.MaxTokens,
		Timeout:   s.Timeout,
	}
}

// SourceSpec converts the input section.
func (c *Config) SourceSpec() source.Spec {
	return source.Spec{
		Ref:        c.Input.Path,
		Sheet:      c.Input.Sheet,
		Query:      c.Input.Query,
		S3Region:   c.Input.S3.Region,
		S3Endpoint: c.Input.S3.Endpoint,
	}
}

// GetDataDir returns the effective state directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// StatePath is the run and checkpoint database.
func (c *Config) StatePath() string {
	return filepath.Join(c.GetDataDir(), "state.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
