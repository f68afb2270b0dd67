// Package config loads the platform configuration from YAML with
// environment-variable overrides. The resulting Config is a value passed
// explicitly down the call tree; nothing in the core reads process globals.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the arbat platform.
type Config struct {
	Storage Storage      `yaml:"storage"`
	Moex    Moex         `yaml:"moex"`
	Tinkoff Tinkoff      `yaml:"tinkoff"`
	Logging Logging      `yaml:"logging"`
	Ingest  IngestConfig `yaml:"ingest"`
	Test    TestDefaults `yaml:"test"`
}

// Storage holds the writable data root and its sub-roots.
type Storage struct {
	DataDir      string `yaml:"data_dir"`
	DownloadsDir string `yaml:"downloads_dir"` // raw provider archives
	StoreDir     string `yaml:"store_dir"`     // canonical candle store
	CacheDir     string `yaml:"cache_dir"`     // parquet read cache
	BrokerDir    string `yaml:"broker_dir"`    // provider token files
	TestsDir     string `yaml:"tests_dir"`     // backtest artefacts
}

// Moex holds the ISS endpoint configuration.
type Moex struct {
	BaseURL         string `yaml:"base_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	PageLimit       int    `yaml:"page_limit"`
}

// Tinkoff holds the archive and REST endpoint configuration. The token is
// read from a file under Storage.BrokerDir, one file per named token.
type Tinkoff struct {
	ArchiveURL string `yaml:"archive_url"`
	RestURL    string `yaml:"rest_url"`
	TokenName  string `yaml:"token_name"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IngestConfig bounds provider retries for transient failures.
type IngestConfig struct {
	MaxAttempts   int `yaml:"max_attempts"`
	BaseDelayMS   int `yaml:"base_delay_ms"`
	BudgetSeconds int `yaml:"budget_seconds"`
}

// TestDefaults supplies defaults for new backtest configurations.
type TestDefaults struct {
	Deposit        float64 `yaml:"deposit"`
	CommissionRate float64 `yaml:"commission_rate"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a configuration with sensible defaults rooted at dataDir.
func Default(dataDir string) *Config {
	cfg := &Config{
		Storage: Storage{DataDir: dataDir},
		Moex: Moex{
			BaseURL:         "https://iss.moex.com",
			RateLimitPerMin: 240,
			PageLimit:       500,
		},
		Tinkoff: Tinkoff{
			ArchiveURL: "https://invest-public-api.tinkoff.ru/history-data",
			RestURL:    "https://invest-public-api.tinkoff.ru/rest",
			TokenName:  "default",
		},
		Logging: Logging{Level: "info", Format: "json"},
		Ingest: IngestConfig{
			MaxAttempts:   5,
			BaseDelayMS:   500,
			BudgetSeconds: 300,
		},
		Test: TestDefaults{Deposit: 100_000, CommissionRate: 0.0005},
	}
	cfg.fillPaths()
	return cfg
}

// Load reads the YAML configuration file at the given path, parses it into
// a Config, fills unset sub-root paths relative to the data root, and then
// applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default("data")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	cfg.fillPaths()

	return cfg, nil
}

// fillPaths derives unset sub-roots from the data root.
func (c *Config) fillPaths() {
	if c.Storage.DownloadsDir == "" {
		c.Storage.DownloadsDir = filepath.Join(c.Storage.DataDir, "downloads")
	}
	if c.Storage.StoreDir == "" {
		c.Storage.StoreDir = filepath.Join(c.Storage.DataDir, "store")
	}
	if c.Storage.CacheDir == "" {
		c.Storage.CacheDir = filepath.Join(c.Storage.DataDir, "cache")
	}
	if c.Storage.BrokerDir == "" {
		c.Storage.BrokerDir = filepath.Join(c.Storage.DataDir, "broker")
	}
	if c.Storage.TestsDir == "" {
		c.Storage.TestsDir = filepath.Join(c.Storage.DataDir, "tests")
	}
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARBAT_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
		cfg.Storage.DownloadsDir = ""
		cfg.Storage.StoreDir = ""
		cfg.Storage.CacheDir = ""
		cfg.Storage.BrokerDir = ""
		cfg.Storage.TestsDir = ""
	}
	if v := os.Getenv("MOEX_BASE_URL"); v != "" {
		cfg.Moex.BaseURL = v
	}
	if v := os.Getenv("TINKOFF_ARCHIVE_URL"); v != "" {
		cfg.Tinkoff.ArchiveURL = v
	}
	if v := os.Getenv("TINKOFF_REST_URL"); v != "" {
		cfg.Tinkoff.RestURL = v
	}
	if v := os.Getenv("TINKOFF_TOKEN_NAME"); v != "" {
		cfg.Tinkoff.TokenName = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// TinkoffToken reads the configured token file from the broker directory.
func (c *Config) TinkoffToken() (string, error) {
	path := filepath.Join(c.Storage.BrokerDir, c.Tinkoff.TokenName)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
