package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	// Create a temporary YAML config file.
	yamlContent := []byte(`
storage:
  data_dir: "/tmp/arbat/data"
moex:
  base_url: "https://iss.moex.com"
  rate_limit_per_min: 120
  page_limit: 500
tinkoff:
  token_name: "prod"
logging:
  level: "info"
  format: "json"
ingest:
  max_attempts: 4
  base_delay_ms: 250
  budget_seconds: 120
test:
  deposit: 250000
  commission_rate: 0.0004
`)

	tmpFile, err := os.CreateTemp("", "arbat-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}

	// Clear any environment overrides that might interfere.
	os.Unsetenv("ARBAT_DATA_DIR")
	os.Unsetenv("MOEX_BASE_URL")
	os.Unsetenv("TINKOFF_TOKEN_NAME")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/arbat/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/arbat/data")
	}
	// Unset sub-roots derive from the data root.
	if want := filepath.Join("/tmp/arbat/data", "store"); cfg.Storage.StoreDir != want {
		t.Errorf("Storage.StoreDir = %q, want %q", cfg.Storage.StoreDir, want)
	}
	if want := filepath.Join("/tmp/arbat/data", "downloads"); cfg.Storage.DownloadsDir != want {
		t.Errorf("Storage.DownloadsDir = %q, want %q", cfg.Storage.DownloadsDir, want)
	}
	if want := filepath.Join("/tmp/arbat/data", "cache"); cfg.Storage.CacheDir != want {
		t.Errorf("Storage.CacheDir = %q, want %q", cfg.Storage.CacheDir, want)
	}
	if want := filepath.Join("/tmp/arbat/data", "broker"); cfg.Storage.BrokerDir != want {
		t.Errorf("Storage.BrokerDir = %q, want %q", cfg.Storage.BrokerDir, want)
	}

	// -- Moex --
	if cfg.Moex.RateLimitPerMin != 120 {
		t.Errorf("Moex.RateLimitPerMin = %d, want 120", cfg.Moex.RateLimitPerMin)
	}
	if cfg.Moex.PageLimit != 500 {
		t.Errorf("Moex.PageLimit = %d, want 500", cfg.Moex.PageLimit)
	}

	// -- Tinkoff --
	if cfg.Tinkoff.TokenName != "prod" {
		t.Errorf("Tinkoff.TokenName = %q, want %q", cfg.Tinkoff.TokenName, "prod")
	}

	// -- Logging --
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}

	// -- Ingest --
	if cfg.Ingest.MaxAttempts != 4 {
		t.Errorf("Ingest.MaxAttempts = %d, want 4", cfg.Ingest.MaxAttempts)
	}
	if cfg.Ingest.BudgetSeconds != 120 {
		t.Errorf("Ingest.BudgetSeconds = %d, want 120", cfg.Ingest.BudgetSeconds)
	}

	// -- Test defaults --
	if cfg.Test.Deposit != 250000 {
		t.Errorf("Test.Deposit = %f, want 250000", cfg.Test.Deposit)
	}
	if cfg.Test.CommissionRate != 0.0004 {
		t.Errorf("Test.CommissionRate = %f, want 0.0004", cfg.Test.CommissionRate)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := []byte(`
storage:
  data_dir: "/original/data"
moex:
  base_url: "https://yaml.example"
`)

	tmpFile, err := os.CreateTemp("", "arbat-config-env-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	// Set environment overrides.
	os.Setenv("ARBAT_DATA_DIR", "/env/data")
	os.Setenv("MOEX_BASE_URL", "https://env.example")
	defer os.Unsetenv("ARBAT_DATA_DIR")
	defer os.Unsetenv("MOEX_BASE_URL")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	// Sub-roots follow the overridden data root.
	if want := filepath.Join("/env/data", "store"); cfg.Storage.StoreDir != want {
		t.Errorf("Storage.StoreDir = %q, want %q", cfg.Storage.StoreDir, want)
	}
	if cfg.Moex.BaseURL != "https://env.example" {
		t.Errorf("Moex.BaseURL = %q, want %q (env override)", cfg.Moex.BaseURL, "https://env.example")
	}
}

func TestTinkoffToken(t *testing.T) {
	dir := t.TempDir()
	cfg := Default(dir)
	cfg.Tinkoff.TokenName = "sandbox"

	if err := os.MkdirAll(cfg.Storage.BrokerDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfg.Storage.BrokerDir, "sandbox")
	if err := os.WriteFile(path, []byte("t.secret-token\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	token, err := cfg.TinkoffToken()
	if err != nil {
		t.Fatalf("TinkoffToken: %v", err)
	}
	if token != "t.secret-token" {
		t.Errorf("token = %q, want trimmed %q", token, "t.secret-token")
	}
}
