package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	t.Setenv("AZURE_STORAGE_ACCOUNT_KEY", "test-key")

	path := writeConfig(t, `
provider: azure

azure:
  account_name: "mystorageacct"
  container: "backups"
  sas_expiry: "4h"

migration:
  source_tier: "hot"
  target_tier: "archive"
  batch_size: 200
  max_inflight: 4

journal:
  path: "/tmp/btm-test.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Azure.AccountName != "mystorageacct" {
		t.Errorf("unexpected account name: %s", cfg.Azure.AccountName)
	}
	if cfg.Azure.AccountKey != "test-key" {
		t.Errorf("account key not resolved from environment")
	}
	if cfg.Azure.SASExpiry.Duration() != 4*time.Hour {
		t.Errorf("unexpected sas_expiry: %v", cfg.Azure.SASExpiry.Duration())
	}
	if cfg.Migration.BatchSize != 200 {
		t.Errorf("unexpected batch_size: %d", cfg.Migration.BatchSize)
	}
	if cfg.Migration.MaxInFlight != 4 {
		t.Errorf("unexpected max_inflight: %d", cfg.Migration.MaxInFlight)
	}
}

func TestLoad_MissingAccountKey(t *testing.T) {
	t.Setenv("AZURE_STORAGE_ACCOUNT_KEY", "")

	path := writeConfig(t, `
provider: azure
azure:
  account_name: "mystorageacct"
  container: "backups"
migration:
  source_tier: "hot"
  target_tier: "cool"
  batch_size: 100
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unset account key")
	}
	if !strings.Contains(err.Error(), "AZURE_STORAGE_ACCOUNT_KEY") {
		t.Errorf("error should name the env var, got: %v", err)
	}
}

func TestValidate_IdenticalTiers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Azure.AccountName = "acct"
	cfg.Azure.Container = "c"
	cfg.Azure.AccountKey = "key"
	cfg.Migration.SourceTier = "cool"
	cfg.Migration.TargetTier = "cool"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for identical source and target tiers")
	}
}

func TestValidate_BatchSizeBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Azure.AccountName = "acct"
	cfg.Azure.Container = "c"
	cfg.Azure.AccountKey = "key"

	for _, size := range []int{0, -5, 257, 1000} {
		cfg.Migration.BatchSize = size
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for batch_size %d", size)
		}
	}
	cfg.Migration.BatchSize = 256
	if err := cfg.Validate(); err != nil {
		t.Errorf("batch_size 256 should be valid: %v", err)
	}
}

func TestValidate_UnknownTier(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Azure.AccountName = "acct"
	cfg.Azure.Container = "c"
	cfg.Azure.AccountKey = "key"
	cfg.Migration.SourceTier = "lukewarm"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown tier name")
	}
}

func TestValidate_S3Provider(t *testing.T) {
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")

	path := writeConfig(t, `
provider: s3
s3:
  region: "us-east-1"
  bucket: "archive-bucket"
  access_key_id: "AKIATEST"
migration:
  source_tier: "hot"
  target_tier: "archive"
  batch_size: 50
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.S3.SecretAccessKey != "secret" {
		t.Error("secret access key not resolved from environment")
	}
}

func TestValidate_UnknownProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider = "gcs"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestValidate_EventsRequireURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Azure.AccountName = "acct"
	cfg.Azure.Container = "c"
	cfg.Azure.AccountKey = "key"
	cfg.Events.Enabled = true

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for enabled events without url")
	}
}

func TestDuration_Unmarshal(t *testing.T) {
	t.Setenv("AZURE_STORAGE_ACCOUNT_KEY", "k")
	path := writeConfig(t, `
provider: azure
azure:
  account_name: "a"
  container: "c"
  sas_expiry: "90m"
migration:
  source_tier: "cool"
  target_tier: "archive"
  batch_size: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Azure.SASExpiry.Duration() != 90*time.Minute {
		t.Errorf("sas_expiry = %v, want 90m", cfg.Azure.SASExpiry.Duration())
	}
}
