package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ganrad/blob-tier-migrator/internal/tier"
	"gopkg.in/yaml.v3"
)

const (
	ProviderAzure = "azure"
	ProviderS3    = "s3"

	// MaxBatchSize is the service-side cap on sub-requests in a single
	// blob batch call.
	MaxBatchSize = 256
)

type Config struct {
	Provider      string              `yaml:"provider"`
	Azure         AzureConfig         `yaml:"azure"`
	S3            S3Config            `yaml:"s3"`
	Migration     MigrationConfig     `yaml:"migration"`
	Journal       JournalConfig       `yaml:"journal"`
	Events        EventsConfig        `yaml:"events"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type AzureConfig struct {
	AccountName   string   `yaml:"account_name"`
	Container     string   `yaml:"container"`
	Endpoint      string   `yaml:"endpoint"`
	AccountKeyEnv string   `yaml:"account_key_env"`
	SASExpiry     Duration `yaml:"sas_expiry"`

	// AccountKey is resolved from the environment by Load and never
	// written back to disk or logs.
	AccountKey string `yaml:"-"`
}

type S3Config struct {
	Endpoint           string `yaml:"endpoint"`
	Region             string `yaml:"region"`
	Bucket             string `yaml:"bucket"`
	AccessKeyID        string `yaml:"access_key_id"`
	SecretAccessKeyEnv string `yaml:"secret_access_key_env"`
	ForcePathStyle     bool   `yaml:"force_path_style"`
	CopyConcurrency    int    `yaml:"copy_concurrency"`

	SecretAccessKey string `yaml:"-"`
}

type MigrationConfig struct {
	SourceTier  string `yaml:"source_tier"`
	TargetTier  string `yaml:"target_tier"`
	BatchSize   int    `yaml:"batch_size"`
	MaxInFlight int    `yaml:"max_inflight"`
	Prefix      string `yaml:"prefix"`
	DryRun      bool   `yaml:"dry_run"`
}

// Tiers parses and returns the configured source and target tiers.
func (m MigrationConfig) Tiers() (source, target tier.Tier, err error) {
	source, err = tier.Parse(m.SourceTier)
	if err != nil {
		return tier.Unknown, tier.Unknown, fmt.Errorf("migration.source_tier: %w", err)
	}
	target, err = tier.Parse(m.TargetTier)
	if err != nil {
		return tier.Unknown, tier.Unknown, fmt.Errorf("migration.target_tier: %w", err)
	}
	return source, target, nil
}

type JournalConfig struct {
	Path   string `yaml:"path"`
	NoSync bool   `yaml:"no_sync"`
}

type EventsConfig struct {
	Enabled         bool      `yaml:"enabled"`
	URL             string    `yaml:"url"`
	SubjectPrefix   string    `yaml:"subject_prefix"`
	ConnectionName  string    `yaml:"connection_name"`
	CredentialsFile string    `yaml:"credentials_file"`
	MaxReconnects   int       `yaml:"max_reconnects"`
	ReconnectWait   Duration  `yaml:"reconnect_wait"`
	TLS             TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and validates a configuration file, resolving secrets
// from the environment. Validation runs before any network activity.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.resolveSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) resolveSecrets() {
	switch c.Provider {
	case ProviderAzure:
		c.Azure.AccountKey = os.Getenv(c.Azure.AccountKeyEnv)
	case ProviderS3:
		c.S3.SecretAccessKey = os.Getenv(c.S3.SecretAccessKeyEnv)
	}
}

func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderAzure:
		if c.Azure.AccountName == "" {
			return fmt.Errorf("azure.account_name is required")
		}
		if c.Azure.Container == "" {
			return fmt.Errorf("azure.container is required")
		}
		if c.Azure.AccountKey == "" {
			return fmt.Errorf("account key is not set: export %s", c.Azure.AccountKeyEnv)
		}
		if c.Azure.SASExpiry.Duration() <= 0 {
			return fmt.Errorf("azure.sas_expiry must be > 0")
		}
	case ProviderS3:
		if c.S3.Region == "" && c.S3.Endpoint == "" {
			return fmt.Errorf("s3.region or s3.endpoint is required")
		}
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required")
		}
		if c.S3.SecretAccessKey == "" {
			return fmt.Errorf("secret access key is not set: export %s", c.S3.SecretAccessKeyEnv)
		}
	default:
		return fmt.Errorf("provider must be %q or %q, got %q", ProviderAzure, ProviderS3, c.Provider)
	}

	source, target, err := c.Migration.Tiers()
	if err != nil {
		return err
	}
	if source == target {
		return fmt.Errorf("migration.source_tier and migration.target_tier are both %q", source)
	}

	if c.Migration.BatchSize < 1 || c.Migration.BatchSize > MaxBatchSize {
		return fmt.Errorf("migration.batch_size must be between 1 and %d, got %d", MaxBatchSize, c.Migration.BatchSize)
	}
	if c.Migration.MaxInFlight < 0 {
		return fmt.Errorf("migration.max_inflight must be >= 0")
	}

	if c.Events.Enabled && c.Events.URL == "" {
		return fmt.Errorf("events.url is required when events are enabled")
	}

	return nil
}

// Duration wraps time.Duration for YAML unmarshaling of strings like "5m", "24h".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
