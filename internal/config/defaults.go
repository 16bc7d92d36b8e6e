package config

import "time"

func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderAzure,
		Azure: AzureConfig{
			AccountKeyEnv: "AZURE_STORAGE_ACCOUNT_KEY",
			SASExpiry:     Duration(2 * time.Hour),
		},
		S3: S3Config{
			SecretAccessKeyEnv: "AWS_SECRET_ACCESS_KEY",
			CopyConcurrency:    16,
		},
		Migration: MigrationConfig{
			SourceTier:  "hot",
			TargetTier:  "cool",
			BatchSize:   100,
			MaxInFlight: 0, // unbounded
		},
		Journal: JournalConfig{
			Path: "tier-migrator.db",
		},
		Events: EventsConfig{
			Enabled:        false,
			SubjectPrefix:  "btm",
			ConnectionName: "blob-tier-migrator",
			MaxReconnects:  -1,
			ReconnectWait:  Duration(2 * time.Second),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: false,
				Listen:  ":9090",
				Path:    "/metrics",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "console",
			},
		},
	}
}
