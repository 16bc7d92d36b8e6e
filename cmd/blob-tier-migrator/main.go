package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ganrad/blob-tier-migrator/internal/config"
	"github.com/ganrad/blob-tier-migrator/internal/events"
	"github.com/ganrad/blob-tier-migrator/internal/journal"
	"github.com/ganrad/blob-tier-migrator/internal/metrics"
	"github.com/ganrad/blob-tier-migrator/internal/migrate"
	"github.com/ganrad/blob-tier-migrator/internal/store"
	"github.com/ganrad/blob-tier-migrator/internal/store/azure"
	s3store "github.com/ganrad/blob-tier-migrator/internal/store/s3"
	"go.uber.org/zap"
)

var version = "dev"

// Exit codes: 2 for configuration errors (caught before any network
// call), 1 for runtime failures including partial batch failures.
const (
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	dryRun := flag.Bool("dry-run", false, "enumerate and count without submitting tier changes")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("blob-tier-migrator %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(exitConfig)
	}
	if *dryRun {
		cfg.Migration.DryRun = true
	}

	logger, err := newLogger(cfg.Observability.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(exitRuntime)
	}
	defer logger.Sync()

	summary, err := run(cfg, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("migration failed", zap.Error(err))
		if summary != nil {
			printSummary(summary)
		}
		os.Exit(exitRuntime)
	}

	printSummary(summary)
}

func run(cfg *config.Config, logger *zap.Logger) (*migrate.Summary, error) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Already validated by config.Load.
	source, target, err := cfg.Migration.Tiers()
	if err != nil {
		return nil, err
	}

	var (
		st        store.Store
		container string
	)
	switch cfg.Provider {
	case config.ProviderAzure:
		client, err := azure.NewClient(cfg.Azure)
		if err != nil {
			return nil, fmt.Errorf("authenticating to storage account: %w", err)
		}
		st = azure.NewStore(client, cfg.Azure.Container, cfg.Migration.Prefix, logger.Named("azure"))
		container = cfg.Azure.Container
	case config.ProviderS3:
		api, err := s3store.NewClient(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("creating S3 client: %w", err)
		}
		st = s3store.NewStore(api, cfg.S3, cfg.Migration.Prefix, logger.Named("s3"))
		container = cfg.S3.Bucket
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		return nil, fmt.Errorf("checking storage access: %w", err)
	}

	var jn journal.Store
	if cfg.Journal.Path != "" {
		bolt, err := journal.NewBoltStore(cfg.Journal, logger.Named("journal"))
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		defer bolt.Close()
		jn = bolt
	}

	var pub *events.Publisher
	if cfg.Events.Enabled {
		nc, err := events.Connect(cfg.Events, logger.Named("events"))
		if err != nil {
			return nil, fmt.Errorf("connecting event publisher: %w", err)
		}
		defer nc.Close()
		pub = events.NewPublisher(nc, cfg.Events.SubjectPrefix, container, logger.Named("events"))
	}

	if cfg.Observability.Metrics.Enabled {
		mctx, mcancel := context.WithCancel(ctx)
		defer mcancel()
		go func() {
			if err := metrics.RunServer(mctx, cfg.Observability.Metrics); err != nil {
				logger.Warn("metrics server error", zap.Error(err))
			}
		}()
	}

	m, err := migrate.New(st, jn, pub, migrate.Config{
		Provider:    cfg.Provider,
		Container:   container,
		SourceTier:  source,
		TargetTier:  target,
		BatchSize:   cfg.Migration.BatchSize,
		MaxInFlight: cfg.Migration.MaxInFlight,
		DryRun:      cfg.Migration.DryRun,
	}, logger.Named("migrate"))
	if err != nil {
		return nil, err
	}

	return m.Run(ctx)
}

func printSummary(s *migrate.Summary) {
	if s == nil {
		return
	}
	verb := "Moved"
	if s.DryRun {
		verb = "Would move"
	}
	fmt.Printf("%s %d blobs in %d batches, elapsed %s\n",
		verb, s.Processed, s.Batches, migrate.FormatElapsed(s.Elapsed))
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level.SetLevel(zap.DebugLevel)
	case "info":
		zapCfg.Level.SetLevel(zap.InfoLevel)
	case "warn":
		zapCfg.Level.SetLevel(zap.WarnLevel)
	case "error":
		zapCfg.Level.SetLevel(zap.ErrorLevel)
	}

	return zapCfg.Build()
}
