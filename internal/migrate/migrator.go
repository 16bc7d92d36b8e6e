// Package migrate drives the end-to-end tier migration: enumerate the
// container, accumulate blobs at the source tier into fixed-size
// batches, submit each batch asynchronously, and join on all of them.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ganrad/blob-tier-migrator/internal/config"
	"github.com/ganrad/blob-tier-migrator/internal/events"
	"github.com/ganrad/blob-tier-migrator/internal/journal"
	"github.com/ganrad/blob-tier-migrator/internal/metrics"
	"github.com/ganrad/blob-tier-migrator/internal/store"
	"github.com/ganrad/blob-tier-migrator/internal/tier"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrPartialFailure reports that the run finished but one or more
// blobs failed to change tier.
var ErrPartialFailure = errors.New("one or more blobs failed to change tier")

// Config is the immutable per-run configuration.
type Config struct {
	Provider   string
	Container  string
	SourceTier tier.Tier
	TargetTier tier.Tier
	BatchSize  int
	// MaxInFlight bounds concurrent in-flight batches; 0 means
	// unbounded.
	MaxInFlight int
	DryRun      bool
}

// Summary reports the outcome of a run.
type Summary struct {
	RunID     uint64
	Scanned   int64
	Processed int64
	Batches   int64
	Succeeded int64
	Failed    int64
	Elapsed   time.Duration
	DryRun    bool
}

// Migrator performs one migration run. The journal and publisher are
// optional; pass nil to disable them.
type Migrator struct {
	store   store.Store
	journal journal.Store
	events  *events.Publisher
	cfg     Config
	logger  *zap.Logger
}

func New(st store.Store, jn journal.Store, ev *events.Publisher, cfg Config, logger *zap.Logger) (*Migrator, error) {
	if cfg.SourceTier == tier.Unknown || cfg.TargetTier == tier.Unknown {
		return nil, fmt.Errorf("source and target tiers must be set")
	}
	if cfg.SourceTier == cfg.TargetTier {
		return nil, fmt.Errorf("source and target tier are both %s", cfg.SourceTier)
	}
	if cfg.BatchSize < 1 || cfg.BatchSize > config.MaxBatchSize {
		return nil, fmt.Errorf("batch size must be between 1 and %d, got %d", config.MaxBatchSize, cfg.BatchSize)
	}
	return &Migrator{
		store:   st,
		journal: jn,
		events:  ev,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Run performs a single sequential scan over the container. Each full
// batch is handed to a goroutine for submission; the scan never waits
// on a batch until the final join. Counters touched by submission
// goroutines are atomic; everything else belongs to the scan alone.
func (m *Migrator) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	runID := m.beginRun()
	m.events.RunStarted(runID)

	g, gctx := errgroup.WithContext(ctx)
	if m.cfg.MaxInFlight > 0 {
		g.SetLimit(m.cfg.MaxInFlight)
	}

	var (
		scanned   int64
		processed int64
		batchID   uint64
		succeeded atomic.Int64
		failed    atomic.Int64
	)
	batch := make([]string, 0, m.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		batchID++
		names := batch
		batch = make([]string, 0, m.cfg.BatchSize)
		processed += int64(len(names))

		if m.cfg.DryRun {
			m.recordBatch(runID, batchID, names, journal.StatusDryRun)
			succeeded.Add(int64(len(names)))
			m.logger.Info("dry-run: batch not submitted",
				zap.Uint64("batch", batchID),
				zap.Int("blobs", len(names)),
				zap.Int64("total_processed", processed),
			)
			return
		}

		m.recordBatch(runID, batchID, names, journal.StatusSubmitted)
		metrics.BatchesSubmitted.WithLabelValues(m.cfg.Container).Inc()
		metrics.InFlightBatches.WithLabelValues(m.cfg.Container).Inc()
		m.events.BatchSubmitted(runID, batchID, len(names))
		m.logger.Info("batch submitted",
			zap.Uint64("batch", batchID),
			zap.Int("blobs", len(names)),
			zap.Int64("total_processed", processed),
			zap.String("target", m.cfg.TargetTier.String()),
		)

		id := batchID
		g.Go(func() error {
			defer metrics.InFlightBatches.WithLabelValues(m.cfg.Container).Dec()

			t0 := time.Now()
			result, err := m.store.SetTierBatch(gctx, names, m.cfg.TargetTier)
			metrics.BatchSubmitDuration.WithLabelValues(m.cfg.Container).Observe(time.Since(t0).Seconds())
			if err != nil {
				metrics.BatchesFailed.WithLabelValues(m.cfg.Container).Inc()
				failed.Add(int64(len(names)))
				m.updateBatch(runID, id, journal.StatusFailed, names, err.Error())
				m.events.BatchCompleted(runID, id, len(names), len(names))
				return fmt.Errorf("batch %d: %w", id, err)
			}

			succeeded.Add(int64(len(result.Succeeded)))
			failed.Add(int64(len(result.Failed)))
			metrics.BlobFailures.WithLabelValues(m.cfg.Container).Add(float64(len(result.Failed)))

			status := journal.StatusCompleted
			var failedNames []string
			for _, be := range result.Failed {
				failedNames = append(failedNames, be.Name)
				m.logger.Warn("blob tier change failed",
					zap.Uint64("batch", id),
					zap.String("blob", be.Name),
					zap.Error(be.Err),
				)
			}
			if len(failedNames) > 0 {
				status = journal.StatusFailed
			}
			m.updateBatch(runID, id, status, failedNames, "")
			m.events.BatchCompleted(runID, id, len(names), len(failedNames))
			return nil
		})
	}

	m.logger.Info("enumerating blobs",
		zap.String("container", m.cfg.Container),
		zap.String("source", m.cfg.SourceTier.String()),
		zap.String("target", m.cfg.TargetTier.String()),
		zap.Int("batch_size", m.cfg.BatchSize),
		zap.Bool("dry_run", m.cfg.DryRun),
	)

	listErr := m.store.ListBlobs(gctx, func(rec store.BlobRecord) error {
		scanned++
		metrics.BlobsScanned.WithLabelValues(m.cfg.Container).Inc()

		m.logger.Debug("blob",
			zap.String("name", rec.Name),
			zap.String("tier", rec.Tier.String()),
			zap.Int64("size", rec.Size),
		)
		for k, v := range rec.Metadata {
			m.logger.Debug("blob metadata",
				zap.String("name", rec.Name),
				zap.String("key", k),
				zap.String("value", v),
			)
		}

		if rec.Tier != m.cfg.SourceTier {
			return nil
		}
		metrics.BlobsMatched.WithLabelValues(m.cfg.Container).Inc()
		batch = append(batch, rec.Name)
		if len(batch) >= m.cfg.BatchSize {
			flush()
		}
		return nil
	})
	if listErr == nil {
		flush()
	}

	// Join on every submitted batch even when enumeration failed:
	// already-issued requests complete server-side regardless, and the
	// journal should reflect their outcome.
	waitErr := g.Wait()

	summary := &Summary{
		RunID:     runID,
		Scanned:   scanned,
		Processed: processed,
		Batches:   int64(batchID),
		Succeeded: succeeded.Load(),
		Failed:    failed.Load(),
		Elapsed:   time.Since(start),
		DryRun:    m.cfg.DryRun,
	}

	runErr := listErr
	if runErr == nil {
		runErr = waitErr
	}
	if runErr == nil && summary.Failed > 0 {
		runErr = ErrPartialFailure
	}

	m.completeRun(runID, summary, runErr)
	m.events.RunCompleted(runID, summary.Processed, int(summary.Failed), FormatElapsed(summary.Elapsed))
	m.events.Flush()

	if listErr != nil {
		return summary, fmt.Errorf("enumerating blobs: %w", listErr)
	}
	if waitErr != nil {
		return summary, waitErr
	}
	if runErr != nil {
		return summary, runErr
	}

	m.logger.Info("migration complete",
		zap.Int64("scanned", summary.Scanned),
		zap.Int64("processed", summary.Processed),
		zap.Int64("batches", summary.Batches),
		zap.String("elapsed", FormatElapsed(summary.Elapsed)),
	)
	return summary, nil
}

// The journal is advisory: a journal write failure is logged but never
// aborts a migration that is otherwise making progress.

func (m *Migrator) beginRun() uint64 {
	if m.journal == nil {
		return 0
	}
	id, err := m.journal.BeginRun(context.Background(), journal.RunEntry{
		StartedAt:  time.Now(),
		Provider:   m.cfg.Provider,
		Container:  m.cfg.Container,
		SourceTier: m.cfg.SourceTier.String(),
		TargetTier: m.cfg.TargetTier.String(),
		DryRun:     m.cfg.DryRun,
	})
	if err != nil {
		m.logger.Warn("failed to journal run start", zap.Error(err))
		return 0
	}
	return id
}

func (m *Migrator) recordBatch(runID, batchID uint64, names []string, status journal.Status) {
	if m.journal == nil {
		return
	}
	err := m.journal.RecordBatch(context.Background(), journal.BatchEntry{
		RunID:       runID,
		BatchID:     batchID,
		Blobs:       names,
		TargetTier:  m.cfg.TargetTier.String(),
		Status:      status,
		SubmittedAt: time.Now(),
	})
	if err != nil {
		m.logger.Warn("failed to journal batch", zap.Uint64("batch", batchID), zap.Error(err))
	}
}

func (m *Migrator) updateBatch(runID, batchID uint64, status journal.Status, failedBlobs []string, errMsg string) {
	if m.journal == nil {
		return
	}
	if err := m.journal.UpdateBatch(context.Background(), runID, batchID, status, failedBlobs, errMsg); err != nil {
		m.logger.Warn("failed to journal batch outcome", zap.Uint64("batch", batchID), zap.Error(err))
	}
}

func (m *Migrator) completeRun(runID uint64, summary *Summary, runErr error) {
	if m.journal == nil {
		return
	}
	entry := journal.RunEntry{
		Scanned:   summary.Scanned,
		Processed: summary.Processed,
		Batches:   summary.Batches,
		Failed:    summary.Failed,
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	if err := m.journal.CompleteRun(context.Background(), runID, entry); err != nil {
		m.logger.Warn("failed to journal run completion", zap.Error(err))
	}
}

// FormatElapsed renders a duration as HH:MM:SS.
func FormatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	min := d / time.Minute
	sec := (d - min*time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, min, sec)
}
