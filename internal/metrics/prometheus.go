package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/ganrad/blob-tier-migrator/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Enumeration metrics
	BlobsScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btm_blobs_scanned_total",
		Help: "Total blobs seen during enumeration",
	}, []string{"container"})

	BlobsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btm_blobs_matched_total",
		Help: "Blobs observed at the source tier",
	}, []string{"container"})

	// Batch metrics
	BatchesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btm_batches_submitted_total",
		Help: "Tier-change batches submitted",
	}, []string{"container"})

	BatchesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btm_batches_failed_total",
		Help: "Tier-change batches that failed as a whole",
	}, []string{"container"})

	BlobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btm_blob_failures_total",
		Help: "Individual blobs that failed inside a submitted batch",
	}, []string{"container"})

	BatchSubmitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "btm_batch_submit_duration_seconds",
		Help:    "Tier-change batch round-trip latency",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"container"})

	InFlightBatches = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "btm_inflight_batches",
		Help: "Batches submitted and not yet completed",
	}, []string{"container"})
)

// RunServer starts the Prometheus metrics HTTP server. Useful for
// long-running migrations; returns when ctx is canceled.
func RunServer(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
