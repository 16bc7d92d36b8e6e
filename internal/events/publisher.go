// Package events publishes best-effort migration progress events to
// NATS so operators can follow a long run without tailing logs.
// Publish failures are logged and never fail the migration.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ganrad/blob-tier-migrator/internal/config"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event is the JSON payload published for every progress notification.
type Event struct {
	Type      string    `json:"type"`
	Time      time.Time `json:"time"`
	RunID     uint64    `json:"run_id"`
	Container string    `json:"container,omitempty"`
	BatchID   uint64    `json:"batch_id,omitempty"`
	BlobCount int       `json:"blob_count,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Processed int64     `json:"processed,omitempty"`
	Elapsed   string    `json:"elapsed,omitempty"`
}

// Connect establishes a NATS connection for event publishing.
func Connect(cfg config.EventsConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait.Duration()),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	if cfg.CredentialsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
	}
	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		opts = append(opts, nats.ClientCert(cfg.TLS.CertFile, cfg.TLS.KeyFile))
	}
	if cfg.TLS.CAFile != "" {
		opts = append(opts, nats.RootCAs(cfg.TLS.CAFile))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Publisher publishes migration events. A nil Publisher is valid and
// publishes nothing.
type Publisher struct {
	nc        *nats.Conn
	subject   string
	container string
	logger    *zap.Logger
}

func NewPublisher(nc *nats.Conn, subjectPrefix, container string, logger *zap.Logger) *Publisher {
	return &Publisher{
		nc:        nc,
		subject:   subjectPrefix,
		container: container,
		logger:    logger,
	}
}

func (p *Publisher) RunStarted(runID uint64) {
	p.publish(Event{Type: "run_started", RunID: runID})
}

func (p *Publisher) BatchSubmitted(runID, batchID uint64, blobCount int) {
	p.publish(Event{Type: "batch_submitted", RunID: runID, BatchID: batchID, BlobCount: blobCount})
}

func (p *Publisher) BatchCompleted(runID, batchID uint64, blobCount, failed int) {
	p.publish(Event{Type: "batch_completed", RunID: runID, BatchID: batchID, BlobCount: blobCount, Failed: failed})
}

func (p *Publisher) RunCompleted(runID uint64, processed int64, failed int, elapsed string) {
	p.publish(Event{Type: "run_completed", RunID: runID, Processed: processed, Failed: failed, Elapsed: elapsed})
}

func (p *Publisher) publish(evt Event) {
	if p == nil {
		return
	}
	evt.Time = time.Now().UTC()
	evt.Container = p.container

	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn("failed to marshal event", zap.Error(err))
		return
	}
	subject := p.subject + "." + evt.Type
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

// Flush waits for buffered events to reach the server.
func (p *Publisher) Flush() {
	if p == nil {
		return
	}
	if err := p.nc.Flush(); err != nil {
		p.logger.Warn("failed to flush events", zap.Error(err))
	}
}
