// Package journal keeps a durable record of migration runs and the
// batches they submitted, so an interrupted or partially failed run
// can be audited after the fact.
package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/ganrad/blob-tier-migrator/internal/config"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Status tracks the lifecycle of a submitted batch.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDryRun    Status = "dry-run"
)

// RunEntry describes one migration run.
type RunEntry struct {
	ID         uint64
	StartedAt  time.Time
	FinishedAt time.Time
	Provider   string
	Container  string
	SourceTier string
	TargetTier string
	DryRun     bool
	Scanned    int64
	Processed  int64
	Batches    int64
	Failed     int64
	Completed  bool
	Error      string
}

// BatchEntry describes one submitted batch within a run.
type BatchEntry struct {
	RunID       uint64
	BatchID     uint64
	Blobs       []string
	TargetTier  string
	Status      Status
	SubmittedAt time.Time
	CompletedAt time.Time
	FailedBlobs []string
	Error       string
}

// Store records runs and batches.
type Store interface {
	BeginRun(ctx context.Context, entry RunEntry) (uint64, error)
	RecordBatch(ctx context.Context, entry BatchEntry) error
	UpdateBatch(ctx context.Context, runID, batchID uint64, status Status, failedBlobs []string, errMsg string) error
	CompleteRun(ctx context.Context, runID uint64, entry RunEntry) error
	ListRuns(ctx context.Context) ([]RunEntry, error)
	ListBatches(ctx context.Context, runID uint64) ([]BatchEntry, error)
	Ping() error
	Close() error
}

var (
	bucketRuns    = []byte("runs")
	bucketBatches = []byte("batches")
)

// BoltStore implements Store using bbolt.
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// NewBoltStore opens or creates a journal database.
func NewBoltStore(cfg config.JournalConfig, logger *zap.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(cfg.Path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening journal db: %w", err)
	}
	db.NoSync = cfg.NoSync

	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRuns); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketBatches)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing journal schema: %w", err)
	}

	return &BoltStore{db: db, logger: logger}, nil
}

func (s *BoltStore) BeginRun(_ context.Context, entry RunEntry) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		seq, err := runs.NextSequence()
		if err != nil {
			return err
		}
		id = seq
		entry.ID = id
		data, err := encode(&entry)
		if err != nil {
			return err
		}
		return runs.Put(uint64ToBytes(id), data)
	})
	if err != nil {
		return 0, fmt.Errorf("recording run start: %w", err)
	}
	return id, nil
}

func (s *BoltStore) RecordBatch(_ context.Context, entry BatchEntry) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		rb, err := tx.Bucket(bucketBatches).CreateBucketIfNotExists(uint64ToBytes(entry.RunID))
		if err != nil {
			return err
		}
		data, err := encode(&entry)
		if err != nil {
			return err
		}
		return rb.Put(uint64ToBytes(entry.BatchID), data)
	})
	if err != nil {
		return fmt.Errorf("recording batch %d: %w", entry.BatchID, err)
	}
	return nil
}

func (s *BoltStore) UpdateBatch(_ context.Context, runID, batchID uint64, status Status, failedBlobs []string, errMsg string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(bucketBatches).Bucket(uint64ToBytes(runID))
		if rb == nil {
			return fmt.Errorf("run %d not found", runID)
		}
		data := rb.Get(uint64ToBytes(batchID))
		if data == nil {
			return fmt.Errorf("batch %d not found in run %d", batchID, runID)
		}
		var entry BatchEntry
		if err := decode(data, &entry); err != nil {
			return err
		}
		entry.Status = status
		entry.CompletedAt = time.Now()
		entry.FailedBlobs = failedBlobs
		entry.Error = errMsg
		updated, err := encode(&entry)
		if err != nil {
			return err
		}
		return rb.Put(uint64ToBytes(batchID), updated)
	})
	if err != nil {
		return fmt.Errorf("updating batch %d: %w", batchID, err)
	}
	return nil
}

func (s *BoltStore) CompleteRun(_ context.Context, runID uint64, entry RunEntry) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		data := runs.Get(uint64ToBytes(runID))
		if data == nil {
			return fmt.Errorf("run %d not found", runID)
		}
		var existing RunEntry
		if err := decode(data, &existing); err != nil {
			return err
		}
		existing.FinishedAt = time.Now()
		existing.Scanned = entry.Scanned
		existing.Processed = entry.Processed
		existing.Batches = entry.Batches
		existing.Failed = entry.Failed
		existing.Completed = true
		existing.Error = entry.Error
		updated, err := encode(&existing)
		if err != nil {
			return err
		}
		return runs.Put(uint64ToBytes(runID), updated)
	})
	if err != nil {
		return fmt.Errorf("recording run completion: %w", err)
	}
	return nil
}

func (s *BoltStore) ListRuns(_ context.Context) ([]RunEntry, error) {
	var runs []RunEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var entry RunEntry
			if err := decode(v, &entry); err != nil {
				return err
			}
			runs = append(runs, entry)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

func (s *BoltStore) ListBatches(_ context.Context, runID uint64) ([]BatchEntry, error) {
	var batches []BatchEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(bucketBatches).Bucket(uint64ToBytes(runID))
		if rb == nil {
			return nil
		}
		return rb.ForEach(func(_, v []byte) error {
			var entry BatchEntry
			if err := decode(v, &entry); err != nil {
				return err
			}
			batches = append(batches, entry)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing batches for run %d: %w", runID, err)
	}
	return batches, nil
}

func (s *BoltStore) Ping() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketRuns) == nil {
			return fmt.Errorf("journal schema missing")
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
