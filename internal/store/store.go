// Package store defines the provider-neutral boundary between the
// migrator and a blob storage backend.
package store

import (
	"context"

	"github.com/ganrad/blob-tier-migrator/internal/tier"
)

// BlobRecord is a read-only snapshot of a blob as observed during
// enumeration.
type BlobRecord struct {
	Name     string
	Tier     tier.Tier
	Size     int64
	Metadata map[string]string
}

// BlobError reports a per-blob failure inside a submitted batch.
type BlobError struct {
	Name string
	Err  error
}

// BatchResult carries per-blob outcomes of a tier-change batch. The
// batch call itself succeeded; individual sub-requests may still have
// failed.
type BatchResult struct {
	Succeeded []string
	Failed    []BlobError
}

// Store enumerates blobs and changes their access tier in batches.
type Store interface {
	// ListBlobs calls visit for every blob in the container, in
	// whatever order the service yields. Enumeration stops at the
	// first visit error.
	ListBlobs(ctx context.Context, visit func(BlobRecord) error) error

	// SetTierBatch submits one tier-change request covering all named
	// blobs. len(names) must be >= 1 and within the provider's batch
	// limit.
	SetTierBatch(ctx context.Context, names []string, target tier.Tier) (BatchResult, error)

	// Ping checks connectivity and access to the container.
	Ping(ctx context.Context) error

	Close() error
}
