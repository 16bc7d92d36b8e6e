package migrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ganrad/blob-tier-migrator/internal/journal"
	"github.com/ganrad/blob-tier-migrator/internal/store"
	"github.com/ganrad/blob-tier-migrator/internal/tier"
	"go.uber.org/zap"
)

// mockStore is an in-memory store.Store for testing.
type mockStore struct {
	mu      sync.Mutex
	records []store.BlobRecord
	batches [][]string

	listErrAfter int // fail enumeration after this many records (0 = never)
	listErr      error
	batchErr     error
	failNames    map[string]bool
	delay        time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (m *mockStore) ListBlobs(_ context.Context, visit func(store.BlobRecord) error) error {
	for i, rec := range m.records {
		if m.listErr != nil && i >= m.listErrAfter {
			return m.listErr
		}
		if err := visit(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockStore) SetTierBatch(_ context.Context, names []string, _ tier.Tier) (store.BatchResult, error) {
	cur := m.inFlight.Add(1)
	for {
		max := m.maxInFlight.Load()
		if cur <= max || m.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.inFlight.Add(-1)

	if m.batchErr != nil {
		return store.BatchResult{}, m.batchErr
	}

	var result store.BatchResult
	for _, name := range names {
		if m.failNames[name] {
			result.Failed = append(result.Failed, store.BlobError{Name: name, Err: errors.New("simulated failure")})
		} else {
			result.Succeeded = append(result.Succeeded, name)
		}
	}

	m.mu.Lock()
	m.batches = append(m.batches, names)
	m.mu.Unlock()
	return result, nil
}

func (m *mockStore) Ping(context.Context) error { return nil }
func (m *mockStore) Close() error               { return nil }

func (m *mockStore) submittedBatches() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.batches))
	copy(out, m.batches)
	return out
}

// mockJournal captures journal calls for inspection.
type mockJournal struct {
	mu        sync.Mutex
	batches   []journal.BatchEntry
	updates   map[uint64]journal.Status
	completed *journal.RunEntry
}

func newMockJournal() *mockJournal {
	return &mockJournal{updates: make(map[uint64]journal.Status)}
}

func (j *mockJournal) BeginRun(context.Context, journal.RunEntry) (uint64, error) { return 1, nil }

func (j *mockJournal) RecordBatch(_ context.Context, entry journal.BatchEntry) error {
	j.mu.Lock()
	j.batches = append(j.batches, entry)
	j.mu.Unlock()
	return nil
}

func (j *mockJournal) UpdateBatch(_ context.Context, _, batchID uint64, status journal.Status, _ []string, _ string) error {
	j.mu.Lock()
	j.updates[batchID] = status
	j.mu.Unlock()
	return nil
}

func (j *mockJournal) CompleteRun(_ context.Context, _ uint64, entry journal.RunEntry) error {
	j.mu.Lock()
	j.completed = &entry
	j.mu.Unlock()
	return nil
}

func (j *mockJournal) ListRuns(context.Context) ([]journal.RunEntry, error)             { return nil, nil }
func (j *mockJournal) ListBatches(context.Context, uint64) ([]journal.BatchEntry, error) { return nil, nil }
func (j *mockJournal) Ping() error                                                       { return nil }
func (j *mockJournal) Close() error                                                      { return nil }

func makeRecords(n int, t tier.Tier, prefix string) []store.BlobRecord {
	records := make([]store.BlobRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, store.BlobRecord{
			Name: fmt.Sprintf("%s-%04d", prefix, i),
			Tier: t,
		})
	}
	return records
}

func newTestMigrator(t *testing.T, st store.Store, jn journal.Store, cfg Config) *Migrator {
	t.Helper()
	if cfg.Container == "" {
		cfg.Container = "test-container"
	}
	if cfg.SourceTier == tier.Unknown {
		cfg.SourceTier = tier.Hot
	}
	if cfg.TargetTier == tier.Unknown {
		cfg.TargetTier = tier.Cool
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	m, err := New(st, jn, nil, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestRun_BatchPartitioning(t *testing.T) {
	// 120 blobs, 75 at the source tier, batch size 50: expect batches
	// of 50 and 25, totalProcessed 75.
	mock := &mockStore{}
	mock.records = append(mock.records, makeRecords(75, tier.Hot, "hot")...)
	mock.records = append(mock.records, makeRecords(45, tier.Archive, "archive")...)

	m := newTestMigrator(t, mock, nil, Config{BatchSize: 50})
	summary, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if summary.Scanned != 120 {
		t.Errorf("scanned = %d, want 120", summary.Scanned)
	}
	if summary.Processed != 75 {
		t.Errorf("processed = %d, want 75", summary.Processed)
	}
	if summary.Batches != 2 {
		t.Errorf("batches = %d, want 2", summary.Batches)
	}
	if summary.Succeeded != 75 {
		t.Errorf("succeeded = %d, want 75", summary.Succeeded)
	}

	batches := mock.submittedBatches()
	if len(batches) != 2 {
		t.Fatalf("submitted %d batches, want 2", len(batches))
	}
	sizes := map[int]bool{}
	total := 0
	for _, b := range batches {
		if len(b) == 0 {
			t.Error("empty batch submitted")
		}
		sizes[len(b)] = true
		total += len(b)
		for _, name := range b {
			if !strings.HasPrefix(name, "hot-") {
				t.Errorf("non-source blob %q included in batch", name)
			}
		}
	}
	if total != 75 {
		t.Errorf("batch sizes sum to %d, want 75", total)
	}
	if !sizes[50] || !sizes[25] {
		t.Errorf("unexpected batch sizes: %v", sizes)
	}
}

func TestRun_ExactMultiple(t *testing.T) {
	mock := &mockStore{records: makeRecords(100, tier.Hot, "hot")}

	m := newTestMigrator(t, mock, nil, Config{BatchSize: 50})
	summary, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if summary.Batches != 2 || summary.Processed != 100 {
		t.Errorf("batches = %d processed = %d, want 2 and 100", summary.Batches, summary.Processed)
	}
	for _, b := range mock.submittedBatches() {
		if len(b) != 50 {
			t.Errorf("batch size = %d, want 50", len(b))
		}
	}
}

func TestRun_SinglePartialBatch(t *testing.T) {
	mock := &mockStore{records: makeRecords(3, tier.Hot, "hot")}

	m := newTestMigrator(t, mock, nil, Config{BatchSize: 50})
	summary, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if summary.Batches != 1 || summary.Processed != 3 {
		t.Errorf("batches = %d processed = %d, want 1 and 3", summary.Batches, summary.Processed)
	}
}

func TestRun_NoMatches(t *testing.T) {
	// Idempotence: a second run after full migration sees no blobs at
	// the source tier and still reports a summary.
	mock := &mockStore{records: makeRecords(10, tier.Cool, "cool")}

	m := newTestMigrator(t, mock, nil, Config{})
	summary, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if summary.Processed != 0 || summary.Batches != 0 {
		t.Errorf("processed = %d batches = %d, want 0 and 0", summary.Processed, summary.Batches)
	}
	if summary.Scanned != 10 {
		t.Errorf("scanned = %d, want 10", summary.Scanned)
	}
	if len(mock.submittedBatches()) != 0 {
		t.Error("batches submitted for empty match set")
	}
}

func TestRun_EmptyContainer(t *testing.T) {
	mock := &mockStore{}

	m := newTestMigrator(t, mock, nil, Config{})
	summary, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Scanned != 0 || summary.Processed != 0 {
		t.Errorf("scanned = %d processed = %d, want 0 and 0", summary.Scanned, summary.Processed)
	}
}

func TestRun_PerItemFailures(t *testing.T) {
	mock := &mockStore{
		records: makeRecords(10, tier.Hot, "hot"),
		failNames: map[string]bool{
			"hot-0002": true,
			"hot-0007": true,
		},
	}
	jn := newMockJournal()

	m := newTestMigrator(t, mock, jn, Config{BatchSize: 10})
	summary, err := m.Run(context.Background())
	if !errors.Is(err, ErrPartialFailure) {
		t.Fatalf("expected ErrPartialFailure, got %v", err)
	}

	if summary.Failed != 2 {
		t.Errorf("failed = %d, want 2", summary.Failed)
	}
	if summary.Succeeded != 8 {
		t.Errorf("succeeded = %d, want 8", summary.Succeeded)
	}
	if jn.updates[1] != journal.StatusFailed {
		t.Errorf("journal batch status = %s, want %s", jn.updates[1], journal.StatusFailed)
	}
	if jn.completed == nil || jn.completed.Failed != 2 {
		t.Errorf("journal run completion missing failure count: %+v", jn.completed)
	}
}

func TestRun_BatchSubmitError(t *testing.T) {
	mock := &mockStore{
		records:  makeRecords(5, tier.Hot, "hot"),
		batchErr: errors.New("simulated service error"),
	}
	jn := newMockJournal()

	m := newTestMigrator(t, mock, jn, Config{BatchSize: 5})
	summary, err := m.Run(context.Background())
	if err == nil {
		t.Fatal("expected error from Run")
	}
	if summary.Failed != 5 {
		t.Errorf("failed = %d, want 5", summary.Failed)
	}
	if jn.updates[1] != journal.StatusFailed {
		t.Errorf("journal batch status = %s, want %s", jn.updates[1], journal.StatusFailed)
	}
}

func TestRun_ListError(t *testing.T) {
	// Enumeration fails after the first full batch was already
	// dispatched; the submitted batch must still be joined and
	// reflected in the summary.
	mock := &mockStore{
		records:      makeRecords(80, tier.Hot, "hot"),
		listErr:      errors.New("simulated listing error"),
		listErrAfter: 60,
	}

	m := newTestMigrator(t, mock, nil, Config{BatchSize: 50})
	summary, err := m.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "enumerating blobs") {
		t.Fatalf("expected enumeration error, got %v", err)
	}

	if summary.Batches != 1 || summary.Processed != 50 {
		t.Errorf("batches = %d processed = %d, want 1 and 50", summary.Batches, summary.Processed)
	}
	if len(mock.submittedBatches()) != 1 {
		t.Errorf("submitted %d batches, want 1", len(mock.submittedBatches()))
	}
}

func TestRun_DryRun(t *testing.T) {
	mock := &mockStore{records: makeRecords(75, tier.Hot, "hot")}
	jn := newMockJournal()

	m := newTestMigrator(t, mock, jn, Config{BatchSize: 50, DryRun: true})
	summary, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if summary.Processed != 75 || summary.Batches != 2 {
		t.Errorf("processed = %d batches = %d, want 75 and 2", summary.Processed, summary.Batches)
	}
	if !summary.DryRun {
		t.Error("summary not marked dry-run")
	}
	if len(mock.submittedBatches()) != 0 {
		t.Error("dry-run submitted batches to the store")
	}
	for _, b := range jn.batches {
		if b.Status != journal.StatusDryRun {
			t.Errorf("journal batch status = %s, want %s", b.Status, journal.StatusDryRun)
		}
	}
}

func TestRun_MaxInFlightBound(t *testing.T) {
	mock := &mockStore{
		records: makeRecords(200, tier.Hot, "hot"),
		delay:   10 * time.Millisecond,
	}

	m := newTestMigrator(t, mock, nil, Config{BatchSize: 10, MaxInFlight: 2})
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if max := mock.maxInFlight.Load(); max > 2 {
		t.Errorf("observed %d concurrent batches, limit is 2", max)
	}
	if len(mock.submittedBatches()) != 20 {
		t.Errorf("submitted %d batches, want 20", len(mock.submittedBatches()))
	}
}

func TestNew_RejectsIdenticalTiers(t *testing.T) {
	_, err := New(&mockStore{}, nil, nil, Config{
		Container:  "c",
		SourceTier: tier.Hot,
		TargetTier: tier.Hot,
		BatchSize:  10,
	}, zap.NewNop())
	if err == nil {
		t.Fatal("expected error for identical source and target tiers")
	}
}

func TestNew_RejectsBadBatchSize(t *testing.T) {
	for _, size := range []int{0, -1, 257} {
		_, err := New(&mockStore{}, nil, nil, Config{
			Container:  "c",
			SourceTier: tier.Hot,
			TargetTier: tier.Cool,
			BatchSize:  size,
		}, zap.NewNop())
		if err == nil {
			t.Errorf("expected error for batch size %d", size)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{45 * time.Second, "00:00:45"},
		{75 * time.Second, "00:01:15"},
		{3661 * time.Second, "01:01:01"},
		{26*time.Hour + 3*time.Minute, "26:03:00"},
	}
	for _, c := range cases {
		if got := FormatElapsed(c.d); got != c.want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}
