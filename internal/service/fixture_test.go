package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"clinicnotes/internal/clock"
	"clinicnotes/internal/domain"
	"clinicnotes/internal/logger"
	"clinicnotes/internal/metrics"
	"clinicnotes/internal/repository/memory"
	"clinicnotes/internal/service/s3"
)

var (
	alice = domain.Actor{ID: "u1", Name: "Alice", Role: "clinician"}
	bob   = domain.Actor{ID: "u2", Name: "Bob", Role: "clinician"}
	carol = domain.Actor{ID: "u3", Name: "Carol", Role: "supervisor"}
)

const testDebounce = 5 * time.Second

type fixture struct {
	ctx      context.Context
	clock    *clock.ManagedClock
	blobs    s3.Storage
	metrics  *metrics.Metrics
	versions *VersionStore
	ledger   *SignatureLedger
	tracker  *AutoSaveTracker
	notes    *NoteService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithBlobs(t, s3.NewMemoryStorage())
}

func newFixtureWithBlobs(t *testing.T, blobs s3.Storage) *fixture {
	t.Helper()

	clk := clock.NewManaged(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	log := logger.Nop()
	m := metrics.New(prometheus.NewRegistry())

	versions := NewVersionStore(memory.NewVersionRepository(), blobs, clk, log, m)
	ledger := NewSignatureLedger(memory.NewLedgerRepository(), clk, log, m)
	tracker := NewAutoSaveTracker(versions, ledger, memory.NewSnapshotRepository(), clk, testDebounce, log, m)
	notes := NewNoteService(memory.NewNoteRepository(), versions, ledger, tracker, clk, log, m)

	return &fixture{
		ctx:      context.Background(),
		clock:    clk,
		blobs:    blobs,
		metrics:  m,
		versions: versions,
		ledger:   ledger,
		tracker:  tracker,
		notes:    notes,
	}
}

// failingStorage отказывает в записи, пока fail выставлен
type failingStorage struct {
	*s3.MemoryStorage
	fail bool
}

func (f *failingStorage) Put(ctx context.Context, key string, data []byte) error {
	if f.fail {
		return errors.New("storage unavailable")
	}
	return f.MemoryStorage.Put(ctx, key, data)
}

func mustInitialize(t *testing.T, f *fixture, noteID, content string) *domain.Version {
	t.Helper()
	v, err := f.versions.InitializeHistory(f.ctx, noteID, content, alice)
	if err != nil {
		t.Fatalf("InitializeHistory failed: %v", err)
	}
	return v
}

func mustAdd(t *testing.T, f *fixture, noteID, content string) *domain.Version {
	t.Helper()
	v, err := f.versions.AddVersion(f.ctx, AddVersionInput{NoteID: noteID, Content: content, Author: alice})
	if err != nil {
		t.Fatalf("AddVersion failed: %v", err)
	}
	return v
}

func historyContents(t *testing.T, f *fixture, noteID string) []string {
	t.Helper()
	history, err := f.versions.GetHistory(f.ctx, noteID)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	contents := make([]string, len(history))
	for i, v := range history {
		contents[i] = v.Content
	}
	return contents
}
