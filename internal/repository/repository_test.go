package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"clinicnotes/internal/database"
	"clinicnotes/internal/domain"
	"clinicnotes/internal/logger"
)

var testTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db, logger.Nop()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

func newTestVersion(noteID, id string, at time.Time) *domain.Version {
	return &domain.Version{
		ID:          id,
		NoteID:      noteID,
		ContentHash: "hash-" + id,
		ContentKey:  "notes/" + noteID + "/versions/" + id,
		CreatedAt:   at,
		AuthorID:    "u1",
		AuthorName:  "Alice",
	}
}

func TestNoteRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewNoteRepository(newTestDB(t))

	note := &domain.Note{ID: "n1", Title: "Intake", CreatedBy: "u1", CreatedAt: testTime, UpdatedAt: testTime}
	if err := repo.Create(ctx, note); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	later := testTime.Add(time.Hour)
	if err := repo.UpdateTitle(ctx, "n1", "Intake (revised)", later); err != nil {
		t.Fatalf("UpdateTitle failed: %v", err)
	}

	got, err := repo.GetByID(ctx, "n1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Title != "Intake (revised)" || got.CreatedBy != "u1" || !got.UpdatedAt.Equal(later) {
		t.Errorf("Unexpected note: %+v", got)
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, domain.ErrNoteNotFound) {
		t.Errorf("Expected ErrNoteNotFound, got %v", err)
	}
	if err := repo.UpdateTitle(ctx, "missing", "x", later); !errors.Is(err, domain.ErrNoteNotFound) {
		t.Errorf("Expected ErrNoteNotFound, got %v", err)
	}
}

func TestVersionRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewVersionRepository(newTestDB(t))

	if _, err := repo.Append(ctx, newTestVersion("n1", "v0", testTime), 0); !errors.Is(err, domain.ErrHistoryNotFound) {
		t.Fatalf("Expected ErrHistoryNotFound, got %v", err)
	}

	first := newTestVersion("n1", "v1", testTime)
	first.IsPristine = true
	head, err := repo.CreateHistory(ctx, first)
	if err != nil {
		t.Fatalf("CreateHistory failed: %v", err)
	}
	if head.Revision != 1 || head.CurrentVersionID != "v1" || first.Number != 1 {
		t.Errorf("Unexpected head: %+v", head)
	}

	if _, err := repo.CreateHistory(ctx, newTestVersion("n1", "dup", testTime)); !errors.Is(err, domain.ErrAlreadyInitialized) {
		t.Fatalf("Expected ErrAlreadyInitialized, got %v", err)
	}

	second := newTestVersion("n1", "v2", testTime.Add(time.Minute))
	second.Reason = "Auto-saved"
	head, err = repo.Append(ctx, second, 1)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if head.Revision != 2 || head.CurrentVersionID != "v2" || second.Number != 2 {
		t.Errorf("Unexpected head after append: %+v", head)
	}

	// ревизия устарела
	if _, err := repo.Append(ctx, newTestVersion("n1", "v3", testTime), 1); !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("Expected ErrConcurrentModification, got %v", err)
	}

	versions, err := repo.ListVersions(ctx, "n1")
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != 2 || versions[0].ID != "v2" || versions[1].ID != "v1" {
		t.Fatalf("Expected newest first, got %+v", versions)
	}
	if !versions[1].IsPristine || versions[0].IsPristine || versions[0].Reason != "Auto-saved" {
		t.Errorf("Unexpected version flags: %+v", versions)
	}

	got, err := repo.GetVersion(ctx, "n1", "v1")
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if got.ContentKey != first.ContentKey || !got.CreatedAt.Equal(testTime) {
		t.Errorf("Unexpected version: %+v", got)
	}
	if _, err := repo.GetVersion(ctx, "other", "v1"); !errors.Is(err, domain.ErrVersionNotFound) {
		t.Errorf("Expected ErrVersionNotFound for foreign note, got %v", err)
	}

	stored, err := repo.GetHistory(ctx, "n1")
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if stored.Revision != 2 || stored.CurrentVersionID != "v2" {
		t.Errorf("Unexpected stored head: %+v", stored)
	}
}

func TestLedgerRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(newTestDB(t))

	created, err := repo.Create(ctx, &domain.SignedNote{NoteID: "n1", CreatedAt: testTime, UpdatedAt: testTime})
	if err != nil || !created {
		t.Fatalf("Create failed: %v (created %v)", err, created)
	}
	created, err = repo.Create(ctx, &domain.SignedNote{NoteID: "n1", CreatedAt: testTime, UpdatedAt: testTime})
	if err != nil || created {
		t.Fatalf("Second Create must report existing ledger: %v (created %v)", err, created)
	}

	lockedAt := testTime.Add(time.Minute)
	_, err = repo.Update(ctx, "n1", func(ledger *domain.SignedNote) error {
		ledger.Locked = true
		ledger.LockedAt = &lockedAt
		ledger.Signatures = append(ledger.Signatures, domain.Signature{
			ID: "s1", NoteID: "n1", SignerID: "u1", SignerName: "Alice", SignedAt: lockedAt,
			Type: domain.SignatureTypePrimary, IsValid: true,
		})
		ledger.Requests = append(ledger.Requests, domain.SignatureRequest{
			ID: "r1", NoteID: "n1", RequestedByUserID: "u1", RequestedByName: "Alice",
			RequestedToUserID: "u3", RequestedToName: "Carol", Status: domain.RequestStatusPending,
			CreatedAt: lockedAt, UpdatedAt: lockedAt,
		})
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	_, err = repo.Update(ctx, "n1", func(ledger *domain.SignedNote) error {
		ledger.Signatures[0].Invalidate("u2", domain.SupersededReason, lockedAt)
		ledger.Signatures = append(ledger.Signatures, domain.Signature{
			ID: "s2", NoteID: "n1", SignerID: "u2", SignerName: "Bob", SignedAt: lockedAt,
			Type: domain.SignatureTypePrimary, IsValid: true,
		})
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// ошибка из fn откатывает изменения
	errBoom := errors.New("boom")
	_, err = repo.Update(ctx, "n1", func(ledger *domain.SignedNote) error {
		ledger.Locked = false
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("Expected fn error, got %v", err)
	}

	ledger, err := repo.Get(ctx, "n1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ledger.Locked || ledger.LockedAt == nil || !ledger.LockedAt.Equal(lockedAt) {
		t.Errorf("Unexpected lock state: %+v", ledger)
	}
	if len(ledger.Signatures) != 2 || ledger.Signatures[0].ID != "s1" || ledger.Signatures[1].ID != "s2" {
		t.Fatalf("Expected signatures in insertion order, got %+v", ledger.Signatures)
	}
	old := ledger.Signatures[0]
	if old.IsValid || old.InvalidatedReason == nil || *old.InvalidatedReason != domain.SupersededReason {
		t.Errorf("Expected superseded signature, got %+v", old)
	}
	if primary := ledger.PrimarySignature(); primary == nil || primary.ID != "s2" {
		t.Errorf("Expected s2 as primary, got %+v", primary)
	}

	pending, err := repo.ListPendingRequests(ctx, "u3")
	if err != nil || len(pending) != 1 || pending[0].ID != "r1" {
		t.Errorf("Expected pending request r1, got %+v (err %v)", pending, err)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrLedgerNotFound) {
		t.Errorf("Expected ErrLedgerNotFound, got %v", err)
	}
	_, err = repo.Update(ctx, "missing", func(*domain.SignedNote) error { return nil })
	if !errors.Is(err, domain.ErrLedgerNotFound) {
		t.Errorf("Expected ErrLedgerNotFound from Update, got %v", err)
	}
}

func TestSnapshotRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewSnapshotRepository(newTestDB(t))

	if _, err := repo.Get(ctx, "n1"); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Fatalf("Expected ErrSnapshotNotFound, got %v", err)
	}

	snapshot := &domain.AutoSaveSnapshot{NoteID: "n1", Content: "a", Title: "T", AuthorID: "u1", UpdatedAt: testTime}
	if err := repo.Save(ctx, snapshot); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	savedAt := testTime.Add(5 * time.Second)
	snapshot.Content = "b"
	snapshot.SavedAt = &savedAt
	if err := repo.Save(ctx, snapshot); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := repo.Get(ctx, "n1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != "b" || got.SavedAt == nil || !got.SavedAt.Equal(savedAt) {
		t.Errorf("Unexpected snapshot: %+v", got)
	}
}

func TestBlobRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewBlobRepository(newTestDB(t))

	if err := repo.Put(ctx, "notes/n1/versions/v1", []byte("first")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := repo.Put(ctx, "notes/n1/versions/v1", []byte("second")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	data, err := repo.Get(ctx, "notes/n1/versions/v1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("Expected overwritten blob, got %q", data)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrBlobNotFound) {
		t.Errorf("Expected ErrBlobNotFound, got %v", err)
	}
}
