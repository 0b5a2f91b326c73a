package service

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"clinicnotes/internal/domain"
)

func mustCreateNote(t *testing.T, f *fixture, title, content string) *domain.Note {
	t.Helper()
	note, err := f.notes.CreateNote(f.ctx, CreateNoteInput{Title: title, Content: content, Author: alice})
	if err != nil {
		t.Fatalf("CreateNote failed: %v", err)
	}
	return note
}

func TestCreateNote(t *testing.T) {
	f := newFixture(t)
	note := mustCreateNote(t, f, "Initial assessment", "Hello")

	if note.ID == "" || note.Title != "Initial assessment" || note.CreatedBy != alice.ID {
		t.Errorf("Unexpected note: %+v", note)
	}
	if note.Status != domain.NoteStatusDraft || note.Locked {
		t.Errorf("New note must be an unlocked draft, got %s locked=%v", note.Status, note.Locked)
	}
	if note.Revision != 1 || note.CurrentVersionID == "" {
		t.Errorf("Expected pristine version pointer, got revision %d", note.Revision)
	}

	if _, err := f.notes.Signatures(f.ctx, note.ID); err != nil {
		t.Errorf("Expected ledger entry to exist: %v", err)
	}
	if _, err := f.notes.GetNote(f.ctx, "missing"); !errors.Is(err, domain.ErrNoteNotFound) {
		t.Errorf("Expected ErrNoteNotFound, got %v", err)
	}
}

// Сценарии жизненного цикла: создание, подпись, отказ в правке,
// разблокировка, повторная подпись, соподпись и сравнение версий.
func TestNoteLifecycle(t *testing.T) {
	f := newFixture(t)
	note := mustCreateNote(t, f, "Progress note", "Hello")
	v1 := note.CurrentVersionID

	current, err := f.notes.CurrentVersion(f.ctx, note.ID)
	if err != nil || current.Content != "Hello" {
		t.Fatalf("Expected current content Hello, got %+v (err %v)", current, err)
	}

	if err := f.notes.StartTracking(f.ctx, note.ID, "Hello", note.Title, alice); err != nil {
		t.Fatalf("StartTracking failed: %v", err)
	}

	aliceSig, err := f.notes.Sign(f.ctx, note.ID, alice, "")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if !aliceSig.Note.Locked || aliceSig.Note.Status != domain.NoteStatusSigned {
		t.Fatalf("Expected signed and locked note, got %+v", aliceSig.Note)
	}

	err = f.notes.RegisterChange(f.ctx, note.ID, "Hello world", note.Title, alice)
	if !errors.Is(err, domain.ErrNoteLocked) {
		t.Fatalf("Expected ErrNoteLocked, got %v", err)
	}
	if !strings.Contains(err.Error(), "this note is signed and locked") {
		t.Fatalf("Locked error must carry the locked message, got %q", err.Error())
	}
	state, err := f.notes.GetAutoSave(f.ctx, note.ID)
	if err != nil {
		t.Fatalf("GetAutoSave failed: %v", err)
	}
	if state.Snapshot.Content != "Hello" {
		t.Errorf("Snapshot must remain Hello, got %q", state.Snapshot.Content)
	}

	unlocked, err := f.notes.Unlock(f.ctx, note.ID, alice, "typo fix")
	if err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if unlocked.Locked || unlocked.Status != domain.NoteStatusReopened {
		t.Fatalf("Expected reopened note, got %+v", unlocked)
	}

	f.clock.WarpForward(time.Minute)
	saved, err := f.notes.SaveNote(f.ctx, SaveNoteInput{NoteID: note.ID, Content: "Hello world", Author: alice})
	if err != nil {
		t.Fatalf("SaveNote failed: %v", err)
	}
	if saved.Note.Revision != 2 {
		t.Errorf("Expected revision 2, got %d", saved.Note.Revision)
	}
	history, err := f.notes.History(f.ctx, note.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 || history[0].Content != "Hello world" {
		t.Fatalf("Expected newest version Hello world, got %+v", history)
	}

	bobSig, err := f.notes.Sign(f.ctx, note.ID, bob, "")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	ledger, err := f.notes.Signatures(f.ctx, note.ID)
	if err != nil {
		t.Fatalf("Signatures failed: %v", err)
	}
	old := ledger.FindSignature(aliceSig.Signature.ID)
	if old.IsValid || old.InvalidatedReason == nil || *old.InvalidatedReason != "Superseded by new signature" {
		t.Errorf("Expected Alice's signature superseded, got %+v", old)
	}
	if !ledger.FindSignature(bobSig.Signature.ID).IsValid {
		t.Error("Expected Bob's signature to be valid")
	}

	req, err := f.notes.RequestCoSignature(f.ctx, RequestInput{NoteID: note.ID, From: bob, To: carol})
	if err != nil {
		t.Fatalf("RequestCoSignature failed: %v", err)
	}
	coSig, err := f.notes.CoSign(f.ctx, note.ID, carol, "")
	if err != nil {
		t.Fatalf("CoSign failed: %v", err)
	}
	if coSig.Note.Status != domain.NoteStatusCoSigned {
		t.Errorf("Expected co-signed status, got %s", coSig.Note.Status)
	}
	ledger, _ = f.notes.Signatures(f.ctx, note.ID)
	if ledger.FindRequest(req.ID).Status != domain.RequestStatusCompleted {
		t.Errorf("Expected request completed, got %s", ledger.FindRequest(req.ID).Status)
	}

	diff, err := f.notes.CompareVersions(f.ctx, note.ID, v1, saved.Version.ID)
	if err != nil {
		t.Fatalf("CompareVersions failed: %v", err)
	}
	if !reflect.DeepEqual(diff.Added, []string{"Hello world"}) || !reflect.DeepEqual(diff.Removed, []string{"Hello"}) {
		t.Errorf("Unexpected diff %+v", diff)
	}
}

func TestLockedNoteRejectsEdits(t *testing.T) {
	f := newFixture(t)
	note := mustCreateNote(t, f, "Discharge", "v1")
	if _, err := f.notes.Sign(f.ctx, note.ID, alice, ""); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	_, err := f.notes.SaveNote(f.ctx, SaveNoteInput{NoteID: note.ID, Content: "v2", Author: alice})
	if !errors.Is(err, domain.ErrNoteLocked) {
		t.Errorf("SaveNote: expected ErrNoteLocked, got %v", err)
	}
	_, err = f.notes.RevertToVersion(f.ctx, RevertInput{NoteID: note.ID, VersionID: note.CurrentVersionID, Actor: alice})
	if !errors.Is(err, domain.ErrNoteLocked) {
		t.Errorf("RevertToVersion: expected ErrNoteLocked, got %v", err)
	}
	if err := f.notes.StartTracking(f.ctx, note.ID, "v2", "", alice); !errors.Is(err, domain.ErrNoteLocked) {
		t.Errorf("StartTracking: expected ErrNoteLocked, got %v", err)
	}
	if err := f.notes.RegisterChange(f.ctx, note.ID, "v2", "", alice); !errors.Is(err, domain.ErrNoteLocked) {
		t.Errorf("RegisterChange: expected ErrNoteLocked, got %v", err)
	}
	if domain.Kind(err) != domain.KindLocked {
		t.Errorf("Expected locked error kind, got %s", domain.Kind(err))
	}

	history, _ := f.notes.History(f.ctx, note.ID)
	if len(history) != 1 {
		t.Errorf("Locked note must not gain versions, got %d", len(history))
	}
	if got := testutil.ToFloat64(f.metrics.LockedEditsRejected); got != 4 {
		t.Errorf("Expected 4 rejected edits, got %v", got)
	}
}

func TestSaveNoteSignOnSave(t *testing.T) {
	f := newFixture(t)
	note := mustCreateNote(t, f, "Intake", "draft")

	result, err := f.notes.SaveNote(f.ctx, SaveNoteInput{
		NoteID:     note.ID,
		Title:      "Intake (final)",
		Content:    "final text",
		Author:     domain.Actor{ID: alice.ID, Name: alice.Name, Role: "psychologist"},
		Reason:     "final review",
		SignOnSave: true,
		IPAddress:  "192.168.1.5",
	})
	if err != nil {
		t.Fatalf("SaveNote failed: %v", err)
	}
	if result.Signature == nil || result.Signature.SignerRole != "psychologist" {
		t.Fatalf("Expected primary signature, got %+v", result.Signature)
	}
	if result.Version.Reason != "final review" || result.Version.Content != "final text" {
		t.Errorf("Unexpected version: %+v", result.Version)
	}
	if !result.Note.Locked || result.Note.Title != "Intake (final)" || result.Note.CurrentVersionID != result.Version.ID {
		t.Errorf("Unexpected note after save: %+v", result.Note)
	}
}

func TestSaveNoteConcurrentModification(t *testing.T) {
	f := newFixture(t)
	note := mustCreateNote(t, f, "Session", "v1")

	first, err := f.notes.SaveNote(f.ctx, SaveNoteInput{
		NoteID: note.ID, Content: "v2", Author: alice, ExpectedRevision: note.Revision,
	})
	if err != nil {
		t.Fatalf("SaveNote failed: %v", err)
	}

	_, err = f.notes.SaveNote(f.ctx, SaveNoteInput{
		NoteID: note.ID, Content: "v2 from bob", Author: bob, ExpectedRevision: note.Revision,
	})
	if !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("Expected ErrConcurrentModification, got %v", err)
	}

	_, err = f.notes.RevertToVersion(f.ctx, RevertInput{
		NoteID: note.ID, VersionID: note.CurrentVersionID, Actor: bob, ExpectedRevision: first.Note.Revision,
	})
	if err != nil {
		t.Fatalf("RevertToVersion with fresh revision failed: %v", err)
	}
}

func TestSaveNoteInitializesHistory(t *testing.T) {
	f := newFixture(t)

	// заметка без истории, например после импорта метаданных
	other := &domain.Note{ID: "imported", Title: "Imported", CreatedBy: alice.ID, CreatedAt: f.clock.Now(), UpdatedAt: f.clock.Now()}
	if err := f.notes.notes.Create(f.ctx, other); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	result, err := f.notes.SaveNote(f.ctx, SaveNoteInput{NoteID: other.ID, Content: "first", Author: alice})
	if err != nil {
		t.Fatalf("SaveNote failed: %v", err)
	}
	if !result.Version.IsPristine || result.Note.Revision != 1 {
		t.Errorf("Expected pristine first version, got %+v", result.Version)
	}
}

func TestRejectAndPendingRequests(t *testing.T) {
	f := newFixture(t)
	note := mustCreateNote(t, f, "Review", "text")

	req, err := f.notes.RequestCoSignature(f.ctx, RequestInput{NoteID: note.ID, From: alice, To: carol, Message: "supervision"})
	if err != nil {
		t.Fatalf("RequestCoSignature failed: %v", err)
	}
	pending, err := f.notes.PendingRequests(f.ctx, carol.ID)
	if err != nil || len(pending) != 1 {
		t.Fatalf("Expected one pending request, got %+v (err %v)", pending, err)
	}

	if err := f.notes.RejectCoSignatureRequest(f.ctx, note.ID, req.ID, carol, "incomplete"); err != nil {
		t.Fatalf("RejectCoSignatureRequest failed: %v", err)
	}
	pending, _ = f.notes.PendingRequests(f.ctx, carol.ID)
	if len(pending) != 0 {
		t.Errorf("Expected no pending requests, got %+v", pending)
	}

	_, err = f.notes.RequestCoSignature(f.ctx, RequestInput{NoteID: "missing", From: alice, To: carol})
	if !errors.Is(err, domain.ErrNoteNotFound) {
		t.Errorf("Expected ErrNoteNotFound, got %v", err)
	}
}

func TestInvalidatePrimaryKeepsLock(t *testing.T) {
	f := newFixture(t)
	note := mustCreateNote(t, f, "Letter", "text")
	signed, err := f.notes.Sign(f.ctx, note.ID, alice, "")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	updated, err := f.notes.InvalidateSignature(f.ctx, note.ID, signed.Signature.ID, bob, "signed in error")
	if err != nil {
		t.Fatalf("InvalidateSignature failed: %v", err)
	}
	if !updated.Locked || updated.Status != domain.NoteStatusSigned {
		t.Errorf("Expected locked note, got %+v", updated)
	}
}

func TestAutoSaveThroughController(t *testing.T) {
	f := newFixture(t)
	note := mustCreateNote(t, f, "Session", "a")

	if err := f.notes.RegisterChange(f.ctx, note.ID, "a\nb", "Session", alice); err != nil {
		t.Fatalf("RegisterChange failed: %v", err)
	}
	state, err := f.notes.GetAutoSave(f.ctx, note.ID)
	if err != nil || !state.HasUnsavedChanges {
		t.Fatalf("Expected unsaved changes, got %+v (err %v)", state, err)
	}

	f.clock.WarpForward(testDebounce)

	state, _ = f.notes.GetAutoSave(f.ctx, note.ID)
	if state.HasUnsavedChanges {
		t.Error("Expected clean state after auto-save")
	}
	got, _ := f.notes.GetNote(f.ctx, note.ID)
	if got.Revision != 2 {
		t.Errorf("Expected revision 2 after auto-save, got %d", got.Revision)
	}

	f.notes.StopTracking(note.ID)
	if saved, err := f.notes.ForceSave(f.ctx, note.ID); err != nil || !saved {
		t.Errorf("ForceSave failed: %v (saved %v)", err, saved)
	}
}
