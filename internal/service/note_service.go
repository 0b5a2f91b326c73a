package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"clinicnotes/internal/clock"
	"clinicnotes/internal/domain"
	"clinicnotes/internal/logger"
	"clinicnotes/internal/metrics"
	"clinicnotes/internal/repository"
)

type CreateNoteInput struct {
	Title   string
	Content string
	Author  domain.Actor
}

type SaveNoteInput struct {
	NoteID           string
	Title            string
	Content          string
	Author           domain.Actor
	Reason           string
	ExpectedRevision int64
	SignOnSave       bool
	IPAddress        string
}

type SaveResult struct {
	Note      *domain.Note      `json:"note"`
	Version   *domain.Version   `json:"version"`
	Signature *domain.Signature `json:"signature,omitempty"`
}

type SignatureResult struct {
	Note      *domain.Note      `json:"note"`
	Signature *domain.Signature `json:"signature"`
}

type AutoSaveState struct {
	Snapshot          *domain.AutoSaveSnapshot `json:"snapshot"`
	HasUnsavedChanges bool                     `json:"has_unsaved_changes"`
}

// NoteService управляет жизненным циклом заметки: правки разрешены,
// только пока журнал подписей не держит блокировку.
type NoteService struct {
	notes    repository.NoteRepository
	versions *VersionStore
	ledger   *SignatureLedger
	tracker  *AutoSaveTracker
	clock    clock.Clock
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func NewNoteService(
	notes repository.NoteRepository,
	versions *VersionStore,
	ledger *SignatureLedger,
	tracker *AutoSaveTracker,
	clk clock.Clock,
	log zerolog.Logger,
	m *metrics.Metrics,
) *NoteService {
	return &NoteService{
		notes:    notes,
		versions: versions,
		ledger:   ledger,
		tracker:  tracker,
		clock:    clk,
		log:      logger.Component(log, "notes"),
		metrics:  m,
	}
}

// CreateNote создаёт заметку с исходной версией и пустым журналом подписей
func (s *NoteService) CreateNote(ctx context.Context, in CreateNoteInput) (*domain.Note, error) {
	now := s.clock.Now()
	note := &domain.Note{
		ID:        uuid.New().String(),
		Title:     in.Title,
		CreatedBy: in.Author.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.notes.Create(ctx, note); err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}
	if _, err := s.versions.InitializeHistory(ctx, note.ID, in.Content, in.Author); err != nil {
		return nil, err
	}
	if err := s.ledger.InitializeNote(ctx, note.ID); err != nil {
		return nil, err
	}

	s.log.Info().Str("note_id", note.ID).Str("user_id", in.Author.ID).Msg("note created")
	return s.GetNote(ctx, note.ID)
}

// GetNote возвращает заметку со статусом, вычисленным по журналу подписей
func (s *NoteService) GetNote(ctx context.Context, noteID string) (*domain.Note, error) {
	note, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return nil, err
	}

	ledger, err := s.ledger.GetNoteSignatures(ctx, noteID)
	if err != nil {
		if !errors.Is(err, domain.ErrLedgerNotFound) {
			return nil, err
		}
		ledger = nil
	}
	note.Status = domain.DeriveStatus(ledger)
	note.Locked = ledger != nil && ledger.Locked

	head, err := s.versions.Head(ctx, noteID)
	switch {
	case err == nil:
		note.CurrentVersionID = head.CurrentVersionID
		note.Revision = head.Revision
	case !errors.Is(err, domain.ErrHistoryNotFound):
		return nil, err
	}
	return note, nil
}

// ensureEditable возвращает domain.ErrNoteLocked, если заметка подписана
func (s *NoteService) ensureEditable(ctx context.Context, noteID string) error {
	locked, err := s.ledger.IsNoteLocked(ctx, noteID)
	if err != nil {
		return err
	}
	if locked {
		s.metrics.LockedEditsRejected.Inc()
		return fmt.Errorf("%w: %s", domain.ErrNoteLocked, noteID)
	}
	return nil
}

// SaveNote фиксирует явное сохранение. Первое сохранение создаёт историю,
// при SignOnSave заметка затем подписывается.
func (s *NoteService) SaveNote(ctx context.Context, in SaveNoteInput) (*SaveResult, error) {
	note, err := s.notes.GetByID(ctx, in.NoteID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureEditable(ctx, in.NoteID); err != nil {
		return nil, err
	}

	var version *domain.Version
	_, err = s.versions.Head(ctx, in.NoteID)
	switch {
	case errors.Is(err, domain.ErrHistoryNotFound):
		version, err = s.versions.InitializeHistory(ctx, in.NoteID, in.Content, in.Author)
	case err == nil:
		version, err = s.versions.AddVersion(ctx, AddVersionInput{
			NoteID:           in.NoteID,
			Content:          in.Content,
			Author:           in.Author,
			Reason:           in.Reason,
			ExpectedRevision: in.ExpectedRevision,
		})
	}
	if err != nil {
		return nil, err
	}

	if in.Title != "" && in.Title != note.Title {
		if err := s.notes.UpdateTitle(ctx, in.NoteID, in.Title, s.clock.Now()); err != nil {
			return nil, err
		}
	}

	result := &SaveResult{Version: version}
	if in.SignOnSave {
		result.Signature, err = s.ledger.SignNote(ctx, in.NoteID, in.Author, in.IPAddress)
		if err != nil {
			return nil, err
		}
	}

	if result.Note, err = s.GetNote(ctx, in.NoteID); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *NoteService) RevertToVersion(ctx context.Context, in RevertInput) (*domain.Version, error) {
	if err := s.ensureEditable(ctx, in.NoteID); err != nil {
		return nil, err
	}
	return s.versions.RevertToVersion(ctx, in)
}

func (s *NoteService) History(ctx context.Context, noteID string) ([]domain.Version, error) {
	return s.versions.GetHistory(ctx, noteID)
}

func (s *NoteService) Version(ctx context.Context, noteID, versionID string) (*domain.Version, error) {
	return s.versions.GetVersion(ctx, noteID, versionID)
}

func (s *NoteService) CurrentVersion(ctx context.Context, noteID string) (*domain.Version, error) {
	return s.versions.GetCurrentVersion(ctx, noteID)
}

func (s *NoteService) CompareVersions(ctx context.Context, noteID, versionA, versionB string) (*domain.VersionDiff, error) {
	return s.versions.CompareVersions(ctx, noteID, versionA, versionB)
}

// StartTracking и RegisterChange явно отказывают для подписанной заметки,
// чтобы клиент мог показать причину
func (s *NoteService) StartTracking(ctx context.Context, noteID, content, title string, user domain.Actor) error {
	if _, err := s.notes.GetByID(ctx, noteID); err != nil {
		return err
	}
	if err := s.ensureEditable(ctx, noteID); err != nil {
		return err
	}
	return s.tracker.StartTracking(ctx, noteID, content, title, user.ID)
}

func (s *NoteService) RegisterChange(ctx context.Context, noteID, content, title string, user domain.Actor) error {
	if _, err := s.notes.GetByID(ctx, noteID); err != nil {
		return err
	}
	if err := s.ensureEditable(ctx, noteID); err != nil {
		return err
	}
	return s.tracker.RegisterChange(ctx, noteID, content, title, user.ID)
}

func (s *NoteService) ForceSave(ctx context.Context, noteID string) (bool, error) {
	return s.tracker.ForceSave(ctx, noteID)
}

func (s *NoteService) StopTracking(noteID string) {
	s.tracker.StopTracking(noteID)
}

func (s *NoteService) GetAutoSave(ctx context.Context, noteID string) (*AutoSaveState, error) {
	snapshot, err := s.tracker.GetAutoSavedData(ctx, noteID)
	if err != nil {
		return nil, err
	}
	dirty, err := s.tracker.HasUnsavedChanges(ctx, noteID)
	if err != nil {
		return nil, err
	}
	return &AutoSaveState{Snapshot: snapshot, HasUnsavedChanges: dirty}, nil
}

func (s *NoteService) Sign(ctx context.Context, noteID string, signer domain.Actor, ipAddress string) (*SignatureResult, error) {
	if _, err := s.notes.GetByID(ctx, noteID); err != nil {
		return nil, err
	}
	signature, err := s.ledger.SignNote(ctx, noteID, signer, ipAddress)
	if err != nil {
		return nil, err
	}
	return s.signatureResult(ctx, noteID, signature)
}

func (s *NoteService) CoSign(ctx context.Context, noteID string, signer domain.Actor, ipAddress string) (*SignatureResult, error) {
	if _, err := s.notes.GetByID(ctx, noteID); err != nil {
		return nil, err
	}
	signature, err := s.ledger.CoSignNote(ctx, noteID, signer, ipAddress)
	if err != nil {
		return nil, err
	}
	return s.signatureResult(ctx, noteID, signature)
}

func (s *NoteService) signatureResult(ctx context.Context, noteID string, signature *domain.Signature) (*SignatureResult, error) {
	note, err := s.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	return &SignatureResult{Note: note, Signature: signature}, nil
}

func (s *NoteService) Unlock(ctx context.Context, noteID string, actor domain.Actor, reason string) (*domain.Note, error) {
	if err := s.ledger.UnlockNote(ctx, noteID, actor, reason); err != nil {
		return nil, err
	}
	return s.GetNote(ctx, noteID)
}

func (s *NoteService) InvalidateSignature(ctx context.Context, noteID, signatureID string, actor domain.Actor, reason string) (*domain.Note, error) {
	if err := s.ledger.InvalidateSignature(ctx, noteID, signatureID, actor.ID, reason); err != nil {
		return nil, err
	}
	return s.GetNote(ctx, noteID)
}

func (s *NoteService) RequestCoSignature(ctx context.Context, in RequestInput) (*domain.SignatureRequest, error) {
	if _, err := s.notes.GetByID(ctx, in.NoteID); err != nil {
		return nil, err
	}
	return s.ledger.RequestCoSignature(ctx, in)
}

func (s *NoteService) RejectCoSignatureRequest(ctx context.Context, noteID, requestID string, user domain.Actor, reason string) error {
	return s.ledger.RejectCoSignatureRequest(ctx, noteID, requestID, user.ID, reason)
}

func (s *NoteService) PendingRequests(ctx context.Context, userID string) ([]domain.SignatureRequest, error) {
	return s.ledger.GetPendingRequestsForUser(ctx, userID)
}

func (s *NoteService) Signatures(ctx context.Context, noteID string) (*domain.SignedNote, error) {
	return s.ledger.GetNoteSignatures(ctx, noteID)
}

func (s *NoteService) IsLocked(ctx context.Context, noteID string) (bool, error) {
	return s.ledger.IsNoteLocked(ctx, noteID)
}
