package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clinicnotes/internal/clock"
	"clinicnotes/internal/domain"
	"clinicnotes/internal/logger"
	"clinicnotes/internal/metrics"
	"clinicnotes/internal/repository"
)

const DefaultDebounce = 5 * time.Second

// Исходы автосохранения, они же значения метки outcome
const (
	autoSaveSaved       = "saved"
	autoSaveInitialized = "initialized"
	autoSaveUnchanged   = "unchanged"
	autoSaveLocked      = "skipped_locked"
	autoSaveFailed      = "failed"
)

type pendingSave struct {
	timer clock.Timer
	gen   uint64
}

// AutoSaveTracker хранит последний снимок редактора и сохраняет его
// в историю версий после паузы в изменениях.
type AutoSaveTracker struct {
	versions  *VersionStore
	ledger    *SignatureLedger
	snapshots repository.SnapshotRepository
	clock     clock.Clock
	debounce  time.Duration
	log       zerolog.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	pending map[string]pendingSave
	gen     uint64
	closed  bool
}

func NewAutoSaveTracker(
	versions *VersionStore,
	ledger *SignatureLedger,
	snapshots repository.SnapshotRepository,
	clk clock.Clock,
	debounce time.Duration,
	log zerolog.Logger,
	m *metrics.Metrics,
) *AutoSaveTracker {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &AutoSaveTracker{
		versions:  versions,
		ledger:    ledger,
		snapshots: snapshots,
		clock:     clk,
		debounce:  debounce,
		log:       logger.Component(log, "autosave"),
		metrics:   m,
		pending:   make(map[string]pendingSave),
	}
}

// StartTracking создаёт начальный снимок. Для заблокированной заметки ничего не делает.
func (t *AutoSaveTracker) StartTracking(ctx context.Context, noteID, content, title, userID string) error {
	locked, err := t.ledger.IsNoteLocked(ctx, noteID)
	if err != nil {
		return err
	}
	if locked {
		t.log.Debug().Str("note_id", noteID).Msg("note is locked, tracking not started")
		return nil
	}

	err = t.snapshots.Save(ctx, &domain.AutoSaveSnapshot{
		NoteID:    noteID,
		Content:   content,
		Title:     title,
		AuthorID:  userID,
		UpdatedAt: t.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// RegisterChange заменяет снимок и перезапускает таймер отложенного сохранения.
// Для заблокированной заметки ничего не делает.
func (t *AutoSaveTracker) RegisterChange(ctx context.Context, noteID, content, title, userID string) error {
	locked, err := t.ledger.IsNoteLocked(ctx, noteID)
	if err != nil {
		return err
	}
	if locked {
		t.log.Debug().Str("note_id", noteID).Msg("note is locked, change ignored")
		return nil
	}

	snapshot, err := t.snapshots.Get(ctx, noteID)
	if err != nil {
		if !errors.Is(err, domain.ErrSnapshotNotFound) {
			return fmt.Errorf("failed to get snapshot: %w", err)
		}
		snapshot = &domain.AutoSaveSnapshot{NoteID: noteID}
	}
	snapshot.Content = content
	snapshot.Title = title
	snapshot.AuthorID = userID
	snapshot.UpdatedAt = t.clock.Now()

	if err := t.snapshots.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	t.schedule(noteID)
	return nil
}

// schedule заменяет таймер заметки: выживает только последнее изменение в окне
func (t *AutoSaveTracker) schedule(noteID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	if prev, ok := t.pending[noteID]; ok {
		prev.timer.Stop()
	}

	t.gen++
	gen := t.gen
	t.pending[noteID] = pendingSave{
		timer: t.clock.AfterFunc(t.debounce, func() { t.fire(noteID, gen) }),
		gen:   gen,
	}
	t.metrics.TrackedNotes.Set(float64(len(t.pending)))
}

// cancel снимает таймер заметки; false, если таймера не было
func (t *AutoSaveTracker) cancel(noteID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[noteID]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(t.pending, noteID)
	t.metrics.TrackedNotes.Set(float64(len(t.pending)))
	return true
}

func (t *AutoSaveTracker) fire(noteID string, gen uint64) {
	t.mu.Lock()
	p, ok := t.pending[noteID]
	if !ok || p.gen != gen {
		// таймер уже заменён или отменён
		t.mu.Unlock()
		return
	}
	delete(t.pending, noteID)
	t.metrics.TrackedNotes.Set(float64(len(t.pending)))
	t.mu.Unlock()

	t.saveQuietly(context.Background(), noteID)
}

// saveQuietly выполняет автосохранение и только логирует ошибку
func (t *AutoSaveTracker) saveQuietly(ctx context.Context, noteID string) {
	if err := t.PerformAutoSave(ctx, noteID); err != nil {
		t.metrics.AutoSaveFailures.Inc()
		t.log.Error().Err(err).Str("note_id", noteID).Msg("auto-save failed")
	}
}

// PerformAutoSave сохраняет снимок как версию, если содержимое отличается от текущей.
// SavedAt обновляется в любом случае, кроме заблокированной заметки.
func (t *AutoSaveTracker) PerformAutoSave(ctx context.Context, noteID string) error {
	snapshot, err := t.snapshots.Get(ctx, noteID)
	if err != nil {
		return err
	}

	// заметку могли подписать после регистрации изменения
	locked, err := t.ledger.IsNoteLocked(ctx, noteID)
	if err != nil {
		t.metrics.AutoSaveRuns.WithLabelValues(autoSaveFailed).Inc()
		return err
	}
	if locked {
		t.metrics.AutoSaveRuns.WithLabelValues(autoSaveLocked).Inc()
		t.log.Debug().Str("note_id", noteID).Msg("note is locked, auto-save skipped")
		return nil
	}

	outcome, err := t.promote(ctx, snapshot)
	if err != nil {
		t.metrics.AutoSaveRuns.WithLabelValues(autoSaveFailed).Inc()
		return err
	}

	now := t.clock.Now()
	snapshot.SavedAt = &now
	if err := t.snapshots.Save(ctx, snapshot); err != nil {
		t.metrics.AutoSaveRuns.WithLabelValues(autoSaveFailed).Inc()
		return fmt.Errorf("failed to stamp snapshot: %w", err)
	}

	t.metrics.AutoSaveRuns.WithLabelValues(outcome).Inc()
	t.log.Debug().Str("note_id", noteID).Str("outcome", outcome).Msg("auto-save completed")
	return nil
}

func (t *AutoSaveTracker) promote(ctx context.Context, snapshot *domain.AutoSaveSnapshot) (string, error) {
	author := domain.Actor{ID: snapshot.AuthorID}

	current, err := t.versions.currentVersion(ctx, snapshot.NoteID)
	switch {
	case errors.Is(err, domain.ErrHistoryNotFound):
		if _, err := t.versions.InitializeHistory(ctx, snapshot.NoteID, snapshot.Content, author); err != nil {
			return "", err
		}
		return autoSaveInitialized, nil
	case err != nil:
		return "", fmt.Errorf("failed to get current version: %w", err)
	}

	if current.ContentHash == contentHash(snapshot.Content) {
		return autoSaveUnchanged, nil
	}

	_, err = t.versions.AddVersion(ctx, AddVersionInput{
		NoteID:  snapshot.NoteID,
		Content: snapshot.Content,
		Author:  author,
		Reason:  ReasonAutoSaved,
	})
	if err != nil {
		return "", err
	}
	return autoSaveSaved, nil
}

// ForceSave сохраняет немедленно, минуя таймер; false, если снимка нет
func (t *AutoSaveTracker) ForceSave(ctx context.Context, noteID string) (bool, error) {
	t.cancel(noteID)

	err := t.PerformAutoSave(ctx, noteID)
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		return false, nil
	}
	if err != nil {
		return true, fmt.Errorf("failed to force save: %w", err)
	}
	return true, nil
}

// HasUnsavedChanges сравнивает снимок с текущей версией.
// Без снимка изменений нет, без истории - есть.
func (t *AutoSaveTracker) HasUnsavedChanges(ctx context.Context, noteID string) (bool, error) {
	snapshot, err := t.snapshots.Get(ctx, noteID)
	if err != nil {
		if errors.Is(err, domain.ErrSnapshotNotFound) {
			return false, nil
		}
		return false, err
	}

	current, err := t.versions.currentVersion(ctx, noteID)
	if err != nil {
		if errors.Is(err, domain.ErrHistoryNotFound) {
			return true, nil
		}
		return false, err
	}
	return current.ContentHash != contentHash(snapshot.Content), nil
}

// StopTracking отменяет таймер; снимок остаётся доступным
func (t *AutoSaveTracker) StopTracking(noteID string) {
	if t.cancel(noteID) {
		t.log.Debug().Str("note_id", noteID).Msg("tracking stopped")
	}
}

func (t *AutoSaveTracker) GetAutoSavedData(ctx context.Context, noteID string) (*domain.AutoSaveSnapshot, error) {
	return t.snapshots.Get(ctx, noteID)
}

// Close останавливает все таймеры и один раз сохраняет отложенные изменения
func (t *AutoSaveTracker) Close(ctx context.Context) {
	t.mu.Lock()
	t.closed = true
	noteIDs := make([]string, 0, len(t.pending))
	for noteID, p := range t.pending {
		p.timer.Stop()
		noteIDs = append(noteIDs, noteID)
	}
	t.pending = make(map[string]pendingSave)
	t.metrics.TrackedNotes.Set(0)
	t.mu.Unlock()

	for _, noteID := range noteIDs {
		t.saveQuietly(ctx, noteID)
	}
	t.log.Info().Int("flushed", len(noteIDs)).Msg("auto-save tracker closed")
}
