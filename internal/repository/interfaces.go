package repository

import (
	"context"
	"time"

	"clinicnotes/internal/domain"
)

// NoteRepository хранит метаданные заметок
type NoteRepository interface {
	Create(ctx context.Context, note *domain.Note) error
	// GetByID возвращает domain.ErrNoteNotFound, если заметки нет
	GetByID(ctx context.Context, id string) (*domain.Note, error)
	UpdateTitle(ctx context.Context, id string, title string, at time.Time) error
}

// VersionRepository хранит историю версий. Версии только добавляются.
type VersionRepository interface {
	// CreateHistory атомарно создаёт заголовок истории и первую версию.
	// Возвращает domain.ErrAlreadyInitialized, если история уже есть.
	CreateHistory(ctx context.Context, v *domain.Version) (*domain.VersionHistory, error)
	// Append добавляет версию и переводит указатель текущей версии.
	// Если expectedRevision > 0 и не совпадает с сохранённой ревизией,
	// возвращает domain.ErrConcurrentModification. Заполняет v.Number.
	Append(ctx context.Context, v *domain.Version, expectedRevision int64) (*domain.VersionHistory, error)
	GetHistory(ctx context.Context, noteID string) (*domain.VersionHistory, error)
	// ListVersions возвращает версии от новой к старой
	ListVersions(ctx context.Context, noteID string) ([]domain.Version, error)
	GetVersion(ctx context.Context, noteID, versionID string) (*domain.Version, error)
}

// LedgerRepository хранит журнал подписей как агрегат
type LedgerRepository interface {
	// Create создаёт пустой журнал; false, если журнал уже существовал
	Create(ctx context.Context, ledger *domain.SignedNote) (bool, error)
	Get(ctx context.Context, noteID string) (*domain.SignedNote, error)
	// Update загружает журнал, применяет fn и сохраняет результат атомарно.
	// Ошибка из fn отменяет изменения и возвращается как есть.
	Update(ctx context.Context, noteID string, fn func(*domain.SignedNote) error) (*domain.SignedNote, error)
	ListPendingRequests(ctx context.Context, userID string) ([]domain.SignatureRequest, error)
}

// SnapshotRepository хранит по одному снимку автосохранения на заметку
type SnapshotRepository interface {
	Get(ctx context.Context, noteID string) (*domain.AutoSaveSnapshot, error)
	Save(ctx context.Context, snapshot *domain.AutoSaveSnapshot) error
}

var (
	_ NoteRepository     = (*NoteRepo)(nil)
	_ VersionRepository  = (*VersionRepo)(nil)
	_ LedgerRepository   = (*LedgerRepo)(nil)
	_ SnapshotRepository = (*SnapshotRepo)(nil)
)
