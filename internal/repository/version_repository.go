package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"clinicnotes/internal/domain"
)

const versionColumns = `id, note_id, number, content_hash, content_key, created_at, author_id, author_name, reason, is_pristine`

type VersionRepo struct {
	db *sqlx.DB
}

func NewVersionRepository(db *sqlx.DB) *VersionRepo {
	return &VersionRepo{db: db}
}

// forUpdate блокирует строку заголовка в postgres; sqlite сериализует запись сам
func (r *VersionRepo) forUpdate() string {
	if r.db.DriverName() == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}

func (r *VersionRepo) CreateHistory(ctx context.Context, v *domain.Version) (*domain.VersionHistory, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	head := &domain.VersionHistory{
		NoteID:           v.NoteID,
		CurrentVersionID: v.ID,
		Revision:         1,
		CreatedAt:        v.CreatedAt,
		UpdatedAt:        v.CreatedAt,
	}

	// Заголовок вставляется первым: на него ссылается внешний ключ версий
	result, err := tx.ExecContext(ctx, tx.Rebind(`
        INSERT INTO version_histories (note_id, current_version_id, revision, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (note_id) DO NOTHING`),
		head.NoteID, head.CurrentVersionID, head.Revision, head.CreatedAt, head.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create version history: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyInitialized, v.NoteID)
	}

	v.Number = 1
	if err := insertVersion(ctx, tx, v); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return head, nil
}

func (r *VersionRepo) Append(ctx context.Context, v *domain.Version, expectedRevision int64) (*domain.VersionHistory, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var head domain.VersionHistory
	err = tx.GetContext(ctx, &head, tx.Rebind(`
        SELECT note_id, current_version_id, revision, created_at, updated_at
        FROM version_histories WHERE note_id = ?`+r.forUpdate()), v.NoteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrHistoryNotFound, v.NoteID)
		}
		return nil, fmt.Errorf("failed to get version history: %w", err)
	}

	if expectedRevision > 0 && head.Revision != expectedRevision {
		return nil, fmt.Errorf("%w: expected revision %d, current %d",
			domain.ErrConcurrentModification, expectedRevision, head.Revision)
	}

	v.Number = head.Revision + 1
	if err := insertVersion(ctx, tx, v); err != nil {
		return nil, err
	}

	// compare-and-swap по ревизии
	result, err := tx.ExecContext(ctx, tx.Rebind(`
        UPDATE version_histories
        SET current_version_id = ?, revision = ?, updated_at = ?
        WHERE note_id = ? AND revision = ?`),
		v.ID, v.Number, v.CreatedAt, v.NoteID, head.Revision,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to advance version history: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: revision %d changed", domain.ErrConcurrentModification, head.Revision)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	head.CurrentVersionID = v.ID
	head.Revision = v.Number
	head.UpdatedAt = v.CreatedAt
	return &head, nil
}

func insertVersion(ctx context.Context, tx *sqlx.Tx, v *domain.Version) error {
	_, err := tx.NamedExecContext(ctx, `
        INSERT INTO note_versions (`+versionColumns+`)
        VALUES (:id, :note_id, :number, :content_hash, :content_key, :created_at,
                :author_id, :author_name, :reason, :is_pristine)`, v)
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}
	return nil
}

func (r *VersionRepo) GetHistory(ctx context.Context, noteID string) (*domain.VersionHistory, error) {
	var head domain.VersionHistory
	err := r.db.GetContext(ctx, &head, r.db.Rebind(`
        SELECT note_id, current_version_id, revision, created_at, updated_at
        FROM version_histories WHERE note_id = ?`), noteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrHistoryNotFound, noteID)
		}
		return nil, fmt.Errorf("failed to get version history: %w", err)
	}
	return &head, nil
}

func (r *VersionRepo) ListVersions(ctx context.Context, noteID string) ([]domain.Version, error) {
	var versions []domain.Version
	query := r.db.Rebind(`
        SELECT ` + versionColumns + ` FROM note_versions
        WHERE note_id = ?
        ORDER BY number DESC`)

	if err := r.db.SelectContext(ctx, &versions, query, noteID); err != nil {
		return nil, fmt.Errorf("failed to get note versions: %w", err)
	}
	return versions, nil
}

func (r *VersionRepo) GetVersion(ctx context.Context, noteID, versionID string) (*domain.Version, error) {
	var v domain.Version
	query := r.db.Rebind(`SELECT ` + versionColumns + ` FROM note_versions WHERE note_id = ? AND id = ?`)

	err := r.db.GetContext(ctx, &v, query, noteID, versionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, versionID)
		}
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return &v, nil
}
