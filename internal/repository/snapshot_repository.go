package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"clinicnotes/internal/domain"
)

type SnapshotRepo struct {
	db *sqlx.DB
}

func NewSnapshotRepository(db *sqlx.DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

func (r *SnapshotRepo) Get(ctx context.Context, noteID string) (*domain.AutoSaveSnapshot, error) {
	var snapshot domain.AutoSaveSnapshot
	query := r.db.Rebind(`
        SELECT note_id, content, title, author_id, updated_at, saved_at
        FROM autosave_snapshots WHERE note_id = ?`)

	err := r.db.GetContext(ctx, &snapshot, query, noteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, noteID)
		}
		return nil, fmt.Errorf("failed to get auto-save snapshot: %w", err)
	}
	return &snapshot, nil
}

func (r *SnapshotRepo) Save(ctx context.Context, snapshot *domain.AutoSaveSnapshot) error {
	_, err := r.db.NamedExecContext(ctx, `
        INSERT INTO autosave_snapshots (note_id, content, title, author_id, updated_at, saved_at)
        VALUES (:note_id, :content, :title, :author_id, :updated_at, :saved_at)
        ON CONFLICT (note_id) DO UPDATE
        SET content = excluded.content,
            title = excluded.title,
            author_id = excluded.author_id,
            updated_at = excluded.updated_at,
            saved_at = excluded.saved_at`, snapshot)
	if err != nil {
		return fmt.Errorf("failed to save auto-save snapshot: %w", err)
	}
	return nil
}
