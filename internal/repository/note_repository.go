package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"clinicnotes/internal/domain"
)

type NoteRepo struct {
	db *sqlx.DB
}

func NewNoteRepository(db *sqlx.DB) *NoteRepo {
	return &NoteRepo{db: db}
}

func (r *NoteRepo) Create(ctx context.Context, note *domain.Note) error {
	query := r.db.Rebind(`
        INSERT INTO notes (id, title, created_by, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		note.ID,
		note.Title,
		note.CreatedBy,
		note.CreatedAt,
		note.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}
	return nil
}

func (r *NoteRepo) GetByID(ctx context.Context, id string) (*domain.Note, error) {
	var note domain.Note
	query := r.db.Rebind(`SELECT id, title, created_by, created_at, updated_at FROM notes WHERE id = ?`)

	err := r.db.GetContext(ctx, &note, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNoteNotFound, id)
		}
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return &note, nil
}

func (r *NoteRepo) UpdateTitle(ctx context.Context, id string, title string, at time.Time) error {
	query := r.db.Rebind(`UPDATE notes SET title = ?, updated_at = ? WHERE id = ?`)

	result, err := r.db.ExecContext(ctx, query, title, at, id)
	if err != nil {
		return fmt.Errorf("failed to update note title: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNoteNotFound, id)
	}
	return nil
}
