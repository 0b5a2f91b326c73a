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

// BlobRepo хранит содержимое версий в таблице note_blobs.
// Используется вместо S3, когда внешнее хранилище не настроено.
type BlobRepo struct {
	db *sqlx.DB
}

func NewBlobRepository(db *sqlx.DB) *BlobRepo {
	return &BlobRepo{db: db}
}

func (r *BlobRepo) Put(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	query := r.db.Rebind(`
        INSERT INTO note_blobs (blob_key, data, updated_at)
        VALUES (?, ?, ?)
        ON CONFLICT (blob_key) DO UPDATE
        SET data = excluded.data, updated_at = excluded.updated_at`)

	if _, err := r.db.ExecContext(ctx, query, key, data, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to store blob: %w", err)
	}
	return nil
}

func (r *BlobRepo) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := r.db.GetContext(ctx, &data, r.db.Rebind(`SELECT data FROM note_blobs WHERE blob_key = ?`), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	return data, nil
}
