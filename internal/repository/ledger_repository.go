package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"clinicnotes/internal/domain"
)

const (
	ledgerColumns = `note_id, locked, locked_at, unlocked_at, unlocked_by, unlock_reason, created_at, updated_at`

	signatureColumns = `id, note_id, signer_id, signer_name, signer_role, signed_at, signature_type,
        ip_address, is_valid, invalidated_reason, invalidated_at, invalidated_by`

	requestColumns = `id, note_id, requested_by_user_id, requested_by_name, requested_to_user_id,
        requested_to_name, status, message, rejection_reason, created_at, updated_at, completed_at, rejected_at`
)

type LedgerRepo struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

func (r *LedgerRepo) Create(ctx context.Context, ledger *domain.SignedNote) (bool, error) {
	result, err := r.db.NamedExecContext(ctx, `
        INSERT INTO signature_ledgers (`+ledgerColumns+`)
        VALUES (:note_id, :locked, :locked_at, :unlocked_at, :unlocked_by, :unlock_reason, :created_at, :updated_at)
        ON CONFLICT (note_id) DO NOTHING`, ledger)
	if err != nil {
		return false, fmt.Errorf("failed to create signature ledger: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

func (r *LedgerRepo) Get(ctx context.Context, noteID string) (*domain.SignedNote, error) {
	return loadLedger(ctx, r.db, noteID, "")
}

func (r *LedgerRepo) Update(ctx context.Context, noteID string, fn func(*domain.SignedNote) error) (*domain.SignedNote, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lock := ""
	if r.db.DriverName() == "postgres" {
		lock = " FOR UPDATE"
	}

	ledger, err := loadLedger(ctx, tx, noteID, lock)
	if err != nil {
		return nil, err
	}

	if err := fn(ledger); err != nil {
		return nil, err
	}

	if err := saveLedger(ctx, tx, ledger); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return ledger, nil
}

func (r *LedgerRepo) ListPendingRequests(ctx context.Context, userID string) ([]domain.SignatureRequest, error) {
	var requests []domain.SignatureRequest
	query := r.db.Rebind(`
        SELECT ` + requestColumns + ` FROM signature_requests
        WHERE requested_to_user_id = ? AND status = ?
        ORDER BY seq`)

	err := r.db.SelectContext(ctx, &requests, query, userID, domain.RequestStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending signature requests: %w", err)
	}
	return requests, nil
}

func loadLedger(ctx context.Context, q sqlx.ExtContext, noteID string, lock string) (*domain.SignedNote, error) {
	var ledger domain.SignedNote
	err := sqlx.GetContext(ctx, q, &ledger, q.Rebind(`
        SELECT `+ledgerColumns+` FROM signature_ledgers WHERE note_id = ?`+lock), noteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrLedgerNotFound, noteID)
		}
		return nil, fmt.Errorf("failed to get signature ledger: %w", err)
	}

	err = sqlx.SelectContext(ctx, q, &ledger.Signatures, q.Rebind(`
        SELECT `+signatureColumns+` FROM signatures WHERE note_id = ? ORDER BY seq`), noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to get signatures: %w", err)
	}

	err = sqlx.SelectContext(ctx, q, &ledger.Requests, q.Rebind(`
        SELECT `+requestColumns+` FROM signature_requests WHERE note_id = ? ORDER BY seq`), noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature requests: %w", err)
	}

	return &ledger, nil
}

// saveLedger записывает агрегат целиком: подписи и запросы вставляются
// или обновляются по id, ничего не удаляется
func saveLedger(ctx context.Context, tx *sqlx.Tx, ledger *domain.SignedNote) error {
	_, err := tx.NamedExecContext(ctx, `
        UPDATE signature_ledgers
        SET locked = :locked,
            locked_at = :locked_at,
            unlocked_at = :unlocked_at,
            unlocked_by = :unlocked_by,
            unlock_reason = :unlock_reason,
            updated_at = :updated_at
        WHERE note_id = :note_id`, ledger)
	if err != nil {
		return fmt.Errorf("failed to update signature ledger: %w", err)
	}

	for i := range ledger.Signatures {
		_, err := tx.NamedExecContext(ctx, `
            INSERT INTO signatures (`+signatureColumns+`)
            VALUES (:id, :note_id, :signer_id, :signer_name, :signer_role, :signed_at, :signature_type,
                    :ip_address, :is_valid, :invalidated_reason, :invalidated_at, :invalidated_by)
            ON CONFLICT (id) DO UPDATE
            SET is_valid = excluded.is_valid,
                invalidated_reason = excluded.invalidated_reason,
                invalidated_at = excluded.invalidated_at,
                invalidated_by = excluded.invalidated_by`, &ledger.Signatures[i])
		if err != nil {
			return fmt.Errorf("failed to save signature %s: %w", ledger.Signatures[i].ID, err)
		}
	}

	for i := range ledger.Requests {
		_, err := tx.NamedExecContext(ctx, `
            INSERT INTO signature_requests (`+requestColumns+`)
            VALUES (:id, :note_id, :requested_by_user_id, :requested_by_name, :requested_to_user_id,
                    :requested_to_name, :status, :message, :rejection_reason, :created_at, :updated_at,
                    :completed_at, :rejected_at)
            ON CONFLICT (id) DO UPDATE
            SET status = excluded.status,
                rejection_reason = excluded.rejection_reason,
                updated_at = excluded.updated_at,
                completed_at = excluded.completed_at,
                rejected_at = excluded.rejected_at`, &ledger.Requests[i])
		if err != nil {
			return fmt.Errorf("failed to save signature request %s: %w", ledger.Requests[i].ID, err)
		}
	}

	return nil
}
