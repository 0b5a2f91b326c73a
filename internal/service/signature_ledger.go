package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"clinicnotes/internal/clock"
	"clinicnotes/internal/domain"
	"clinicnotes/internal/logger"
	"clinicnotes/internal/metrics"
	"clinicnotes/internal/repository"
)

type RequestInput struct {
	NoteID  string
	From    domain.Actor
	To      domain.Actor
	Message string
}

// SignatureLedger ведёт подписи, запросы на соподпись и флаг блокировки.
// Каждое изменение выполняется одним атомарным обновлением журнала.
type SignatureLedger struct {
	repo    repository.LedgerRepository
	clock   clock.Clock
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewSignatureLedger(
	repo repository.LedgerRepository,
	clk clock.Clock,
	log zerolog.Logger,
	m *metrics.Metrics,
) *SignatureLedger {
	return &SignatureLedger{
		repo:    repo,
		clock:   clk,
		log:     logger.Component(log, "signature_ledger"),
		metrics: m,
	}
}

// InitializeNote создаёт пустой журнал, если его ещё нет
func (l *SignatureLedger) InitializeNote(ctx context.Context, noteID string) error {
	now := l.clock.Now()
	created, err := l.repo.Create(ctx, &domain.SignedNote{
		NoteID:    noteID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize signature ledger: %w", err)
	}
	if created {
		l.log.Debug().Str("note_id", noteID).Msg("signature ledger initialized")
	}
	return nil
}

// SignNote ставит основную подпись и блокирует заметку.
// Действующая основная подпись при этом замещается.
func (l *SignatureLedger) SignNote(ctx context.Context, noteID string, signer domain.Actor, ipAddress string) (*domain.Signature, error) {
	if err := l.InitializeNote(ctx, noteID); err != nil {
		return nil, err
	}

	var (
		signature  domain.Signature
		superseded string
	)
	_, err := l.repo.Update(ctx, noteID, func(ledger *domain.SignedNote) error {
		now := l.clock.Now()

		if prev := ledger.PrimarySignature(); prev != nil {
			prev.Invalidate(signer.ID, domain.SupersededReason, now)
			superseded = prev.ID
		}

		signature = newSignature(noteID, signer, ipAddress, domain.SignatureTypePrimary, now)
		ledger.Signatures = append(ledger.Signatures, signature)
		ledger.Locked = true
		ledger.LockedAt = &now
		ledger.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign note: %w", err)
	}

	l.metrics.SignaturesIssued.WithLabelValues(string(domain.SignatureTypePrimary)).Inc()
	event := l.log.Info().
		Str("note_id", noteID).
		Str("signature_id", signature.ID).
		Str("signer_id", signer.ID)
	if superseded != "" {
		l.metrics.SignaturesInvalidated.Inc()
		event = event.Str("superseded_id", superseded)
	}
	event.Msg("note signed")

	return &signature, nil
}

// CoSignNote добавляет соподпись. Журнал должен существовать: иначе
// возвращается domain.ErrLedgerNotFound. Ожидающие запросы к подписанту закрываются.
func (l *SignatureLedger) CoSignNote(ctx context.Context, noteID string, signer domain.Actor, ipAddress string) (*domain.Signature, error) {
	var (
		signature  domain.Signature
		superseded int
		completed  int
	)
	_, err := l.repo.Update(ctx, noteID, func(ledger *domain.SignedNote) error {
		now := l.clock.Now()

		for i := range ledger.Signatures {
			sig := &ledger.Signatures[i]
			if sig.Type == domain.SignatureTypeCoSign && sig.IsValid && sig.SignerID == signer.ID {
				sig.Invalidate(signer.ID, domain.SupersededReason, now)
				superseded++
			}
		}

		signature = newSignature(noteID, signer, ipAddress, domain.SignatureTypeCoSign, now)
		ledger.Signatures = append(ledger.Signatures, signature)

		for i := range ledger.Requests {
			req := &ledger.Requests[i]
			if req.RequestedToUserID == signer.ID && req.Status == domain.RequestStatusPending {
				req.Status = domain.RequestStatusCompleted
				req.CompletedAt = &now
				req.UpdatedAt = now
				completed++
			}
		}

		ledger.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to co-sign note: %w", err)
	}

	l.metrics.SignaturesIssued.WithLabelValues(string(domain.SignatureTypeCoSign)).Inc()
	l.metrics.SignaturesInvalidated.Add(float64(superseded))
	l.metrics.CoSignRequests.WithLabelValues(string(domain.RequestStatusCompleted)).Add(float64(completed))
	l.log.Info().
		Str("note_id", noteID).
		Str("signature_id", signature.ID).
		Str("signer_id", signer.ID).
		Int("completed_requests", completed).
		Msg("note co-signed")

	return &signature, nil
}

func newSignature(noteID string, signer domain.Actor, ipAddress string, typ domain.SignatureType, at time.Time) domain.Signature {
	return domain.Signature{
		ID:         uuid.New().String(),
		NoteID:     noteID,
		SignerID:   signer.ID,
		SignerName: signer.Name,
		SignerRole: signer.Role,
		SignedAt:   at,
		Type:       typ,
		IPAddress:  ipAddress,
		IsValid:    true,
	}
}

// InvalidateSignature отзывает основную подпись или соподпись.
// Блокировку заметки не снимает.
func (l *SignatureLedger) InvalidateSignature(ctx context.Context, noteID, signatureID, invalidatedBy, reason string) error {
	_, err := l.repo.Update(ctx, noteID, func(ledger *domain.SignedNote) error {
		sig := ledger.FindSignature(signatureID)
		if sig == nil {
			return fmt.Errorf("%w: %s", domain.ErrSignatureNotFound, signatureID)
		}
		if !sig.IsValid {
			return fmt.Errorf("%w: signature %s is already invalid", domain.ErrInvalidPrecondition, signatureID)
		}

		now := l.clock.Now()
		sig.Invalidate(invalidatedBy, reason, now)
		ledger.UpdatedAt = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate signature: %w", err)
	}

	l.metrics.SignaturesInvalidated.Inc()
	l.log.Info().
		Str("note_id", noteID).
		Str("signature_id", signatureID).
		Str("invalidated_by", invalidatedBy).
		Msg("signature invalidated")
	return nil
}

// UnlockNote открывает заметку для правки. Подписи остаются в журнале.
func (l *SignatureLedger) UnlockNote(ctx context.Context, noteID string, actor domain.Actor, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.ErrReasonRequired
	}

	_, err := l.repo.Update(ctx, noteID, func(ledger *domain.SignedNote) error {
		if !ledger.Locked {
			return fmt.Errorf("%w: %s", domain.ErrNotLocked, noteID)
		}

		now := l.clock.Now()
		ledger.Locked = false
		ledger.UnlockedAt = &now
		ledger.UnlockedBy = &actor.ID
		ledger.UnlockReason = &reason
		ledger.UpdatedAt = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to unlock note: %w", err)
	}

	l.metrics.NotesUnlocked.Inc()
	l.log.Info().
		Str("note_id", noteID).
		Str("user_id", actor.ID).
		Str("reason", reason).
		Msg("note unlocked")
	return nil
}

// LockNote блокирует заметку без подписи
func (l *SignatureLedger) LockNote(ctx context.Context, noteID string) error {
	_, err := l.repo.Update(ctx, noteID, func(ledger *domain.SignedNote) error {
		now := l.clock.Now()
		ledger.Locked = true
		ledger.LockedAt = &now
		ledger.UpdatedAt = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to lock note: %w", err)
	}
	return nil
}

func (l *SignatureLedger) RequestCoSignature(ctx context.Context, in RequestInput) (*domain.SignatureRequest, error) {
	if in.To.ID == "" {
		return nil, fmt.Errorf("%w: requested user is required", domain.ErrInvalidPrecondition)
	}
	if err := l.InitializeNote(ctx, in.NoteID); err != nil {
		return nil, err
	}

	var request domain.SignatureRequest
	_, err := l.repo.Update(ctx, in.NoteID, func(ledger *domain.SignedNote) error {
		now := l.clock.Now()
		request = domain.SignatureRequest{
			ID:                uuid.New().String(),
			NoteID:            in.NoteID,
			RequestedByUserID: in.From.ID,
			RequestedByName:   in.From.Name,
			RequestedToUserID: in.To.ID,
			RequestedToName:   in.To.Name,
			Status:            domain.RequestStatusPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if in.Message != "" {
			message := in.Message
			request.Message = &message
		}

		ledger.Requests = append(ledger.Requests, request)
		ledger.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request co-signature: %w", err)
	}

	l.metrics.CoSignRequests.WithLabelValues(string(domain.RequestStatusPending)).Inc()
	l.log.Info().
		Str("note_id", in.NoteID).
		Str("request_id", request.ID).
		Str("from_user_id", in.From.ID).
		Str("to_user_id", in.To.ID).
		Msg("co-signature requested")
	return &request, nil
}

// RejectCoSignatureRequest отклоняет ожидающий запрос. Отклонить может только адресат.
func (l *SignatureLedger) RejectCoSignatureRequest(ctx context.Context, noteID, requestID, rejectingUserID, reason string) error {
	_, err := l.repo.Update(ctx, noteID, func(ledger *domain.SignedNote) error {
		req := ledger.FindRequest(requestID)
		if req == nil || req.Status != domain.RequestStatusPending {
			return fmt.Errorf("%w: %s", domain.ErrRequestNotFound, requestID)
		}
		if req.RequestedToUserID != rejectingUserID {
			return fmt.Errorf("%w: request %s is not addressed to user %s",
				domain.ErrInvalidPrecondition, requestID, rejectingUserID)
		}

		now := l.clock.Now()
		req.Status = domain.RequestStatusRejected
		req.RejectedAt = &now
		req.UpdatedAt = now
		if reason != "" {
			req.RejectionReason = &reason
		}
		ledger.UpdatedAt = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reject co-signature request: %w", err)
	}

	l.metrics.CoSignRequests.WithLabelValues(string(domain.RequestStatusRejected)).Inc()
	l.log.Info().
		Str("note_id", noteID).
		Str("request_id", requestID).
		Str("user_id", rejectingUserID).
		Msg("co-signature request rejected")
	return nil
}

// IsNoteLocked возвращает false для заметок без журнала
func (l *SignatureLedger) IsNoteLocked(ctx context.Context, noteID string) (bool, error) {
	ledger, err := l.repo.Get(ctx, noteID)
	if err != nil {
		if errors.Is(err, domain.ErrLedgerNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check lock state: %w", err)
	}
	return ledger.Locked, nil
}

func (l *SignatureLedger) GetNoteSignatures(ctx context.Context, noteID string) (*domain.SignedNote, error) {
	return l.repo.Get(ctx, noteID)
}

func (l *SignatureLedger) GetPendingRequestsForUser(ctx context.Context, userID string) ([]domain.SignatureRequest, error) {
	requests, err := l.repo.ListPendingRequests(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	return requests, nil
}
