package memory

import (
	"context"
	"fmt"
	"sync"

	"clinicnotes/internal/domain"
)

type LedgerRepository struct {
	mu      sync.Mutex
	ledgers map[string]*domain.SignedNote
}

func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{ledgers: make(map[string]*domain.SignedNote)}
}

func (r *LedgerRepository) Create(_ context.Context, ledger *domain.SignedNote) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ledgers[ledger.NoteID]; ok {
		return false, nil
	}
	r.ledgers[ledger.NoteID] = ledger.Clone()
	return true, nil
}

func (r *LedgerRepository) Get(_ context.Context, noteID string) (*domain.SignedNote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ledger, ok := r.ledgers[noteID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrLedgerNotFound, noteID)
	}
	return ledger.Clone(), nil
}

// Update работает с копией журнала, поэтому ошибка из fn ничего не меняет
func (r *LedgerRepository) Update(_ context.Context, noteID string, fn func(*domain.SignedNote) error) (*domain.SignedNote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ledger, ok := r.ledgers[noteID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrLedgerNotFound, noteID)
	}

	working := ledger.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	r.ledgers[noteID] = working
	return working.Clone(), nil
}

func (r *LedgerRepository) ListPendingRequests(_ context.Context, userID string) ([]domain.SignatureRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []domain.SignatureRequest
	for _, ledger := range r.ledgers {
		for _, req := range ledger.Requests {
			if req.RequestedToUserID == userID && req.Status == domain.RequestStatusPending {
				result = append(result, req)
			}
		}
	}
	return result, nil
}
