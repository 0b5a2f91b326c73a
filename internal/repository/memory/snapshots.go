package memory

import (
	"context"
	"fmt"
	"sync"

	"clinicnotes/internal/domain"
)

type SnapshotRepository struct {
	mu        sync.RWMutex
	snapshots map[string]domain.AutoSaveSnapshot
}

func NewSnapshotRepository() *SnapshotRepository {
	return &SnapshotRepository{snapshots: make(map[string]domain.AutoSaveSnapshot)}
}

func (r *SnapshotRepository) Get(_ context.Context, noteID string) (*domain.AutoSaveSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot, ok := r.snapshots[noteID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, noteID)
	}
	return &snapshot, nil
}

func (r *SnapshotRepository) Save(_ context.Context, snapshot *domain.AutoSaveSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[snapshot.NoteID] = *snapshot
	return nil
}
