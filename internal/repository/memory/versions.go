package memory

import (
	"context"
	"fmt"
	"sync"

	"clinicnotes/internal/domain"
)

type history struct {
	head     domain.VersionHistory
	versions []domain.Version
}

type VersionRepository struct {
	mu        sync.RWMutex
	histories map[string]*history
}

func NewVersionRepository() *VersionRepository {
	return &VersionRepository{histories: make(map[string]*history)}
}

// store сохраняет только метаданные: содержимое живёт в хранилище блобов
func store(v *domain.Version) domain.Version {
	c := *v
	c.Content = ""
	return c
}

func (r *VersionRepository) CreateHistory(_ context.Context, v *domain.Version) (*domain.VersionHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.histories[v.NoteID]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyInitialized, v.NoteID)
	}

	v.Number = 1
	h := &history{
		head: domain.VersionHistory{
			NoteID:           v.NoteID,
			CurrentVersionID: v.ID,
			Revision:         1,
			CreatedAt:        v.CreatedAt,
			UpdatedAt:        v.CreatedAt,
		},
		versions: []domain.Version{store(v)},
	}
	r.histories[v.NoteID] = h

	head := h.head
	return &head, nil
}

func (r *VersionRepository) Append(_ context.Context, v *domain.Version, expectedRevision int64) (*domain.VersionHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.histories[v.NoteID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrHistoryNotFound, v.NoteID)
	}
	if expectedRevision > 0 && h.head.Revision != expectedRevision {
		return nil, fmt.Errorf("%w: expected revision %d, current %d",
			domain.ErrConcurrentModification, expectedRevision, h.head.Revision)
	}

	v.Number = h.head.Revision + 1
	h.versions = append(h.versions, store(v))
	h.head.CurrentVersionID = v.ID
	h.head.Revision = v.Number
	h.head.UpdatedAt = v.CreatedAt

	head := h.head
	return &head, nil
}

func (r *VersionRepository) GetHistory(_ context.Context, noteID string) (*domain.VersionHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.histories[noteID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrHistoryNotFound, noteID)
	}
	head := h.head
	return &head, nil
}

func (r *VersionRepository) ListVersions(_ context.Context, noteID string) ([]domain.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.histories[noteID]
	if !ok {
		return nil, nil
	}
	result := make([]domain.Version, 0, len(h.versions))
	for i := len(h.versions) - 1; i >= 0; i-- {
		result = append(result, h.versions[i])
	}
	return result, nil
}

func (r *VersionRepository) GetVersion(_ context.Context, noteID, versionID string) (*domain.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.histories[noteID]; ok {
		for _, v := range h.versions {
			if v.ID == versionID {
				return &v, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, versionID)
}
