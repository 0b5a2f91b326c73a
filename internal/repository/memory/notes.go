// Package memory содержит реализации репозиториев в памяти процесса
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"clinicnotes/internal/domain"
)

type NoteRepository struct {
	mu    sync.RWMutex
	notes map[string]domain.Note
}

func NewNoteRepository() *NoteRepository {
	return &NoteRepository{notes: make(map[string]domain.Note)}
}

func (r *NoteRepository) Create(_ context.Context, note *domain.Note) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.notes[note.ID]; ok {
		return fmt.Errorf("note %s already exists", note.ID)
	}
	r.notes[note.ID] = *note
	return nil
}

func (r *NoteRepository) GetByID(_ context.Context, id string) (*domain.Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	note, ok := r.notes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoteNotFound, id)
	}
	return &note, nil
}

func (r *NoteRepository) UpdateTitle(_ context.Context, id string, title string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	note, ok := r.notes[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNoteNotFound, id)
	}
	note.Title = title
	note.UpdatedAt = at
	r.notes[id] = note
	return nil
}
