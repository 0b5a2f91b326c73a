package domain

import "time"

// AutoSaveSnapshot - последнее зарегистрированное состояние редактора.
// SavedAt обновляется при каждой попытке автосохранения.
type AutoSaveSnapshot struct {
	NoteID    string     `json:"note_id" db:"note_id"`
	Content   string     `json:"content" db:"content"`
	Title     string     `json:"title" db:"title"`
	AuthorID  string     `json:"author_id" db:"author_id"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	SavedAt   *time.Time `json:"saved_at,omitempty" db:"saved_at"`
}
