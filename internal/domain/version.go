// domain/version.go
package domain

import "time"

// Version - неизменяемый снимок содержимого заметки
type Version struct {
	ID          string    `json:"id" db:"id"`
	NoteID      string    `json:"note_id" db:"note_id"`
	Number      int64     `json:"number" db:"number"`
	Content     string    `json:"content" db:"-"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	ContentKey  string    `json:"-" db:"content_key"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	AuthorID    string    `json:"author_id" db:"author_id"`
	AuthorName  string    `json:"author_name" db:"author_name"`
	Reason      string    `json:"reason,omitempty" db:"reason"`
	IsPristine  bool      `json:"is_pristine" db:"is_pristine"`
}

// VersionHistory - заголовок истории версий заметки.
// Revision равен количеству версий и служит счётчиком для compare-and-swap.
type VersionHistory struct {
	NoteID           string    `json:"note_id" db:"note_id"`
	CurrentVersionID string    `json:"current_version_id" db:"current_version_id"`
	Revision         int64     `json:"revision" db:"revision"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

type VersionDiff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}
