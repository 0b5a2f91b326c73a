// domain/note.go
package domain

import "time"

type NoteStatus string

const (
	NoteStatusDraft    NoteStatus = "draft"
	NoteStatusSigned   NoteStatus = "signed"
	NoteStatusCoSigned NoteStatus = "co-signed"
	NoteStatusReopened NoteStatus = "reopened"
)

// Note хранит только метаданные заметки. Статус, блокировка и текущая версия
// вычисляются из журнала подписей и истории версий при каждом чтении.
type Note struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	Status           NoteStatus `json:"status" db:"-"`
	Locked           bool       `json:"locked" db:"-"`
	CurrentVersionID string     `json:"current_version_id,omitempty" db:"-"`
	Revision         int64      `json:"revision" db:"-"`
}

// Actor - пользователь, от имени которого выполняется операция
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// DeriveStatus вычисляет статус заметки по состоянию журнала подписей.
// nil означает, что журнал ещё не создан.
func DeriveStatus(ledger *SignedNote) NoteStatus {
	if ledger == nil {
		return NoteStatusDraft
	}
	if ledger.Locked {
		if len(ledger.ValidCoSignatures()) > 0 {
			return NoteStatusCoSigned
		}
		return NoteStatusSigned
	}
	if ledger.UnlockedAt != nil {
		return NoteStatusReopened
	}
	return NoteStatusDraft
}
