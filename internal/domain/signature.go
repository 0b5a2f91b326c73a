// domain/signature.go
package domain

import "time"

type SignatureType string
type RequestStatus string

const (
	SignatureTypePrimary SignatureType = "primary"
	SignatureTypeCoSign  SignatureType = "co-signature"

	RequestStatusPending   RequestStatus = "pending"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusRejected  RequestStatus = "rejected"
)

const SupersededReason = "Superseded by new signature"

// Signature никогда не удаляется: при отзыве IsValid становится false,
// а поля Invalidated* заполняются одновременно.
type Signature struct {
	ID                string        `json:"id" db:"id"`
	NoteID            string        `json:"note_id" db:"note_id"`
	SignerID          string        `json:"signer_id" db:"signer_id"`
	SignerName        string        `json:"signer_name" db:"signer_name"`
	SignerRole        string        `json:"signer_role" db:"signer_role"`
	SignedAt          time.Time     `json:"signed_at" db:"signed_at"`
	Type              SignatureType `json:"type" db:"signature_type"`
	IPAddress         string        `json:"ip_address,omitempty" db:"ip_address"`
	IsValid           bool          `json:"is_valid" db:"is_valid"`
	InvalidatedReason *string       `json:"invalidated_reason,omitempty" db:"invalidated_reason"`
	InvalidatedAt     *time.Time    `json:"invalidated_at,omitempty" db:"invalidated_at"`
	InvalidatedBy     *string       `json:"invalidated_by,omitempty" db:"invalidated_by"`
}

// Invalidate помечает подпись недействительной
func (s *Signature) Invalidate(by, reason string, at time.Time) {
	s.IsValid = false
	s.InvalidatedBy = &by
	s.InvalidatedReason = &reason
	s.InvalidatedAt = &at
}

type SignatureRequest struct {
	ID                string        `json:"id" db:"id"`
	NoteID            string        `json:"note_id" db:"note_id"`
	RequestedByUserID string        `json:"requested_by_user_id" db:"requested_by_user_id"`
	RequestedByName   string        `json:"requested_by_name" db:"requested_by_name"`
	RequestedToUserID string        `json:"requested_to_user_id" db:"requested_to_user_id"`
	RequestedToName   string        `json:"requested_to_name" db:"requested_to_name"`
	Status            RequestStatus `json:"status" db:"status"`
	Message           *string       `json:"message,omitempty" db:"message"`
	RejectionReason   *string       `json:"rejection_reason,omitempty" db:"rejection_reason"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	RejectedAt        *time.Time    `json:"rejected_at,omitempty" db:"rejected_at"`
}

// SignedNote - запись журнала подписей одной заметки
type SignedNote struct {
	NoteID       string     `json:"note_id" db:"note_id"`
	Locked       bool       `json:"locked" db:"locked"`
	LockedAt     *time.Time `json:"locked_at,omitempty" db:"locked_at"`
	UnlockedAt   *time.Time `json:"unlocked_at,omitempty" db:"unlocked_at"`
	UnlockedBy   *string    `json:"unlocked_by,omitempty" db:"unlocked_by"`
	UnlockReason *string    `json:"unlock_reason,omitempty" db:"unlock_reason"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`

	Signatures []Signature        `json:"signatures" db:"-"`
	Requests   []SignatureRequest `json:"requests" db:"-"`
}

// PrimarySignature возвращает действующую основную подпись
func (n *SignedNote) PrimarySignature() *Signature {
	for i := range n.Signatures {
		if n.Signatures[i].Type == SignatureTypePrimary && n.Signatures[i].IsValid {
			return &n.Signatures[i]
		}
	}
	return nil
}

func (n *SignedNote) ValidCoSignatures() []Signature {
	var result []Signature
	for _, sig := range n.Signatures {
		if sig.Type == SignatureTypeCoSign && sig.IsValid {
			result = append(result, sig)
		}
	}
	return result
}

func (n *SignedNote) FindSignature(signatureID string) *Signature {
	for i := range n.Signatures {
		if n.Signatures[i].ID == signatureID {
			return &n.Signatures[i]
		}
	}
	return nil
}

func (n *SignedNote) FindRequest(requestID string) *SignatureRequest {
	for i := range n.Requests {
		if n.Requests[i].ID == requestID {
			return &n.Requests[i]
		}
	}
	return nil
}

// Clone возвращает глубокую копию, чтобы хранилища не отдавали наружу свои данные
func (n *SignedNote) Clone() *SignedNote {
	c := *n
	c.Signatures = append([]Signature(nil), n.Signatures...)
	c.Requests = append([]SignatureRequest(nil), n.Requests...)
	return &c
}
