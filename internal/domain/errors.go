package domain

import "errors"

var (
	ErrNoteNotFound      = errors.New("note not found")
	ErrHistoryNotFound   = errors.New("version history not found")
	ErrVersionNotFound   = errors.New("version not found")
	ErrLedgerNotFound    = errors.New("signature ledger not found")
	ErrSignatureNotFound = errors.New("signature not found")
	ErrRequestNotFound   = errors.New("pending signature request not found")
	ErrSnapshotNotFound  = errors.New("auto-save snapshot not found")
	ErrBlobNotFound      = errors.New("blob not found")

	ErrAlreadyInitialized     = errors.New("version history already initialized")
	ErrConcurrentModification = errors.New("note was modified concurrently")
	ErrNoteLocked             = errors.New("this note is signed and locked")
	ErrNotLocked              = errors.New("note is not locked")
	ErrReasonRequired         = errors.New("reason is required")
	ErrInvalidPrecondition    = errors.New("invalid precondition")
)

type ErrorKind string

const (
	KindNotFound               ErrorKind = "not_found"
	KindInvalidPrecondition    ErrorKind = "invalid_precondition"
	KindAlreadyInitialized     ErrorKind = "already_initialized"
	KindConcurrentModification ErrorKind = "concurrent_modification"
	KindLocked                 ErrorKind = "locked"
	KindInternal               ErrorKind = "internal"
)

// Kind относит ошибку к одной из категорий, которые видит вызывающая сторона
func Kind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrNoteNotFound),
		errors.Is(err, ErrHistoryNotFound),
		errors.Is(err, ErrVersionNotFound),
		errors.Is(err, ErrLedgerNotFound),
		errors.Is(err, ErrSignatureNotFound),
		errors.Is(err, ErrRequestNotFound),
		errors.Is(err, ErrSnapshotNotFound),
		errors.Is(err, ErrBlobNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyInitialized):
		return KindAlreadyInitialized
	case errors.Is(err, ErrConcurrentModification):
		return KindConcurrentModification
	case errors.Is(err, ErrNoteLocked):
		return KindLocked
	case errors.Is(err, ErrNotLocked),
		errors.Is(err, ErrReasonRequired),
		errors.Is(err, ErrInvalidPrecondition):
		return KindInvalidPrecondition
	default:
		return KindInternal
	}
}
