package shared

import "errors"

// Error taxonomy shared by every lifecycle operation. Domain packages wrap these
// sentinels so callers can classify failures with errors.Is.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidationFailed marks input the caller must correct and re-enter.
	ErrValidationFailed = errors.New("validation failed")
	// ErrPreconditionFailed marks a missing upstream step (certificate, resource).
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrConflict marks a lost race or already-consumed resource; retry with fresh state.
	ErrConflict = errors.New("conflict")
	// ErrStoreUnavailable marks a collaborator I/O failure; the operation was not applied.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Kind names an error category for logs and metrics.
type Kind string

const (
	KindNone         Kind = ""
	KindNotFound     Kind = "not_found"
	KindValidation   Kind = "validation_failed"
	KindPrecondition Kind = "precondition_failed"
	KindConflict     Kind = "conflict"
	KindUnavailable  Kind = "store_unavailable"
	KindInternal     Kind = "internal"
)

// KindOf classifies err against the taxonomy.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidationFailed):
		return KindValidation
	case errors.Is(err, ErrPreconditionFailed):
		return KindPrecondition
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return KindUnavailable
	default:
		return KindInternal
	}
}

// Classified reports whether err already carries a taxonomy sentinel.
func Classified(err error) bool {
	k := KindOf(err)
	return k != KindNone && k != KindInternal
}
