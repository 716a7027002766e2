package document

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers missing and soft-deleted documents alike.
	ErrNotFound = errors.New("document not found")
	// ErrForbidden is returned when the caller lacks access.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation is wrapped by all malformed-input failures.
	ErrValidation = errors.New("invalid input")
	// ErrVersionMismatch is the repository-level CAS failure; the service
	// layer converts it into a ConflictError carrying the current document.
	ErrVersionMismatch = errors.New("version mismatch")
	// ErrRevisionGap guards revision contiguity: an append whose rev is not
	// exactly max+1 must be rejected and roll back the enclosing write.
	ErrRevisionGap = errors.New("revision out of sequence")
)

// ConflictError is the business-expected outcome of a stale write. It carries
// the current server-side document so the caller can re-read and decide.
type ConflictError struct {
	Current *Document
}

func (e *ConflictError) Error() string {
	if e.Current == nil {
		return "write conflict"
	}
	return fmt.Sprintf("write conflict: document %s is at version %d", e.Current.ID, e.Current.Version)
}

// AsConflict unwraps err into a ConflictError when it is one.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
