package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed or out-of-range input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrInvariant marks a ledger or treasury invariant that would be broken by the request.
	ErrInvariant = errors.New("invariant violated")
	// ErrMissingConfiguration marks a mandatory configuration row that is absent.
	ErrMissingConfiguration = errors.New("missing configuration")
	// ErrState marks an operation attempted in the wrong lifecycle state.
	ErrState = errors.New("invalid state")
	// ErrConflict indicates a uniqueness conflict in storage.
	ErrConflict = errors.New("conflict")
)

type classifiedError struct {
	class error
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }

func (e *classifiedError) Unwrap() []error { return []error{e.err, e.class} }

// Classify tags err with one of the taxonomy classes above, so errors.Is matches both.
func Classify(class, err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: class, err: err}
}

// Invalid builds a validation error with the given message.
func Invalid(msg string) error {
	return Classify(ErrValidation, errors.New(msg))
}
