package repositories

import "fmt"

// StoreError is the RepositoryError used by the SQLite and in-memory backends.
type StoreError struct {
	Op          string
	Err         error
	NotFound    bool
	Conflict    bool
	Unavailable bool
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) IsNotFound() bool    { return e != nil && e.NotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Conflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Unavailable }

// NewNotFoundError reports a missing record.
func NewNotFoundError(op string) error {
	return &StoreError{Op: op, Err: fmt.Errorf("not found"), NotFound: true}
}

// NewConflictError reports a write that collides with existing state.
func NewConflictError(op string, err error) error {
	return &StoreError{Op: op, Err: err, Conflict: true}
}

// NewUnavailableError reports a backend failure callers may retry.
func NewUnavailableError(op string, err error) error {
	return &StoreError{Op: op, Err: err, Unavailable: true}
}

var _ RepositoryError = (*StoreError)(nil)
