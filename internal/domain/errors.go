package domain

import "errors"

var (
	// ErrConflict marks a conditional write that lost to the current state.
	ErrConflict = errors.New("conflicting write")
	// ErrNotFound marks a missing document or record.
	ErrNotFound = errors.New("not found")
	// ErrInvalidName marks a document name that cannot live in an account folder.
	ErrInvalidName = errors.New("invalid document name")
)
