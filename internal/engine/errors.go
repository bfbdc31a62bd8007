package engine

import "errors"

// Submission and reconciliation errors. Callers match them with errors.Is.
var (
	ErrValidation        = errors.New("invalid submission")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrEnqueue           = errors.New("enqueue failed")
	ErrStoreUnavailable  = errors.New("store unavailable")
)
