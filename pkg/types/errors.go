package types

import "errors"

// Validation errors shared by the gateway and the REST send path.
// Validation always precedes the store write, so none of these ever leave
// a partial mutation behind.
var (
	ErrInvalidRole     = errors.New("role must be \"user\" or \"admin\"")
	ErrEmptyContent    = errors.New("message content required")
	ErrContentTooLong  = errors.New("message content exceeds maximum length")
	ErrSelfMessage     = errors.New("sender and receiver must differ")
	ErrMissingReceiver = errors.New("receiver ID required")
)
