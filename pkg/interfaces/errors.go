package interfaces

import "errors"

// Sentinel errors shared across component boundaries. Handlers map these
// to protocol errors (gateway error events, HTTP statuses) at the edge.
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrAdminNotFound        = errors.New("admin user not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrAuthenticationFailed = errors.New("authentication failed")
)
