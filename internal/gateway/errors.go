package gateway

import "errors"

// Connection-level errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidPayload   = errors.New("invalid event payload")
)

// Client-facing error strings. These travel in error events, so they stay
// stable for client display and reveal nothing internal.
const (
	errMsgAuthFailed       = "Authentication failed"
	errMsgNotAuthenticated = "Not authenticated"
	errMsgContentRequired  = "Message content required"
	errMsgContentTooLong   = "Message too long"
	errMsgReceiverNotFound = "Receiver not found"
	errMsgInvalidReceiver  = "Invalid receiver"
	errMsgRateLimited      = "Too many messages, slow down"
	errMsgSendFailed       = "Failed to send message"
)
