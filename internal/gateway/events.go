package gateway

import "github.com/goccy/go-json"

// Event names, client→server.
const (
	EventAuthenticate = "authenticate"
	EventSendMessage  = "send_message"
	EventTypingStart  = "typing_start"
	EventTypingStop   = "typing_stop"
	EventMarkRead     = "mark_read"
)

// Event names, server→client.
const (
	EventAuthenticated = "authenticated"
	EventError         = "error"
	EventMessageSent   = "message_sent"
	EventNewMessage    = "new_message"
	EventTyping        = "typing"
	EventStopTyping    = "stop_typing"
	EventMessageRead   = "message_read"
	EventUserOnline    = "user_online"
	EventUserOffline   = "user_offline"
)

// Envelope is the wire frame for every channel event: a name plus an
// event-specific payload. Inbound payloads stay raw until the handler
// for that event decodes them.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AuthenticatePayload carries the bearer token binding a connection to an
// identity.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// SendMessagePayload addresses and fills a new message.
type SendMessagePayload struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// TypingPayload names the peer a typing indicator is aimed at.
type TypingPayload struct {
	ReceiverID string `json:"receiverId"`
}

// MessagePayload references a message by id (mark_read, message_read).
type MessagePayload struct {
	MessageID string `json:"messageId"`
}

// UserPayload references a user by id (authenticated, typing pushes,
// presence broadcasts).
type UserPayload struct {
	UserID string `json:"userId"`
}

// ErrorPayload carries a client-displayable failure description.
type ErrorPayload struct {
	Message string `json:"message"`
}

// decodePayload unmarshals an event payload, collapsing malformed input
// to ErrInvalidPayload.
func decodePayload(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return ErrInvalidPayload
	}
	return nil
}
