package interfaces

import (
	"context"

	"guestline/pkg/types"
)

// MessageStore is the durable record of conversations. It is the single
// source of truth shared by the realtime gateway and the REST API: a
// message appended through one surface is immediately visible through the
// other (read-after-write within one store instance).
type MessageStore interface {
	// Append durably stores a message. The call returns only once the
	// write is complete; callers acknowledge senders after, never before.
	Append(ctx context.Context, msg *types.Message) error

	// ConversationBetween returns every message whose unordered
	// {sender, receiver} pair equals {a, b}, ascending by createdAt with
	// ties broken by insertion order.
	ConversationBetween(ctx context.Context, a, b string) ([]*types.Message, error)

	// MessagesFor returns every message sent or received by userID,
	// ascending by createdAt.
	MessagesFor(ctx context.Context, userID string) ([]*types.Message, error)

	// GetMessage returns a message by id, or ErrMessageNotFound.
	GetMessage(ctx context.Context, id string) (*types.Message, error)

	// LastMessage returns the newest message between the pair, or nil if
	// the pair has never exchanged one.
	LastMessage(ctx context.Context, a, b string) (*types.Message, error)

	// UnreadCount counts messages from sender to receiver still unread
	// by the receiver.
	UnreadCount(ctx context.Context, senderID, receiverID string) (int, error)

	// MarkRead flips the read flag of one message, but only when
	// receiverID matches the message's receiver; it reports whether a row
	// changed so callers can treat mismatches as silent no-ops. The flag
	// never transitions back to unread.
	MarkRead(ctx context.Context, messageID, receiverID string) (bool, error)

	// MarkConversationRead marks every unread message from senderID to
	// receiverID as read and returns how many changed.
	MarkConversationRead(ctx context.Context, senderID, receiverID string) (int, error)

	// DeleteConversation removes all messages between the pair.
	// Administrative bulk cleanup only.
	DeleteConversation(ctx context.Context, a, b string) error
}

// UserStore provides the read-mostly user directory the messaging core
// consumes.
type UserStore interface {
	// GetUser returns a user by id, or ErrUserNotFound.
	GetUser(ctx context.Context, id string) (*types.User, error)

	// AdminUser returns the distinguished admin user, or ErrAdminNotFound.
	AdminUser(ctx context.Context) (*types.User, error)

	// ListVisitors returns all non-admin users.
	ListVisitors(ctx context.Context) ([]*types.User, error)

	// SearchVisitors returns non-admin users whose username or email
	// contains the query, case-insensitively. An empty query matches all.
	SearchVisitors(ctx context.Context, query string) ([]*types.User, error)

	// CreateUser inserts a user record.
	CreateUser(ctx context.Context, user *types.User) error

	// DeleteUser removes a user record. Used by the administrative
	// conversation delete cascade.
	DeleteUser(ctx context.Context, id string) error
}
