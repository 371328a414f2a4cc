package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of user roles. Exactly one user carries RoleAdmin
// at any time; every visitor conversation has the admin as the other party.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole validates a raw role string against the closed set.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", ErrInvalidRole
	}
}

// Valid reports whether the role is one of the two known values.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Identity is what a verified bearer token resolves to.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// User is a registered visitor or the site administrator.
// The messaging core reads users; it never edits them except for the
// administrative cascade delete.
type User struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Role      Role       `json:"role"`
	CreatedAt time.Time  `json:"createdAt"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
}

// Message is a single direct message between two users. Immutable after
// creation except for the Read flag, which transitions false→true exactly
// once and only at the receiver's request.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewMessage mints a message with a fresh unique id and the current
// timestamp. Both the gateway and the REST send path go through here so a
// stored message never betrays which path produced it. Content is stored
// trimmed; callers validate before minting.
func NewMessage(senderID, receiverID, content string) *Message {
	return &Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    strings.TrimSpace(content),
		Read:       false,
		CreatedAt:  time.Now().UTC(),
	}
}

// ConversationSummary is one row of the admin conversation list: the
// visitor, the newest message either way, how many of their messages the
// admin has not read, and whether they currently hold a live connection.
type ConversationSummary struct {
	User        *User    `json:"user"`
	LastMessage *Message `json:"lastMessage"`
	UnreadCount int      `json:"unreadCount"`
	IsOnline    bool     `json:"isOnline"`
}
