package interfaces

// Presence is the read-only view of live gateway connections consumed by
// the REST layer. Presence is ephemeral by design: entries exist only for
// the lifetime of the process that owns the connection.
type Presence interface {
	// IsOnline reports whether the user currently holds a live
	// authenticated connection.
	IsOnline(userID string) bool

	// OnlineCount returns the number of live authenticated connections.
	OnlineCount() int
}
