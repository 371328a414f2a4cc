package gateway

import (
	"sync"

	"guestline/pkg/interfaces"
)

// PresenceTable maps user ids to their live authenticated connection.
// One entry per user id, last-authenticate-wins: registering over an
// existing entry displaces the prior connection, which the gateway then
// closes. Entries live only as long as the process; presence is ephemeral
// by contract.
type PresenceTable struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewPresenceTable creates an empty table. Each Gateway owns its own
// table, so parallel instances never share presence state.
func NewPresenceTable() *PresenceTable {
	return &PresenceTable{conns: make(map[string]*Connection)}
}

// Register makes conn the current connection for userID and returns the
// connection it displaced, if any. Re-registering the same connection is
// a no-op returning nil.
func (p *PresenceTable) Register(userID string, conn *Connection) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.conns[userID]
	p.conns[userID] = conn
	if prev == conn {
		return nil
	}
	return prev
}

// Remove drops conn's registration, but only while conn is still the
// registered handle for its user id. A connection displaced by a newer
// one must not tear down the newer registration during its own cleanup.
func (p *PresenceTable) Remove(conn *Connection) bool {
	userID := conn.UserID()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conns[userID] != conn {
		return false
	}
	delete(p.conns, userID)
	return true
}

// Get returns the live connection for userID.
func (p *PresenceTable) Get(userID string) (*Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.conns[userID]
	return conn, ok
}

// IsOnline reports whether userID has a live authenticated connection.
func (p *PresenceTable) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.conns[userID]
	return ok
}

// OnlineCount returns the number of registered connections.
func (p *PresenceTable) OnlineCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// Broadcast queues an event on every registered connection. Delivery is
// best-effort per connection; one dead peer never blocks the rest.
func (p *PresenceTable) Broadcast(event string, data any) {
	p.mu.RLock()
	conns := make([]*Connection, 0, len(p.conns))
	for _, conn := range p.conns {
		conns = append(conns, conn)
	}
	p.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Send(event, data)
	}
}

// all returns a snapshot of registered connections.
func (p *PresenceTable) all() []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conns := make([]*Connection, 0, len(p.conns))
	for _, conn := range p.conns {
		conns = append(conns, conn)
	}
	return conns
}

var _ interfaces.Presence = (*PresenceTable)(nil)
