package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"guestline/pkg/types"
)

const (
	writeBufferEvents = 100
	sendTimeout       = 5 * time.Second
)

// Connection wraps one WebSocket transport. All outbound traffic goes
// through a single writer goroutine fed by a buffered channel, so
// concurrent callers (the connection's own handlers, peers pushing
// new_message, presence broadcasts) never race on the socket.
//
// Identity fields are empty until the authenticate event succeeds.
type Connection struct {
	ws      *websocket.Conn
	writeCh chan []byte

	userID        string
	role          types.Role
	authenticated bool

	ctx        context.Context
	cancel     context.CancelFunc
	writerDone chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
}

// NewConnection wraps an upgraded WebSocket and starts its writer.
func NewConnection(ws *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		ws:         ws,
		writeCh:    make(chan []byte, writeBufferEvents),
		ctx:        ctx,
		cancel:     cancel,
		writerDone: make(chan struct{}),
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	defer close(c.writerDone)

	for {
		select {
		case data := <-c.writeCh:
			if err := c.writeFrame(data); err != nil {
				return
			}

		case <-c.ctx.Done():
			// Flush whatever was queued before the close so frames sent
			// just before teardown still reach the peer.
			for {
				select {
				case data := <-c.writeCh:
					if err := c.writeFrame(data); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Connection) writeFrame(data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(sendTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Send queues one event for delivery. Fire-and-forget from the protocol's
// point of view: a slow or dead peer surfaces as a timeout or closed
// error here, never as a block on the caller.
func (c *Connection) Send(event string, data any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	frame, err := json.Marshal(Envelope{Event: event, Data: mustRaw(data)})
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- frame:
		return nil
	case <-time.After(sendTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

func mustRaw(data any) json.RawMessage {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return raw
}

// bind attaches a verified identity to the connection. Re-binding on
// repeat authentication is allowed and just overwrites.
func (c *Connection) bind(userID string, role types.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.role = role
	c.authenticated = true
}

// IsAuthenticated reports whether an identity is bound.
func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// UserID returns the bound user id, empty before authentication.
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Role returns the bound role, empty before authentication.
func (c *Connection) Role() types.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// Close tears the transport down. Safe to call repeatedly and from any
// goroutine; the read loop observes the closed socket and runs cleanup.
// The socket closes only after the writer drains, so the close frame
// never outruns queued events; a stuck peer is bounded by the per-write
// deadline.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		select {
		case <-c.writerDone:
		case <-time.After(sendTimeout):
		}
		err = c.ws.Close()
	})
	return err
}
