// Package gateway implements the realtime messaging channel: one
// long-lived WebSocket per client, authenticated in-band against the
// identity provider, relaying conversation events with at-most-one-hop
// latency to online peers.
//
// Each connection's events are handled to completion in its read loop,
// one at a time, including the awaited durable store write, so
// per-connection FIFO ordering holds by construction. Events on different
// connections interleave freely; races on the same user's presence entry
// resolve last-authenticate-wins.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"guestline/internal/metrics"
	"guestline/pkg/interfaces"
	"guestline/pkg/types"
)

// Config carries the gateway's tunables. Zero values fall back to the
// defaults below.
type Config struct {
	MaxMessageLength  int
	TypingExpiry      time.Duration
	SendRatePerMinute int
	SendBurst         int
	PingInterval      time.Duration
	ReadTimeout       time.Duration
}

const (
	defaultTypingExpiry      = 3 * time.Second
	defaultSendRatePerMinute = 100
	defaultSendBurst         = 20
	defaultPingInterval      = 30 * time.Second
	defaultReadTimeout       = 60 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = types.DefaultMaxMessageLength
	}
	if c.TypingExpiry <= 0 {
		c.TypingExpiry = defaultTypingExpiry
	}
	if c.SendRatePerMinute <= 0 {
		c.SendRatePerMinute = defaultSendRatePerMinute
	}
	if c.SendBurst <= 0 {
		c.SendBurst = defaultSendBurst
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	return c
}

// Gateway owns the connection lifecycle and the event protocol. Presence
// and typing state live inside the instance, never in package globals, so
// independent gateways (tests, embedded setups) cannot observe each
// other.
type Gateway struct {
	cfg      Config
	verifier interfaces.TokenVerifier
	users    interfaces.UserStore
	messages interfaces.MessageStore

	presence *PresenceTable
	typing   *TypingTracker
	limits   *sendLimiter

	metrics  *metrics.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// New wires a gateway against its collaborators.
func New(cfg Config, verifier interfaces.TokenVerifier, users interfaces.UserStore, messages interfaces.MessageStore, m *metrics.Metrics, log zerolog.Logger) *Gateway {
	cfg = cfg.withDefaults()
	return &Gateway{
		cfg:      cfg,
		verifier: verifier,
		users:    users,
		messages: messages,
		presence: NewPresenceTable(),
		typing:   NewTypingTracker(cfg.TypingExpiry),
		limits:   newSendLimiter(cfg.SendRatePerMinute, cfg.SendBurst),
		metrics:  m,
		log:      log,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
}

// Presence exposes the read-only presence view the REST layer consumes.
func (g *Gateway) Presence() interfaces.Presence {
	return g.presence
}

// HandleWebSocket upgrades the request and starts the connection's event
// loop. The connection starts unauthenticated; only the authenticate
// event is honored until a token has been verified.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(ws)
	g.metrics.ActiveConnections.Inc()
	g.log.Debug().Str("remote", ws.RemoteAddr().String()).Msg("connection opened")

	go g.readLoop(conn)
}

// readLoop reads frames until the transport dies, dispatching each event
// to completion before reading the next. Cleanup runs exactly once on
// exit, whatever tore the connection down.
func (g *Gateway) readLoop(conn *Connection) {
	defer g.cleanup(conn)

	if err := conn.ws.SetReadDeadline(time.Now().Add(g.cfg.ReadTimeout)); err != nil {
		return
	}
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(g.cfg.ReadTimeout))
	})

	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(sendTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.log.Debug().Err(err).Str("user", conn.UserID()).Msg("websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		g.dispatch(conn, data)
	}
}

// dispatch decodes the envelope and routes to the handler for its event.
func (g *Gateway) dispatch(conn *Connection, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		g.sendError(conn, errMsgSendFailed)
		return
	}

	g.metrics.EventsTotal.WithLabelValues(eventLabel(env.Event)).Inc()

	switch env.Event {
	case EventAuthenticate:
		g.handleAuthenticate(conn, env.Data)
	case EventSendMessage:
		g.handleSendMessage(conn, env.Data)
	case EventTypingStart:
		g.handleTypingStart(conn, env.Data)
	case EventTypingStop:
		g.handleTypingStop(conn, env.Data)
	case EventMarkRead:
		g.handleMarkRead(conn, env.Data)
	default:
		g.log.Debug().Str("event", env.Event).Msg("unknown event ignored")
	}
}

// eventLabel clamps the metric label to the known event set so clients
// cannot mint label values.
func eventLabel(event string) string {
	switch event {
	case EventAuthenticate, EventSendMessage, EventTypingStart, EventTypingStop, EventMarkRead:
		return event
	default:
		return "unknown"
	}
}

// handleAuthenticate validates the token and registers presence. Failure
// emits an error event and force-closes the transport. Success on an
// already-authenticated connection simply re-registers.
func (g *Gateway) handleAuthenticate(conn *Connection, data json.RawMessage) {
	var p AuthenticatePayload
	if err := decodePayload(data, &p); err != nil || p.Token == "" {
		g.rejectConnection(conn)
		return
	}

	identity, err := g.verifier.Verify(p.Token)
	if err != nil {
		g.log.Info().Msg("channel authentication failed")
		g.rejectConnection(conn)
		return
	}

	// Re-authenticating as a different user on the same connection gives
	// up the prior identity first; its presence entry must not outlive
	// the connection that owned it.
	if conn.IsAuthenticated() && conn.UserID() != identity.UserID {
		if g.releaseIdentity(conn) {
			g.log.Info().Str("user", conn.UserID()).Msg("identity released on re-authentication")
		}
	}

	conn.bind(identity.UserID, identity.Role)

	// Last-authenticate-wins: the displaced connection is explicitly
	// closed. Its cleanup will find it is no longer the registered
	// handle and leave the new registration intact.
	if prev := g.presence.Register(identity.UserID, conn); prev != nil {
		go func() { _ = prev.Close() }()
	}

	_ = conn.Send(EventAuthenticated, UserPayload{UserID: identity.UserID})
	g.presence.Broadcast(EventUserOnline, UserPayload{UserID: identity.UserID})

	g.log.Info().Str("user", identity.UserID).Str("role", string(identity.Role)).Msg("channel authenticated")
}

// handleSendMessage validates, durably appends, acknowledges the sender,
// and pushes to the receiver if online. The store write completes before
// any event leaves the server; the store, not the channel, is the source
// of truth.
func (g *Gateway) handleSendMessage(conn *Connection, data json.RawMessage) {
	if !conn.IsAuthenticated() {
		g.sendError(conn, errMsgNotAuthenticated)
		return
	}
	senderID := conn.UserID()

	var p SendMessagePayload
	if err := decodePayload(data, &p); err != nil {
		g.sendError(conn, errMsgSendFailed)
		return
	}

	if !g.limits.Allow(senderID) {
		g.sendError(conn, errMsgRateLimited)
		return
	}

	if err := types.ValidateSendTarget(senderID, p.ReceiverID); err != nil {
		g.sendError(conn, errMsgInvalidReceiver)
		return
	}
	if err := types.ValidateContent(p.Content, g.cfg.MaxMessageLength); err != nil {
		if errors.Is(err, types.ErrContentTooLong) {
			g.sendError(conn, errMsgContentTooLong)
		} else {
			g.sendError(conn, errMsgContentRequired)
		}
		return
	}

	ctx := context.Background()
	if _, err := g.users.GetUser(ctx, p.ReceiverID); err != nil {
		g.sendError(conn, errMsgReceiverNotFound)
		return
	}

	msg := types.NewMessage(senderID, p.ReceiverID, p.Content)
	if err := g.messages.Append(ctx, msg); err != nil {
		g.log.Error().Err(err).Str("user", senderID).Msg("message append failed")
		g.sendError(conn, errMsgSendFailed)
		return
	}
	g.metrics.MessagesStored.Inc()

	// Sending supersedes any outstanding typing indicator for the pair.
	g.typing.Cancel(senderID, p.ReceiverID)

	_ = conn.Send(EventMessageSent, msg)

	if receiver, ok := g.presence.Get(p.ReceiverID); ok {
		_ = receiver.Send(EventNewMessage, msg)
		g.metrics.LiveDeliveries.Inc()
	}

	g.log.Debug().Str("from", senderID).Str("to", p.ReceiverID).Str("message", msg.ID).Msg("message sent")
}

// handleTypingStart relays the indicator and (re)arms the quiet-period
// timer. Best-effort: unauthenticated callers are ignored, not errored.
func (g *Gateway) handleTypingStart(conn *Connection, data json.RawMessage) {
	if !conn.IsAuthenticated() {
		return
	}
	senderID := conn.UserID()

	var p TypingPayload
	if err := decodePayload(data, &p); err != nil || p.ReceiverID == "" {
		return
	}

	if receiver, ok := g.presence.Get(p.ReceiverID); ok {
		_ = receiver.Send(EventTyping, UserPayload{UserID: senderID})
	}

	receiverID := p.ReceiverID
	g.typing.Refresh(senderID, receiverID, func() {
		// Receiver may have gone offline in the meantime; check at fire
		// time.
		if receiver, ok := g.presence.Get(receiverID); ok {
			_ = receiver.Send(EventStopTyping, UserPayload{UserID: senderID})
		}
	})
}

// handleTypingStop cancels the pending timer and pushes stop_typing
// immediately. Idempotent when no timer exists.
func (g *Gateway) handleTypingStop(conn *Connection, data json.RawMessage) {
	if !conn.IsAuthenticated() {
		return
	}
	senderID := conn.UserID()

	var p TypingPayload
	if err := decodePayload(data, &p); err != nil || p.ReceiverID == "" {
		return
	}

	g.typing.Cancel(senderID, p.ReceiverID)

	if receiver, ok := g.presence.Get(p.ReceiverID); ok {
		_ = receiver.Send(EventStopTyping, UserPayload{UserID: senderID})
	}
}

// handleMarkRead advances the read flag if and only if the caller is the
// receiver. Every failure mode is a silent no-op so message ids cannot be
// probed by unauthorized callers.
func (g *Gateway) handleMarkRead(conn *Connection, data json.RawMessage) {
	if !conn.IsAuthenticated() {
		return
	}

	var p MessagePayload
	if err := decodePayload(data, &p); err != nil || p.MessageID == "" {
		return
	}

	ctx := context.Background()
	msg, err := g.messages.GetMessage(ctx, p.MessageID)
	if err != nil {
		return
	}

	changed, err := g.messages.MarkRead(ctx, p.MessageID, conn.UserID())
	if err != nil {
		g.log.Error().Err(err).Str("message", p.MessageID).Msg("mark read failed")
		return
	}
	if !changed {
		return
	}

	if sender, ok := g.presence.Get(msg.SenderID); ok {
		_ = sender.Send(EventMessageRead, MessagePayload{MessageID: p.MessageID})
	}
}

// cleanup runs the disconnect sequence for any cause: transport failure,
// client close, or forced close after failed auth / displacement. The
// presence entry is removed only if this connection still owns it.
func (g *Gateway) cleanup(conn *Connection) {
	if conn.IsAuthenticated() && g.releaseIdentity(conn) {
		g.log.Info().Str("user", conn.UserID()).Msg("user disconnected")
	}

	_ = conn.Close()
	g.metrics.ActiveConnections.Dec()
}

// releaseIdentity removes conn's presence registration along with the
// typing and rate-limit state keyed by its user id, broadcasting the
// offline transition. Reports false when a newer connection already owns
// the entry, in which case nothing changes.
func (g *Gateway) releaseIdentity(conn *Connection) bool {
	userID := conn.UserID()
	if !g.presence.Remove(conn) {
		return false
	}
	g.typing.CancelAll(userID)
	g.limits.Forget(userID)
	g.presence.Broadcast(EventUserOffline, UserPayload{UserID: userID})
	return true
}

// rejectConnection reports an authentication failure and force-closes.
// The error frame goes through the writer like any other event; Close
// drains the queue, so the frame reaches the peer before the socket
// shuts.
func (g *Gateway) rejectConnection(conn *Connection) {
	_ = conn.Send(EventError, ErrorPayload{Message: errMsgAuthFailed})
	_ = conn.Close()
}

func (g *Gateway) sendError(conn *Connection, message string) {
	_ = conn.Send(EventError, ErrorPayload{Message: message})
}

// Close tears down every live connection and pending timer. Used at
// shutdown after the HTTP listener stops accepting upgrades.
func (g *Gateway) Close() {
	for _, conn := range g.presence.all() {
		_ = conn.Close()
	}
	g.typing.Stop()
}
