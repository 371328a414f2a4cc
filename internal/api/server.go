// Package api exposes the REST surface of the messaging subsystem. It
// holds no business state: every handler is a thin translation between
// HTTP and the store, with presence read from the gateway when a
// response carries online flags.
package api

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"guestline/internal/auth"
	"guestline/internal/metrics"
	"guestline/pkg/interfaces"
	"guestline/pkg/types"
)

// Server wires the HTTP routes against the store, the token verifier and
// the gateway's presence view.
type Server struct {
	users    interfaces.UserStore
	messages interfaces.MessageStore
	presence interfaces.Presence
	verifier interfaces.TokenVerifier
	health   func() error
	metrics  *metrics.Metrics
	log      zerolog.Logger

	maxMessageLength int
	router           chi.Router
}

// Options carries the optional collaborators of NewServer.
type Options struct {
	// HealthCheck probes the durable store. Nil means the health
	// endpoint reports only process liveness.
	HealthCheck func() error

	// MaxMessageLength bounds message content. Zero means the default.
	MaxMessageLength int
}

// NewServer builds the router. The returned server implements
// http.Handler.
func NewServer(users interfaces.UserStore, messages interfaces.MessageStore, presence interfaces.Presence, verifier interfaces.TokenVerifier, m *metrics.Metrics, log zerolog.Logger, opts Options) *Server {
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = types.DefaultMaxMessageLength
	}

	s := &Server{
		users:            users,
		messages:         messages,
		presence:         presence,
		verifier:         verifier,
		health:           opts.HealthCheck,
		metrics:          m,
		log:              log,
		maxMessageLength: opts.MaxMessageLength,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.healthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(s.verifier))

		r.Route("/messages", func(r chi.Router) {
			r.Post("/send", s.sendMessage)
			r.Get("/", s.listMessages)
			r.Get("/{userID}", s.getConversation)
			r.Put("/{messageID}/read", s.markRead)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Get("/", s.listConversations)
			r.Get("/search/query", s.searchConversations)
			r.Get("/{userID}", s.getAdminConversation)
			r.Delete("/{userID}", s.deleteConversation)
		})
	})

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type sendMessageRequest struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type conversationResponse struct {
	User     *types.User      `json:"user"`
	Messages []*types.Message `json:"messages"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Online    int       `json:"online"`
}

// sendMessage handles POST /api/messages/send. The append is durable
// before the 201 goes out; live receivers learn about the message on
// their next fetch, never from this path.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		s.sendError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := types.ValidateContent(req.Content, s.maxMessageLength); err != nil {
		if errors.Is(err, types.ErrContentTooLong) {
			s.sendError(w, "Message too long", http.StatusBadRequest)
		} else {
			s.sendError(w, "Message content required", http.StatusBadRequest)
		}
		return
	}
	if err := types.ValidateSendTarget(identity.UserID, req.ReceiverID); err != nil {
		if errors.Is(err, types.ErrMissingReceiver) {
			s.sendError(w, "Receiver ID required", http.StatusBadRequest)
		} else {
			s.sendError(w, "Invalid receiver", http.StatusBadRequest)
		}
		return
	}

	if _, err := s.users.GetUser(r.Context(), req.ReceiverID); err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			s.sendError(w, "Receiver not found", http.StatusNotFound)
		} else {
			s.sendError(w, "Server error sending message", http.StatusInternalServerError)
		}
		return
	}

	msg := types.NewMessage(identity.UserID, req.ReceiverID, req.Content)
	if err := s.messages.Append(r.Context(), msg); err != nil {
		s.log.Error().Err(err).Str("user", identity.UserID).Msg("rest append failed")
		s.sendError(w, "Server error sending message", http.StatusInternalServerError)
		return
	}
	s.metrics.MessagesStored.Inc()

	s.sendJSON(w, http.StatusCreated, msg)
}

// listMessages handles GET /api/messages: every message the caller sent
// or received, oldest first.
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())

	msgs, err := s.messages.MessagesFor(r.Context(), identity.UserID)
	if err != nil {
		s.log.Error().Err(err).Msg("list messages failed")
		s.sendError(w, "Server error retrieving messages", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, msgs)
}

// getConversation handles GET /api/messages/{userID}: the caller's
// conversation with the named peer, oldest first.
func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())
	peerID := chi.URLParam(r, "userID")

	msgs, err := s.messages.ConversationBetween(r.Context(), identity.UserID, peerID)
	if err != nil {
		s.log.Error().Err(err).Msg("get conversation failed")
		s.sendError(w, "Server error retrieving conversation", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, msgs)
}

// markRead handles PUT /api/messages/{messageID}/read. Unlike the
// realtime channel this surface is explicit about failure: unknown id is
// 404, caller not being the receiver is 403.
func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())
	messageID := chi.URLParam(r, "messageID")

	msg, err := s.messages.GetMessage(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, interfaces.ErrMessageNotFound) {
			s.sendError(w, "Message not found", http.StatusNotFound)
		} else {
			s.sendError(w, "Server error marking message as read", http.StatusInternalServerError)
		}
		return
	}

	if msg.ReceiverID != identity.UserID {
		s.sendError(w, "Not authorized", http.StatusForbidden)
		return
	}

	if _, err := s.messages.MarkRead(r.Context(), messageID, identity.UserID); err != nil {
		s.log.Error().Err(err).Str("message", messageID).Msg("rest mark read failed")
		s.sendError(w, "Server error marking message as read", http.StatusInternalServerError)
		return
	}

	msg.Read = true
	s.sendJSON(w, http.StatusOK, msg)
}

// listConversations handles GET /api/conversations: one summary per
// visitor who has exchanged at least one message with the admin, newest
// activity first.
func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.conversationSummaries(r, "", false)
	if err != nil {
		s.handleSummaryError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, summaries)
}

// searchConversations handles GET /api/conversations/search/query with
// optional q (substring of username or email) and unread=true filters.
// With unread=true the unread count, not message history, decides
// inclusion.
func (s *Server) searchConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	unreadOnly := r.URL.Query().Get("unread") == "true"

	summaries, err := s.conversationSummaries(r, q, unreadOnly)
	if err != nil {
		s.handleSummaryError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, summaries)
}

// conversationSummaries assembles the admin inbox view. Visitors with no
// message history are excluded unless the unread filter applies.
func (s *Server) conversationSummaries(r *http.Request, query string, unreadOnly bool) ([]*types.ConversationSummary, error) {
	ctx := r.Context()

	admin, err := s.users.AdminUser(ctx)
	if err != nil {
		return nil, err
	}

	visitors, err := s.users.SearchVisitors(ctx, query)
	if err != nil {
		return nil, err
	}

	summaries := make([]*types.ConversationSummary, 0, len(visitors))
	for _, visitor := range visitors {
		last, err := s.messages.LastMessage(ctx, visitor.ID, admin.ID)
		if err != nil {
			return nil, err
		}
		unread, err := s.messages.UnreadCount(ctx, visitor.ID, admin.ID)
		if err != nil {
			return nil, err
		}

		if unreadOnly {
			if unread == 0 {
				continue
			}
		} else if last == nil {
			continue
		}

		summaries = append(summaries, &types.ConversationSummary{
			User:        visitor,
			LastMessage: last,
			UnreadCount: unread,
			IsOnline:    s.presence.IsOnline(visitor.ID),
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i].LastMessage, summaries[j].LastMessage
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	return summaries, nil
}

// getAdminConversation handles GET /api/conversations/{userID}: the
// admin's conversation with one visitor. Opening the conversation marks
// every pending visitor message read; the bulk transition pushes no
// per-message receipts.
func (s *Server) getAdminConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitorID := chi.URLParam(r, "userID")

	visitor, err := s.users.GetUser(ctx, visitorID)
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			s.sendError(w, "User not found", http.StatusNotFound)
		} else {
			s.sendError(w, "Server error retrieving conversation", http.StatusInternalServerError)
		}
		return
	}

	admin, err := s.users.AdminUser(ctx)
	if err != nil {
		s.handleSummaryError(w, err)
		return
	}

	// The response reflects the conversation as it stood when the admin
	// opened it. The read flip happens after the snapshot and is visible
	// only to subsequent queries.
	msgs, err := s.messages.ConversationBetween(ctx, admin.ID, visitorID)
	if err != nil {
		s.sendError(w, "Server error retrieving conversation", http.StatusInternalServerError)
		return
	}

	if _, err := s.messages.MarkConversationRead(ctx, visitorID, admin.ID); err != nil {
		s.log.Error().Err(err).Str("visitor", visitorID).Msg("mark conversation read failed")
		s.sendError(w, "Server error retrieving conversation", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, http.StatusOK, conversationResponse{User: visitor, Messages: msgs})
}

// deleteConversation handles DELETE /api/conversations/{userID}. The
// optional deleteUser=true query cascades to the visitor's account.
func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitorID := chi.URLParam(r, "userID")

	admin, err := s.users.AdminUser(ctx)
	if err != nil {
		s.handleSummaryError(w, err)
		return
	}

	if err := s.messages.DeleteConversation(ctx, visitorID, admin.ID); err != nil {
		s.log.Error().Err(err).Str("visitor", visitorID).Msg("delete conversation failed")
		s.sendError(w, "Server error deleting conversation", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("deleteUser") == "true" {
		if err := s.users.DeleteUser(ctx, visitorID); err != nil && !errors.Is(err, interfaces.ErrUserNotFound) {
			s.log.Error().Err(err).Str("visitor", visitorID).Msg("delete user failed")
			s.sendError(w, "Server error deleting conversation", http.StatusInternalServerError)
			return
		}
	}

	s.log.Info().Str("visitor", visitorID).Msg("conversation deleted")
	s.sendJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted successfully"})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "ok",
		Online:    s.presence.OnlineCount(),
	}

	code := http.StatusOK
	if s.health != nil {
		if err := s.health(); err != nil {
			resp.Status = "unhealthy"
			resp.Database = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	s.sendJSON(w, code, resp)
}

func (s *Server) handleSummaryError(w http.ResponseWriter, err error) {
	if errors.Is(err, interfaces.ErrAdminNotFound) {
		s.sendError(w, "Admin user not found", http.StatusNotFound)
		return
	}
	s.log.Error().Err(err).Msg("conversation query failed")
	s.sendError(w, "Server error retrieving conversations", http.StatusInternalServerError)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("response encode failed")
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, map[string]string{"error": message})
}
