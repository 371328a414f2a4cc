package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guestline/internal/auth"
	"guestline/internal/metrics"
	"guestline/internal/store"
	"guestline/pkg/types"
)

const testSecret = "api-test-secret"

type stubPresence struct {
	online map[string]bool
}

func (s stubPresence) IsOnline(userID string) bool { return s.online[userID] }
func (s stubPresence) OnlineCount() int            { return len(s.online) }

type fixture struct {
	srv   *httptest.Server
	store *store.Store

	admin *types.User
	alice *types.User
	bob   *types.User
}

func newFixture(t *testing.T, online map[string]bool) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	verifier, err := auth.NewVerifier(testSecret)
	require.NoError(t, err)

	if online == nil {
		online = map[string]bool{}
	}

	server := NewServer(st, st, stubPresence{online: online}, verifier, metrics.New(), zerolog.Nop(), Options{
		HealthCheck: func() error { return st.HealthCheck(context.Background()) },
	})
	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)

	now := time.Now().UTC()
	f := &fixture{
		srv:   srv,
		store: st,
		admin: &types.User{ID: "admin-1", Username: "admin", Email: "admin@example.com", Role: types.RoleAdmin, CreatedAt: now},
		alice: &types.User{ID: "alice-1", Username: "alice", Email: "alice@example.com", Role: types.RoleUser, CreatedAt: now},
		bob:   &types.User{ID: "bob-1", Username: "bob", Email: "bob@example.com", Role: types.RoleUser, CreatedAt: now},
	}
	ctx := context.Background()
	for _, u := range []*types.User{f.admin, f.alice, f.bob} {
		require.NoError(t, st.CreateUser(ctx, u))
	}
	return f
}

func tokenFor(t *testing.T, user *types.User) string {
	t.Helper()

	claims := auth.Claims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func (f *fixture) request(t *testing.T, method, path string, as *types.User, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, as))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *fixture) seedMessage(t *testing.T, sender, receiver *types.User, content string, at time.Time) *types.Message {
	t.Helper()
	msg := types.NewMessage(sender.ID, receiver.ID, content)
	msg.CreatedAt = at
	require.NoError(t, f.store.Append(context.Background(), msg))
	return msg
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodPost, "/api/messages/send", f.alice, map[string]string{
		"receiverId": f.admin.ID,
		"content":    "  hello  ",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	msg := decodeBody[types.Message](t, resp)
	assert.Equal(t, f.alice.ID, msg.SenderID)
	assert.Equal(t, "hello", msg.Content, "content comes back trimmed")
	assert.False(t, msg.Read)

	stored, err := f.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, stored.ID)
}

func TestSendMessageRejections(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name     string
		as       *types.User
		body     map[string]string
		wantCode int
	}{
		{"empty content", f.alice, map[string]string{"receiverId": f.admin.ID, "content": "  "}, http.StatusBadRequest},
		{"missing receiver", f.alice, map[string]string{"content": "hi"}, http.StatusBadRequest},
		{"self send", f.alice, map[string]string{"receiverId": f.alice.ID, "content": "hi"}, http.StatusBadRequest},
		{"unknown receiver", f.alice, map[string]string{"receiverId": "ghost", "content": "hi"}, http.StatusNotFound},
		{"no auth", nil, map[string]string{"receiverId": f.admin.ID, "content": "hi"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.request(t, http.MethodPost, "/api/messages/send", tt.as, tt.body)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
		})
	}
}

func TestListMessagesAndConversation(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now().UTC()

	f.seedMessage(t, f.alice, f.admin, "one", now.Add(-2*time.Minute))
	f.seedMessage(t, f.admin, f.alice, "two", now.Add(-time.Minute))
	f.seedMessage(t, f.bob, f.admin, "other", now)

	resp := f.request(t, http.MethodGet, "/api/messages", f.alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decodeBody[[]*types.Message](t, resp)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content, "oldest first")

	resp = f.request(t, http.MethodGet, "/api/messages/"+f.admin.ID, f.alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs = decodeBody[[]*types.Message](t, resp)
	require.Len(t, msgs, 2, "bob's messages stay out of alice's view")
}

func TestMarkReadEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	msg := f.seedMessage(t, f.alice, f.admin, "read me", time.Now().UTC())

	t.Run("unknown message is 404", func(t *testing.T) {
		resp := f.request(t, http.MethodPut, "/api/messages/nope/read", f.admin, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("sender is forbidden", func(t *testing.T) {
		resp := f.request(t, http.MethodPut, "/api/messages/"+msg.ID+"/read", f.alice, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		stored, err := f.store.GetMessage(context.Background(), msg.ID)
		require.NoError(t, err)
		assert.False(t, stored.Read)
	})

	t.Run("receiver marks read", func(t *testing.T) {
		resp := f.request(t, http.MethodPut, "/api/messages/"+msg.ID+"/read", f.admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		got := decodeBody[types.Message](t, resp)
		assert.True(t, got.Read)

		stored, err := f.store.GetMessage(context.Background(), msg.ID)
		require.NoError(t, err)
		assert.True(t, stored.Read)
	})

	t.Run("repeat mark is still 200", func(t *testing.T) {
		resp := f.request(t, http.MethodPut, "/api/messages/"+msg.ID+"/read", f.admin, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestConversationListRequiresAdmin(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodGet, "/api/conversations", f.alice, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/api/conversations", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConversationListOrderingAndPresence(t *testing.T) {
	f := newFixture(t, map[string]bool{"bob-1": true})
	now := time.Now().UTC()

	f.seedMessage(t, f.alice, f.admin, "older", now.Add(-time.Hour))
	f.seedMessage(t, f.bob, f.admin, "newer", now)

	resp := f.request(t, http.MethodGet, "/api/conversations", f.admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	summaries := decodeBody[[]*types.ConversationSummary](t, resp)
	require.Len(t, summaries, 2)

	assert.Equal(t, f.bob.ID, summaries[0].User.ID, "newest activity first")
	assert.True(t, summaries[0].IsOnline)
	assert.Equal(t, 1, summaries[0].UnreadCount)

	assert.Equal(t, f.alice.ID, summaries[1].User.ID)
	assert.False(t, summaries[1].IsOnline)
}

func TestConversationListExcludesEmptyHistories(t *testing.T) {
	f := newFixture(t, nil)
	f.seedMessage(t, f.alice, f.admin, "hi", time.Now().UTC())

	resp := f.request(t, http.MethodGet, "/api/conversations", f.admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	summaries := decodeBody[[]*types.ConversationSummary](t, resp)
	require.Len(t, summaries, 1, "bob never wrote, so he does not appear")
	assert.Equal(t, f.alice.ID, summaries[0].User.ID)
}

func TestSearchConversations(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now().UTC()

	msg := f.seedMessage(t, f.alice, f.admin, "from alice", now)
	f.seedMessage(t, f.bob, f.admin, "from bob", now)

	t.Run("query filters by username", func(t *testing.T) {
		resp := f.request(t, http.MethodGet, "/api/conversations/search/query?q=alice", f.admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		summaries := decodeBody[[]*types.ConversationSummary](t, resp)
		require.Len(t, summaries, 1)
		assert.Equal(t, f.alice.ID, summaries[0].User.ID)
	})

	t.Run("unread filter drops read conversations", func(t *testing.T) {
		_, err := f.store.MarkRead(context.Background(), msg.ID, f.admin.ID)
		require.NoError(t, err)

		resp := f.request(t, http.MethodGet, "/api/conversations/search/query?unread=true", f.admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		summaries := decodeBody[[]*types.ConversationSummary](t, resp)
		require.Len(t, summaries, 1)
		assert.Equal(t, f.bob.ID, summaries[0].User.ID)
	})
}

func TestAdminConversationMarksAllRead(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now().UTC()

	f.seedMessage(t, f.alice, f.admin, "one", now.Add(-2*time.Minute))
	f.seedMessage(t, f.alice, f.admin, "two", now.Add(-time.Minute))
	f.seedMessage(t, f.admin, f.alice, "reply", now)

	resp := f.request(t, http.MethodGet, "/api/conversations/"+f.alice.ID, f.admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[conversationResponse](t, resp)
	require.NotNil(t, body.User)
	assert.Equal(t, f.alice.ID, body.User.ID)
	require.Len(t, body.Messages, 3)

	// The first fetch shows the messages as they stood before opening
	// the conversation. The read flip lands only in later queries.
	for _, msg := range body.Messages {
		assert.False(t, msg.Read, "message %q already read in first fetch", msg.Content)
	}

	resp = f.request(t, http.MethodGet, "/api/conversations/"+f.alice.ID, f.admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody[conversationResponse](t, resp)
	require.Len(t, body.Messages, 3)
	for _, msg := range body.Messages {
		if msg.SenderID == f.alice.ID {
			assert.True(t, msg.Read, "message %q still unread on second fetch", msg.Content)
		}
	}

	unread, err := f.store.UnreadCount(context.Background(), f.alice.ID, f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, unread, "opening the conversation reads everything pending")

	// The admin's own outbound message stays unread by alice.
	unread, err = f.store.UnreadCount(context.Background(), f.admin.ID, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestAdminConversationUnknownUser(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodGet, "/api/conversations/ghost", f.admin, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteConversation(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now().UTC()

	f.seedMessage(t, f.alice, f.admin, "bye", now)
	f.seedMessage(t, f.bob, f.admin, "keep", now)

	resp := f.request(t, http.MethodDelete, "/api/conversations/"+f.alice.ID, f.admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ctx := context.Background()
	msgs, err := f.store.ConversationBetween(ctx, f.alice.ID, f.admin.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// The account survives without the flag.
	_, err = f.store.GetUser(ctx, f.alice.ID)
	assert.NoError(t, err)

	msgs, err = f.store.ConversationBetween(ctx, f.bob.ID, f.admin.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestDeleteConversationCascadesToUser(t *testing.T) {
	f := newFixture(t, nil)
	f.seedMessage(t, f.alice, f.admin, "bye", time.Now().UTC())

	path := fmt.Sprintf("/api/conversations/%s?deleteUser=true", f.alice.ID)
	resp := f.request(t, http.MethodDelete, path, f.admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err := f.store.GetUser(context.Background(), f.alice.ID)
	assert.Error(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, map[string]bool{"alice-1": true})

	resp := f.request(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[healthResponse](t, resp)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, 1, body.Online)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
