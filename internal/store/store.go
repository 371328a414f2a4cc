// Package store implements the durable conversation store on SQLite.
//
// All mutations funnel through a single writer goroutine, which keeps
// SQLite free of write contention and gives every caller synchronous
// durability: when Append returns, the message is on disk. Reads run
// concurrently against the same connection pool, so a read issued after a
// completed write always observes it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"guestline/pkg/interfaces"
	"guestline/pkg/types"
)

// Store implements interfaces.MessageStore and interfaces.UserStore over
// one SQLite database.
type Store struct {
	db       *sql.DB
	writes   chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup
	closed   bool
	mu       sync.RWMutex
	log      zerolog.Logger
}

// writeOp is one queued mutation; result carries completion back to the
// caller so writes stay synchronous from the caller's perspective.
type writeOp struct {
	operation func(*sql.DB) error
	result    chan error
}

const writeTimeout = 30 * time.Second

// Open opens (creating if necessary) the database at path and starts the
// writer goroutine.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := applySQLitePragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := bootstrapSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		writes:   make(chan writeOp, 100),
		shutdown: make(chan struct{}),
		log:      log,
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// writeLoop drains the write queue sequentially. Failed writes are
// reported to the caller and not retried; every mutation here is a single
// statement with no partial state to reconcile.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writes:
			s.runWrite(op)

		case <-s.shutdown:
			// Flush writes accepted before shutdown so their callers get
			// an answer instead of waiting forever.
			for {
				select {
				case op := <-s.writes:
					s.runWrite(op)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) runWrite(op writeOp) {
	err := op.operation(s.db)
	if err != nil {
		s.log.Error().Err(err).Msg("store write failed")
	}
	op.result <- err
}

// executeWrite queues a mutation and waits for it to complete.
func (s *Store) executeWrite(operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case s.writes <- writeOp{operation: operation, result: result}:
		select {
		case err := <-result:
			return err
		case <-s.shutdown:
			// The shutdown flush answers anything that made it into the
			// queue first; only an op enqueued after the flush lands here.
			select {
			case err := <-result:
				return err
			default:
				return fmt.Errorf("store is shutting down")
			}
		}
	case <-time.After(writeTimeout):
		return fmt.Errorf("store write timeout")
	case <-s.shutdown:
		return fmt.Errorf("store is shutting down")
	}
}

// Append durably stores a message. Returns only after the insert commits.
func (s *Store) Append(ctx context.Context, msg *types.Message) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO messages (id, sender_id, receiver_id, content, read, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, msg.Read, msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// ConversationBetween returns all messages between the unordered pair
// {a, b}, ascending by createdAt with insertion order breaking ties.
func (s *Store) ConversationBetween(ctx context.Context, a, b string) ([]*types.Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, sender_id, receiver_id, content, read, created_at
		 FROM messages
		 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		 ORDER BY created_at ASC, rowid ASC`,
		a, b, b, a,
	)
}

// MessagesFor returns every message userID sent or received, ascending.
func (s *Store) MessagesFor(ctx context.Context, userID string) ([]*types.Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, sender_id, receiver_id, content, read, created_at
		 FROM messages
		 WHERE sender_id = ? OR receiver_id = ?
		 ORDER BY created_at ASC, rowid ASC`,
		userID, userID,
	)
}

// GetMessage looks up one message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, sender_id, receiver_id, content, read, created_at
		 FROM messages WHERE id = ?`,
		id,
	)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return msg, nil
}

// LastMessage returns the newest message between the pair, or nil when
// the pair has no history.
func (s *Store) LastMessage(ctx context.Context, a, b string) (*types.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, sender_id, receiver_id, content, read, created_at
		 FROM messages
		 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT 1`,
		a, b, b, a,
	)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last message: %w", err)
	}
	return msg, nil
}

// UnreadCount counts messages from senderID to receiverID that the
// receiver has not read. Reflects the latest completed Append/MarkRead.
func (s *Store) UnreadCount(ctx context.Context, senderID, receiverID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE sender_id = ? AND receiver_id = ? AND read = 0`,
		senderID, receiverID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// MarkRead advances the read flag of one message, gated on receiverID
// matching the stored receiver. The predicate also requires read = 0, so
// the flag can never move backwards and repeat calls are no-ops. Returns
// whether a row actually changed.
func (s *Store) MarkRead(ctx context.Context, messageID, receiverID string) (bool, error) {
	var changed bool
	err := s.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE messages SET read = 1
			 WHERE id = ? AND receiver_id = ? AND read = 0`,
			messageID, receiverID,
		)
		if err != nil {
			return fmt.Errorf("failed to mark message read: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		changed = n > 0
		return nil
	})
	return changed, err
}

// MarkConversationRead marks all unread messages from senderID to
// receiverID as read. Used by the admin history fetch side effect.
func (s *Store) MarkConversationRead(ctx context.Context, senderID, receiverID string) (int, error) {
	var changed int
	err := s.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE messages SET read = 1
			 WHERE sender_id = ? AND receiver_id = ? AND read = 0`,
			senderID, receiverID,
		)
		if err != nil {
			return fmt.Errorf("failed to mark conversation read: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		changed = int(n)
		return nil
	})
	return changed, err
}

// DeleteConversation removes all messages between the pair, both
// directions.
func (s *Store) DeleteConversation(ctx context.Context, a, b string) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`DELETE FROM messages
			 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)`,
			a, b, b, a,
		)
		if err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		return nil
	})
}

// GetUser looks up a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, role, created_at, last_login
		 FROM users WHERE id = ?`,
		id,
	)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// AdminUser returns the distinguished admin user.
func (s *Store) AdminUser(ctx context.Context) (*types.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, role, created_at, last_login
		 FROM users WHERE role = 'admin'`,
	)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrAdminNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query admin user: %w", err)
	}
	return user, nil
}

// ListVisitors returns all non-admin users.
func (s *Store) ListVisitors(ctx context.Context) ([]*types.User, error) {
	return s.queryUsers(ctx,
		`SELECT id, username, email, role, created_at, last_login
		 FROM users WHERE role != 'admin'
		 ORDER BY created_at ASC`,
	)
}

// SearchVisitors returns non-admin users whose username or email contains
// the query, case-insensitively. Empty query matches everyone.
func (s *Store) SearchVisitors(ctx context.Context, query string) ([]*types.User, error) {
	if query == "" {
		return s.ListVisitors(ctx)
	}
	pattern := "%" + query + "%"
	return s.queryUsers(ctx,
		`SELECT id, username, email, role, created_at, last_login
		 FROM users
		 WHERE role != 'admin' AND (username LIKE ? OR email LIKE ?)
		 ORDER BY created_at ASC`,
		pattern, pattern,
	)
}

// CreateUser inserts a user. A second admin row fails on the partial
// unique index.
func (s *Store) CreateUser(ctx context.Context, user *types.User) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO users (id, username, email, role, created_at, last_login)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			user.ID, user.Username, user.Email, string(user.Role), user.CreatedAt, user.LastLogin,
		)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// DeleteUser removes a user record.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		return nil
	})
}

// HealthCheck validates connectivity and basic read access.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close drains the writer goroutine and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*types.Message, error) {
	var msg types.Message
	if err := row.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.Read, &msg.CreatedAt); err != nil {
		return nil, err
	}
	return &msg, nil
}

func scanUser(row scanner) (*types.User, error) {
	var user types.User
	var role string
	var lastLogin sql.NullTime
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &role, &user.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	user.Role = types.Role(role)
	if lastLogin.Valid {
		user.LastLogin = &lastLogin.Time
	}
	return &user, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...any) ([]*types.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*types.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, user)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}

// Interface conformance checks.
var (
	_ interfaces.MessageStore = (*Store)(nil)
	_ interfaces.UserStore    = (*Store)(nil)
)
