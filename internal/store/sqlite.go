// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/profile/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			display_name  TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);

		CREATE TABLE IF NOT EXISTS profiles (
			id                TEXT PRIMARY KEY,
			display_name      TEXT NOT NULL,
			category          TEXT NOT NULL,
			organization_name TEXT NOT NULL DEFAULT '',
			created_at        TEXT NOT NULL,

			CHECK (category IN ('recruiter', 'company', 'candidate'))
		);

		CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			sender_id   TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			content     TEXT NOT NULL,
			occurred_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_sender
			ON messages(sender_id, occurred_at);
		CREATE INDEX IF NOT EXISTS idx_messages_receiver
			ON messages(receiver_id, occurred_at);

		CREATE TABLE IF NOT EXISTS read_marks (
			user_id         TEXT NOT NULL,
			counterparty_id TEXT NOT NULL,
			last_read_at    TEXT NOT NULL,

			PRIMARY KEY (user_id, counterparty_id)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateUser inserts a new portal account.
// Returns ErrDuplicateUser if the ID or username is already taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, username, password_hash, display_name, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.PasswordHash,
		user.DisplayName,
		user.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		// Check for UNIQUE constraint violation
		if isConstraintViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "username", user.Username)
	return nil
}

// GetUser retrieves a user by ID. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, username, password_hash, display_name, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by login name. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := `
		SELECT id, username, password_hash, display_name, created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var user User
	var createdAtStr string

	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.DisplayName,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &user, nil
}

// ListUserIDs returns the IDs of all portal accounts.
func (s *SQLiteStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertProfile inserts or replaces a counterparty profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, profile *Profile) error {
	query := `
		INSERT INTO profiles (id, display_name, category, organization_name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			category = excluded.category,
			organization_name = excluded.organization_name
	`

	_, err := s.db.ExecContext(ctx, query,
		profile.ID,
		profile.DisplayName,
		profile.Category,
		profile.OrganizationName,
		profile.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}

	s.logger.Debug("upserted profile", "id", profile.ID, "category", profile.Category)
	return nil
}

// GetProfile retrieves a profile by ID. Returns ErrNotFound if absent,
// which the portal surfaces as a 404 for ghost senders.
func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	query := `
		SELECT id, display_name, category, organization_name, created_at
		FROM profiles
		WHERE id = ?
	`

	var profile Profile
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&profile.ID,
		&profile.DisplayName,
		&profile.Category,
		&profile.OrganizationName,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}

	profile.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &profile, nil
}

// SaveMessage persists one direct message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, sender_id, receiver_id, content, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		msg.OccurredAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "sender", msg.SenderID, "receiver", msg.ReceiverID)
	return nil
}

// ListConversations computes the snapshot for one user: the latest message
// per counterparty plus the unread count, newest conversation first.
// Counterparties without a profile row (ghost senders) are excluded.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*ConversationRow, error) {
	query := `
		WITH convo AS (
			SELECT
				CASE WHEN m.sender_id = ? THEN m.receiver_id ELSE m.sender_id END AS counterparty_id,
				m.id, m.sender_id, m.receiver_id, m.content, m.occurred_at,
				ROW_NUMBER() OVER (
					PARTITION BY CASE WHEN m.sender_id = ? THEN m.receiver_id ELSE m.sender_id END
					ORDER BY m.occurred_at DESC, m.id DESC
				) AS rn
			FROM messages m
			WHERE m.sender_id = ? OR m.receiver_id = ?
		)
		SELECT
			c.counterparty_id,
			p.id, p.display_name, p.category, p.organization_name, p.created_at,
			c.id, c.sender_id, c.receiver_id, c.content, c.occurred_at,
			(
				SELECT COUNT(*)
				FROM messages u
				WHERE u.receiver_id = ?
				  AND u.sender_id = c.counterparty_id
				  AND u.occurred_at > COALESCE(
					(SELECT r.last_read_at FROM read_marks r
					 WHERE r.user_id = ? AND r.counterparty_id = c.counterparty_id),
					'1970-01-01T00:00:00Z')
			) AS unread_count
		FROM convo c
		JOIN profiles p ON p.id = c.counterparty_id
		WHERE c.rn = 1
		ORDER BY c.occurred_at DESC, c.id DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var result []*ConversationRow
	for rows.Next() {
		var row ConversationRow
		var profile Profile
		var msg Message
		var profileCreatedStr, occurredStr string

		err := rows.Scan(
			&row.CounterpartyID,
			&profile.ID,
			&profile.DisplayName,
			&profile.Category,
			&profile.OrganizationName,
			&profileCreatedStr,
			&msg.ID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.Content,
			&occurredStr,
			&row.UnreadCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}

		profile.CreatedAt, err = time.Parse(time.RFC3339, profileCreatedStr)
		if err != nil {
			return nil, fmt.Errorf("parsing profile created_at: %w", err)
		}
		msg.OccurredAt, err = time.Parse(time.RFC3339, occurredStr)
		if err != nil {
			return nil, fmt.Errorf("parsing occurred_at: %w", err)
		}

		row.Profile = &profile
		row.LatestMessage = &msg
		result = append(result, &row)
	}
	return result, rows.Err()
}

// MarkRead records that the user has read the conversation with the given
// counterparty up to the given instant. Idempotent; later marks win.
func (s *SQLiteStore) MarkRead(ctx context.Context, userID, counterpartyID string, at time.Time) error {
	query := `
		INSERT INTO read_marks (user_id, counterparty_id, last_read_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, counterparty_id) DO UPDATE SET
			last_read_at = MAX(last_read_at, excluded.last_read_at)
	`

	_, err := s.db.ExecContext(ctx, query,
		userID,
		counterpartyID,
		at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting read mark: %w", err)
	}

	s.logger.Debug("marked read", "user", userID, "counterparty", counterpartyID)
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}
