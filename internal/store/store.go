// ABOUTME: Store interface and data types for portal persistence
// ABOUTME: Defines User, Profile, Message structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUser is returned when creating a user whose ID or username is taken
var ErrDuplicateUser = errors.New("user already exists")

// User is a portal account that can log in and own an inbox
type User struct {
	ID           string
	Username     string
	PasswordHash string
	DisplayName  string
	CreatedAt    time.Time
}

// Profile is the public identity card of a message counterparty.
// Ghost senders have messages but no profile row.
type Profile struct {
	ID               string
	DisplayName      string
	Category         string // "recruiter", "company", "candidate"
	OrganizationName string
	CreatedAt        time.Time
}

// Message is one direct message between two users
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	OccurredAt time.Time
}

// ConversationRow is one aggregated snapshot entry: the latest message
// exchanged with a counterparty plus the owner's unread count. Profile is
// always present; counterparties without a profile are excluded from
// snapshots.
type ConversationRow struct {
	CounterpartyID string
	Profile        *Profile
	LatestMessage  *Message
	UnreadCount    int
}

// Store defines the interface for portal persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUserIDs(ctx context.Context) ([]string, error)

	// Profiles
	UpsertProfile(ctx context.Context, profile *Profile) error
	GetProfile(ctx context.Context, id string) (*Profile, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error

	// Conversation snapshots
	ListConversations(ctx context.Context, userID string) ([]*ConversationRow, error)
	MarkRead(ctx context.Context, userID, counterpartyID string, at time.Time) error

	// Close releases any resources held by the store
	Close() error
}
