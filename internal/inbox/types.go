// ABOUTME: Domain types for the conversation list: messages, profiles, conversations.
// ABOUTME: Profile is a tagged variant, placeholder until identity resolution completes.

package inbox

import "time"

// Message is a single exchanged message, in either direction.
type Message struct {
	SenderID   string
	ReceiverID string
	Content    string
	OccurredAt time.Time
}

// ProfileData is resolved counterparty identity data.
type ProfileData struct {
	ID               string
	DisplayName      string
	Category         string
	OrganizationName string
}

// Profile is the identity slot of a conversation: either a placeholder
// (counterparty seen in a live event but not yet resolved) or resolved
// profile data. The zero value is a placeholder, so presentation code
// cannot read unresolved identity as if it were real.
type Profile struct {
	resolved bool
	data     ProfileData
}

// PlaceholderProfile returns the unresolved profile state.
func PlaceholderProfile() Profile { return Profile{} }

// ResolvedProfile wraps resolved identity data.
func ResolvedProfile(data ProfileData) Profile {
	return Profile{resolved: true, data: data}
}

// Resolved returns the identity data and true once resolution completed.
func (p Profile) Resolved() (ProfileData, bool) { return p.data, p.resolved }

// IsPlaceholder reports whether the counterparty is still unresolved.
func (p Profile) IsPlaceholder() bool { return !p.resolved }

// Conversation is one counterparty-scoped thread summary in the list.
type Conversation struct {
	CounterpartyID string
	Profile        Profile
	LatestMessage  Message
	UnreadCount    int
}
