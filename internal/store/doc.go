// Package store provides persistent storage for the portal using SQLite.
//
// # Data Models
//
//   - User: portal accounts with bcrypt password hashes
//   - Profile: public identity cards for counterparties (recruiters,
//     companies, candidates); ghost senders have no profile row
//   - Message: direct messages between two user IDs
//
// ListConversations aggregates the messages table into the snapshot the
// portal serves: per counterparty, the latest message plus the unread
// count relative to the read_marks table. Counterparties without a
// profile row are excluded; their conversations exist only reactively
// on clients that saw the live event.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC3339 UTC strings, which sort
// lexicographically in ORDER BY and comparison clauses.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateUser: User ID or username already taken
//
// All methods accept context.Context for cancellation support.
package store
