// ABOUTME: Request-scoped identity propagation for authenticated portal users
// ABOUTME: Provides WithUser/UserFromContext for handler access to the session owner

package auth

import (
	"context"
)

// userKey is the key type for storing the authenticated user ID in context.Context.
type userKey struct{}

// WithUser returns a new context carrying the authenticated user's ID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext retrieves the authenticated user ID, returning "" if the
// request was not authenticated.
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}
