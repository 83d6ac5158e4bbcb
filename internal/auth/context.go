package auth

import "context"

type contextKey struct{}

// WithUserID returns a context carrying the resolved user ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserIDFrom returns the user ID stored by WithUserID, or "" for anonymous requests.
func UserIDFrom(ctx context.Context) string {
	userID, _ := ctx.Value(contextKey{}).(string)
	return userID
}
