package models

import "context"

type sessionContextKey struct{}

// Session carries the authenticated caller identity through every settlement
// call. The identity provider binds UserId to WalletAddress at login; the
// engine trusts this binding for role resolution and holds no caller state
// of its own.
type Session struct {
	UserId        string
	WalletAddress string
}

// WithSession attaches a caller session to a context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// GetSession retrieves the caller session from a context, or nil if absent.
func GetSession(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionContextKey{}).(*Session)
	return s
}
