package shared

import "context"

type sessionIDContextKey struct{}

type adminSessionIDContextKey struct{}

// ContextWithSessionID stores the caller's engine session ID in context.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey{}, id)
}

// SessionIDFromContext extracts the caller's engine session ID from context.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey{}).(string)
	return id
}

// ContextWithAdminSessionID stores the admin session ID used to gate
// administrative mutations.
func ContextWithAdminSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, adminSessionIDContextKey{}, id)
}

// AdminSessionIDFromContext extracts the admin session ID from context.
func AdminSessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(adminSessionIDContextKey{}).(string)
	return id
}
