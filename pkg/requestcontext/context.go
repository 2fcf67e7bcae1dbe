// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; transport handlers read them once and pass
// what the core needs explicitly. The session in particular is extracted at
// the handler boundary and never read from context by services.
//
// Usage in handlers:
//
//	sess := requestcontext.Session(ctx)
//	requestID := requestcontext.RequestID(ctx)
//
// Usage in tests:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	"govportal/pkg/session"
)

type (
	sessionKey     struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeySession     = sessionKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// Session retrieves the authenticated session. Returns the zero value if unset.
func Session(ctx context.Context) session.Session {
	if s, ok := ctx.Value(ContextKeySession).(session.Session); ok {
		return s
	}
	return session.Session{}
}

// WithSession injects the authenticated session.
func WithSession(ctx context.Context, s session.Session) context.Context {
	return context.WithValue(ctx, ContextKeySession, s)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, background refetches, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
