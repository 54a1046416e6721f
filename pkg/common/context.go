package common

import (
	"context"
	"time"
)

// ContextKey represents a context key type
type ContextKey string

// Context keys
const (
	ContextKeyIdentity  ContextKey = "identity"
	ContextKeyRequestID ContextKey = "request_id"
	ContextKeyStartTime ContextKey = "start_time"
)

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID        string `json:"userId"`
	InstitutionID string `json:"institutionId"`
	Role          string `json:"role"`
}

// Key identifies the caller across institutions.
func (i Identity) Key() string {
	return i.InstitutionID + ":" + i.UserID
}

// WithIdentity adds the caller identity to context
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, identity)
}

// GetIdentity extracts the caller identity from context
func GetIdentity(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(ContextKeyIdentity).(Identity)
	return identity, ok
}

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// GetRequestID extracts request ID from context
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(ContextKeyRequestID).(string)
	return requestID, ok
}

// WithStartTime adds start time to context
func WithStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyStartTime, startTime)
}

// GetElapsedTime calculates elapsed time from start time in context
func GetElapsedTime(ctx context.Context, now time.Time) time.Duration {
	if startTime, ok := ctx.Value(ContextKeyStartTime).(time.Time); ok {
		return now.Sub(startTime)
	}
	return 0
}
