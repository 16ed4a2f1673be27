// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/socketgate/pkg/contextkeys"
//	ctx = contextkeys.WithConnID(ctx, conn.ID)
//	connID := contextkeys.GetConnID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ConnIDKey contains the connection ID string (UUID)
	// Set by: transport.Server when a connection attempt arrives
	// Used by: Logger, audit trail, tracing
	// Type: string
	ConnIDKey Key = "conn_id"

	// UserIDKey contains the authenticated user ID string
	// Set by: gateway.Gateway after authentication succeeds
	// Used by: Logger, per-event handlers
	// Type: string
	UserIDKey Key = "user_id"

	// EventKey contains the name of the event being handled
	// Set by: transport.Client before dispatching an inbound message
	// Used by: Logger
	// Type: string
	EventKey Key = "event"

	// LoggerKey contains *observability.Logger
	// Set by: transport.Server for each connection
	// Used by: Anything that needs structured logging with connection context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithConnID adds the connection ID to the context
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnIDKey, connID)
}

// WithUserID adds the user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithEvent adds the event name to the context
func WithEvent(ctx context.Context, event string) context.Context {
	return context.WithValue(ctx, EventKey, event)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetConnID retrieves the connection ID from context
func GetConnID(ctx context.Context) string {
	if connID, ok := ctx.Value(ConnIDKey).(string); ok {
		return connID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetEvent retrieves the event name from context
func GetEvent(ctx context.Context) string {
	if event, ok := ctx.Value(EventKey).(string); ok {
		return event
	}
	return ""
}
