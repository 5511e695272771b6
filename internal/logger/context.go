package logger

import "context"

// contextKey is a private type to prevent collisions with other context keys.
type contextKey struct{}

// eventIDKey is the context key for the event being processed.
var eventIDKey = contextKey{}

// WithEventID returns a new context carrying the ID of the event being
// processed, so every log line on the write path can be correlated.
func WithEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, eventIDKey, id)
}

// EventID extracts the event ID from the context.
// Returns an empty string if none is set.
func EventID(ctx context.Context) string {
	id, _ := ctx.Value(eventIDKey).(string)
	return id
}
