package util

import "context"

type correlationKey struct{}

// WithCorrelationID returns a context carrying the given correlation id.
// The id follows a request through the cache, upstream, and queue layers so
// their logs and errors remain joinable with upstream service logs.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id stored on the context, or ""
// if none was set.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
