package logger

import "context"

type ctxKey struct{}

// WithRequestID attaches the request correlation id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestID returns the correlation id attached by WithRequestID.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// FromContext returns log with the request id of ctx attached, if any.
func FromContext(ctx context.Context, log Logger) Logger {
	if id := RequestID(ctx); id != "" {
		return log.With(map[string]interface{}{"request_id": id})
	}
	return log
}
