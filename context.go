package goSession

import "context"

type requestIDContextKey struct{}

// WithRequestID attaches an inbound request id to ctx. Audit events emitted
// for work done under ctx carry it as request_id metadata.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}
