package logging

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}

// EnableDebugMode returns a context whose CDebugw traces are logged at info, tagged with traceID so
// the lines of one call can be picked out. An empty traceID generates a short random one.
func EnableDebugMode(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = uuid.NewString()[:8]
	}
	return context.WithValue(ctx, traceKey{}, traceID)
}

// IsDebugMode returns whether ctx was marked with EnableDebugMode.
func IsDebugMode(ctx context.Context) bool {
	return TraceID(ctx) != ""
}

// TraceID returns the id ctx was marked with, or "" outside debug mode.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
