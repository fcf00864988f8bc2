// Package corrid carries the per-operation correlation ID ambiently through
// a context.Context, the way packages/go-core/middleware carries user/org
// identity for request-scoped values.
package corrid

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey string

// correlationIDKey is the context key under which the current correlation
// ID is stored.
const correlationIDKey contextKey = "correlation_id"

// New generates a random 128-bit correlation ID, hex-encoded.
func New() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand on a sane platform does not fail; if it somehow does,
		// returning a zero ID is safer than panicking a long-running loop.
		return hex.EncodeToString(b[:])
	}
	return hex.EncodeToString(b[:])
}

// With returns a new context carrying the given correlation ID, restoring
// the previous value (if any) once the derived context is no longer in use.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// WithNew returns a new context carrying a freshly generated correlation ID,
// and the ID itself for immediate use (e.g. the first log line of a scope).
func WithNew(ctx context.Context) (context.Context, string) {
	id := New()
	return With(ctx, id), id
}

// From extracts the current correlation ID, or "" if no scope set one.
func From(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}
