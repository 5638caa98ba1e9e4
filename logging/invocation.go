package logging

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type invocationKey struct{}

// WithInvocation returns a context carrying a fresh invocation id and
// the id itself. Records logged with that context via the *Context
// methods carry an invocation_id attribute.
func WithInvocation(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(ctx, invocationKey{}, id), id
}

// InvocationFromContext returns the invocation id stored in ctx, or "".
func InvocationFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(invocationKey{}).(string)
	return id
}

// invocationHandler adds invocation_id from the context to each record.
type invocationHandler struct {
	slog.Handler
}

func (h invocationHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := InvocationFromContext(ctx); id != "" {
		r.AddAttrs(slog.String("invocation_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h invocationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return invocationHandler{h.Handler.WithAttrs(attrs)}
}

func (h invocationHandler) WithGroup(name string) slog.Handler {
	return invocationHandler{h.Handler.WithGroup(name)}
}

// WithInvocationHandler wraps a logger so invocation ids are extracted
// from the context.
func WithInvocationHandler(logger *slog.Logger) *slog.Logger {
	if _, ok := logger.Handler().(invocationHandler); ok {
		return logger
	}
	return slog.New(invocationHandler{logger.Handler()})
}
