package visitor

import "context"

type contextKey string

func (c contextKey) String() string {
	return "portal/visitor/" + string(c)
}

const ctxKeyScope = contextKey("scopeKey")

// ToContext pushes a visitor scope into the supplied context.
func ToContext(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, ctxKeyScope, scope)
}

// FromContext extracts the visitor scope from the supplied context if any exist.
func FromContext(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(ctxKeyScope).(*Scope)
	return scope, ok && scope != nil
}

// MustFromContext is FromContext for code that only runs behind Middleware.
// It panics when no scope is attached.
func MustFromContext(ctx context.Context) *Scope {
	scope, ok := FromContext(ctx)
	if !ok {
		panic("visitor: no scope in context, is the handler mounted behind visitor.Middleware?")
	}
	return scope
}
