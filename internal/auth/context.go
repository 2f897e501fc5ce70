package auth

import "context"

type operatorKey struct{}

// WithOperator returns a copy of ctx carrying the authenticated operator ID
func WithOperator(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, operatorKey{}, operatorID)
}

// OperatorFrom returns the operator ID stored in ctx, or "" for public and
// background callers
func OperatorFrom(ctx context.Context) string {
	id, _ := ctx.Value(operatorKey{}).(string)
	return id
}
