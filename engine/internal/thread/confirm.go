package thread

import "context"

// Confirmer asks the user to approve a destructive action.
type Confirmer func(ctx context.Context, prompt string) bool

type confirmedKey struct{}

// WithConfirmation marks ctx as carrying the user's approval. Hosts that
// collect approval up front (a confirm flag on a tool call, a dialog already
// answered) attach it this way.
func WithConfirmation(ctx context.Context) context.Context {
	return context.WithValue(ctx, confirmedKey{}, true)
}

// Confirmed reports whether ctx carries approval.
func Confirmed(ctx context.Context) bool {
	v, _ := ctx.Value(confirmedKey{}).(bool)
	return v
}

// ConfirmFromContext is the default Confirmer.
func ConfirmFromContext(ctx context.Context, _ string) bool {
	return Confirmed(ctx)
}
