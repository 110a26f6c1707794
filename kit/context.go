package kit

import "context"

type ctxKey int

const (
	userIDKey ctxKey = iota
	handleKey
	traceIDKey
	remoteAddrKey
)

func str(ctx context.Context, k ctxKey) string {
	v, _ := ctx.Value(k).(string)
	return v
}

// WithUserID records the authenticated user id.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// GetUserID returns the user id, "" for anonymous calls.
func GetUserID(ctx context.Context) string { return str(ctx, userIDKey) }

// WithHandle records the display name of the caller.
func WithHandle(ctx context.Context, h string) context.Context {
	return context.WithValue(ctx, handleKey, h)
}

func GetHandle(ctx context.Context) string { return str(ctx, handleKey) }

// WithTraceID records the request trace id logged by shield and dbopen.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func GetTraceID(ctx context.Context) string { return str(ctx, traceIDKey) }

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey, addr)
}

func GetRemoteAddr(ctx context.Context) string { return str(ctx, remoteAddrKey) }
