package auth

import "context"

type ctxKey int

const ctxClient ctxKey = iota

const (
	ClientAPIKey    = "api_key"
	ClientAnonymous = "anonymous"
)

// WithClient records how the caller authenticated.
func WithClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, ctxClient, client)
}

// Client returns the value set by WithClient, or ClientAnonymous.
func Client(ctx context.Context) string {
	if s, ok := ctx.Value(ctxClient).(string); ok && s != "" {
		return s
	}
	return ClientAnonymous
}
