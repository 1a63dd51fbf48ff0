package httpx

import "context"

type ctxKey string

const (
	CtxKeyUserName ctxKey = "user_name"
	CtxKeyScopes   ctxKey = "scopes"
	CtxKeyClaims   ctxKey = "claims" // full jwtx.Claims when needed
)

func scopesFromCtx(ctx context.Context) []string {
	if v, ok := ctx.Value(CtxKeyScopes).([]string); ok {
		return v
	}
	return nil
}

// UserNameFromCtx returns the authenticated username, or "" when the request
// is anonymous.
func UserNameFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyUserName).(string); ok {
		return v
	}
	return ""
}

// ScopesFromCtx returns the authenticated caller's scopes.
func ScopesFromCtx(ctx context.Context) []string {
	return scopesFromCtx(ctx)
}
