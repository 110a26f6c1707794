package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/hazyhaar/pagemark/kit"
)

type claimsKey struct{}

// Middleware extracts a JWT from the "token" cookie or the Authorization
// Bearer header. Valid claims are put on the request context together with
// the kit user id and handle. Invalid or missing tokens pass through
// anonymous; RequireAuth enforces.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var tokenStr string
			if c, err := r.Cookie("token"); err == nil && c.Value != "" {
				tokenStr = c.Value
			}
			if tokenStr == "" {
				if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
					tokenStr = h[len("Bearer "):]
				}
			}
			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := ValidateToken(secret, tokenStr)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims stores claims on ctx along with the kit identity keys.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, claimsKey{}, claims)
	ctx = kit.WithUserID(ctx, claims.UserID)
	author := claims.Author()
	return kit.WithHandle(ctx, author.Name)
}

// GetClaims returns the claims on ctx, or nil.
func GetClaims(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// RequireAuth answers 401 to requests without claims.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetClaims(r.Context()) == nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="pagemark"`)
			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireWriter answers 403 to authenticated requests whose role is
// read-only. It must run after RequireAuth.
func RequireWriter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := GetClaims(r.Context()); c != nil && !c.CanWrite() {
			http.Error(w, `{"error":"read-only token"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
