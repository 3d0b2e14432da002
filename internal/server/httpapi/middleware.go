package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/complyscan/scanstore/internal/common"
	"github.com/complyscan/scanstore/internal/server/auth"
)

type contextKey string

const claimsKey contextKey = "claims"

// authenticate validates the Bearer token and stores the caller's claims in
// the request context. Everything under /v1 requires a token; the tenant
// scope of every downstream query comes from these claims, never from the
// request body.
func authenticate(signingKey []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
			if token == "" || token == header {
				http.Error(w, "expected Bearer token", http.StatusUnauthorized)
				return
			}

			claims, err := auth.ParseToken(token, signingKey)
			if err != nil {
				if errors.Is(err, common.ErrTokenExpired) {
					http.Error(w, "token expired", http.StatusUnauthorized)
					return
				}
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireAdmin gates the administrative subtree.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := callerClaims(r.Context()); c == nil || !c.Admin {
			http.Error(w, "admin access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerClaims(ctx context.Context) *auth.Claims {
	if c, ok := ctx.Value(claimsKey).(*auth.Claims); ok {
		return c
	}
	return nil
}
