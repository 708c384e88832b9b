package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/chartlock/chartlock/internal/models"
	pkghttp "github.com/chartlock/chartlock/pkg/http"
)

type contextKey string

const (
	// ContextKeyAccountID holds the authenticated account's ID.
	ContextKeyAccountID contextKey = "account_id"
	// ContextKeyClaims holds the full access-token claims.
	ContextKeyClaims contextKey = "token_claims"
)

// RequireAccessToken authenticates requests with a Bearer access token and
// places the account ID and claims in the request context. Access tokens
// are stateless; only refresh tokens are store-gated.
func RequireAccessToken(tm *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractBearerToken(r)
			if tokenString == "" {
				pkghttp.WriteUnauthorized(w, "Missing or malformed Authorization header")
				return
			}

			claims, err := tm.VerifyAccessToken(tokenString)
			if err != nil {
				switch err {
				case models.ErrTokenExpired:
					pkghttp.WriteError(w, http.StatusUnauthorized, "token_expired", "Access token expired")
				default:
					pkghttp.WriteUnauthorized(w, "Invalid access token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyAccountID, claims.Subject)
			ctx = context.WithValue(ctx, ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccountIDFromContext returns the authenticated account ID, if any.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ContextKeyAccountID).(string)
	return id, ok && id != ""
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
