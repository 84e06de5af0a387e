package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/josh-kwaku/casino-wallet-core/internal/auth"
	"github.com/josh-kwaku/casino-wallet-core/internal/handler"
	"github.com/josh-kwaku/casino-wallet-core/internal/logging"
)

func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			claims, err := auth.ValidateToken(token, secret)
			if err != nil {
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			ctx := auth.ContextWithClaims(r.Context(), claims)
			ctx = logging.With(ctx, "user_id", claims.UserID, "role", claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers whose token role is not in roles. It must run
// after Auth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}
			if !slices.Contains(roles, claims.Role) {
				logging.FromContext(r.Context()).Warn("role not permitted",
					"path", r.URL.Path,
					"required", roles,
				)
				handler.RespondAppError(w, handler.ErrForbidden, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
