package middleware

import (
	"net/http"
	"strings"

	"github.com/circlehub/newsletter/internal/auth"
)

// TokenValidator validates operator bearer tokens. Implemented by auth.TokenService.
type TokenValidator interface {
	Validate(token string) (*auth.OperatorClaims, error)
}

// Operator creates a middleware that only admits requests carrying a valid
// operator bearer token. The operator ID is stored in the request context.
func (m *Middleware) Operator(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var tokenString string
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				scheme, token, ok := strings.Cut(authHeader, " ")
				if ok && strings.EqualFold(scheme, "bearer") {
					tokenString = strings.TrimSpace(token)
				}
			}

			if tokenString == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="newsletter"`)
				writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}

			claims, err := tokens.Validate(tokenString)
			if err != nil {
				m.log.Debug().Err(err).Str("path", r.URL.Path).Msg("operator token validation failed")
				w.Header().Set("WWW-Authenticate", `Bearer realm="newsletter", error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, "invalid_token", "The operator token is invalid or expired")
				return
			}

			ctx := auth.WithOperator(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
