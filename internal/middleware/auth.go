package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/atlasbank/ledger-service/internal/models"
	"github.com/gorilla/mux"
)

type contextKey struct{}

var sessionKey contextKey

// TokenParser validates a bearer token and returns the session it
// encodes. Implemented by the service layer.
type TokenParser interface {
	ParseToken(token string) (models.Session, error)
}

// AuthMiddleware extracts the caller identity from the Authorization
// header and stores it in the request context. Handlers never see an
// unauthenticated request.
func AuthMiddleware(parser TokenParser) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			sess, err := parser.ParseToken(parts[1])
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFrom returns the session stored by AuthMiddleware.
func SessionFrom(ctx context.Context) (models.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(models.Session)
	return sess, ok
}
