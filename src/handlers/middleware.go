package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/username/slips/src/logger"
	"github.com/username/slips/src/utils"
)

type contextKey string

const operatorContextKey contextKey = "operator"

// TokenValidator resolves a bearer token to the operator it was issued to.
type TokenValidator interface {
	ValidateToken(tokenString string) (string, error)
}

// AuthMiddleware requires a valid operator bearer token and puts the operator name
// and a request-scoped logger into the context.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.L.Debug("AuthMiddleware: Authorization header missing", "path", r.URL.Path)
				utils.SendJSONError(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if tokenString == "" {
				logger.L.Debug("AuthMiddleware: Token string empty", "path", r.URL.Path)
				utils.SendJSONError(w, "Malformed token", http.StatusUnauthorized)
				return
			}

			operator, err := validator.ValidateToken(tokenString)
			if err != nil {
				logger.L.Warn("AuthMiddleware: Token validation failed", "path", r.URL.Path, "error", err)
				utils.SendJSONError(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), operatorContextKey, operator)
			ctx = logger.WithLogger(ctx, logger.L.With("operator", operator))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOperatorFromContext returns the operator set by AuthMiddleware.
func GetOperatorFromContext(ctx context.Context) (string, bool) {
	operator, ok := ctx.Value(operatorContextKey).(string)
	return operator, ok
}
