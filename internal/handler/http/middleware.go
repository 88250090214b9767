package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/skalov/mealmart/internal/models"
	"github.com/skalov/mealmart/internal/service"
)

type contextKey string

const (
	authPayloadKey contextKey = "auth_payload"
)

// AuthMiddleware verifies the bearer token and passes the authenticated
// principal to the request context
func AuthMiddleware(ts service.TokenService) func(handler http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			payload, err := ts.VerifyToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
				return
			}

			ctx := context.WithValue(r.Context(), authPayloadKey, payload)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// getAuthPayload extracts authenticated principal from context
func getAuthPayload(ctx context.Context) (*models.TokenPayload, bool) {
	payload, ok := ctx.Value(authPayloadKey).(*models.TokenPayload)
	return payload, ok
}
