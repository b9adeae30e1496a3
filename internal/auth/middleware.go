package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserProvisioner creates or refreshes the local user row for a
// provider-issued subject and returns the local user id.
type UserProvisioner interface {
	UpsertUser(ctx context.Context, subject, name, email, avatar string) (int64, error)
}

// Middleware resolves the bearer token, provisions the user on first sight
// and stores the local user id in the request context. Requests without an
// Authorization header pass through unauthenticated; whether that is an error
// is decided per operation downstream. A present but invalid token is
// rejected immediately.
func Middleware(secret []byte, users UserProvisioner) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				http.Error(w, `{"error":"Unauthenticated."}`, http.StatusUnauthorized)
				return
			}

			claims, err := ParseToken(strings.TrimSpace(tokenString), secret)
			if err != nil {
				slog.WarnContext(r.Context(), "Token rejected", "error", err)
				http.Error(w, `{"error":"Unauthenticated."}`, http.StatusUnauthorized)
				return
			}

			userID, err := users.UpsertUser(r.Context(), claims.Subject, claims.Name, claims.Email, claims.Avatar)
			if err != nil {
				slog.ErrorContext(r.Context(), "User provisioning failed", "error", err, "subject", claims.Subject)
				http.Error(w, `{"error":"Internal server error."}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID returns the resolved local user id, or zero when the request is
// unauthenticated.
func UserID(ctx context.Context) int64 {
	if id, ok := ctx.Value(userIDKey).(int64); ok {
		return id
	}
	return 0
}

// WithUserID injects a resolved user id; used by tests exercising layers
// below the middleware.
func WithUserID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}
