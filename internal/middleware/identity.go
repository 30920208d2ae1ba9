package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const UserKey contextKey = "user"

// UserHeader carries the acting participant's name. It is trusted as is.
const UserHeader = "User"

// Identity stores the name from the User header in the request context.
// Requests without one are rejected with 401. WebSocket clients cannot set
// headers, so a user query parameter is accepted as a fallback.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(UserHeader))
		if user == "" {
			user = strings.TrimSpace(r.URL.Query().Get("user"))
		}
		if user == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// User returns the acting participant set by Identity, or "".
func User(r *http.Request) string {
	user, _ := r.Context().Value(UserKey).(string)
	return user
}
