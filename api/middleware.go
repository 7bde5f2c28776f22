package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/tripmind/tripmind/auth"
)

type contextKey int

const userKey contextKey = iota

// authenticate resolves the bearer token to a user and attaches it to
// the request context. Requests without a valid token get 401.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		user, err := h.auth.CurrentUser(token)
		if err != nil {
			h.logger.Debug("token rejected", "err", err)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// currentUser returns the authenticated user attached by authenticate.
func currentUser(ctx context.Context) auth.User {
	user, _ := ctx.Value(userKey).(auth.User)
	return user
}
