package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/alwaysplan/internal/auth"
	"github.com/dukerupert/alwaysplan/internal/model"
)

// UserLookup resolves an API token to its user. store.UserStore satisfies it.
type UserLookup interface {
	GetByToken(token string) (*model.User, error)
}

// Token extracts the API token from the Authorization bearer header or,
// failing that, the "token" query parameter. The query form exists for
// clients that cannot set headers: calendar subscriptions and websockets.
func Token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// RequireUser authenticates the request token and populates AuthContext.
func RequireUser(users UserLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := Token(r)
			if token == "" {
				unauthorized(w)
				return
			}

			u, err := users.GetByToken(token)
			if err != nil {
				logger.Error("lookup api token", "error", err)
				writeError(w, http.StatusInternalServerError, "authentication failed")
				return
			}
			if u == nil {
				unauthorized(w)
				return
			}

			ctx := auth.WithAuth(r.Context(), auth.FromUser(u))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FeedVerifier checks calendar feed tokens. auth.FeedSigner satisfies it.
type FeedVerifier interface {
	Verify(token string) (*auth.FeedClaims, error)
}

// UserByID loads a user. store.UserStore satisfies it.
type UserByID interface {
	GetByID(id int64) (*model.User, error)
}

// RequireFeedToken authenticates the "feed" query parameter of a calendar
// subscription URL. The token must still match the user's API token.
func RequireFeedToken(verifier FeedVerifier, users UserByID, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := verifier.Verify(r.URL.Query().Get("feed"))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid feed token")
				return
			}
			userID, _ := claims.UserID()

			u, err := users.GetByID(userID)
			if err != nil {
				logger.Error("lookup feed user", "user_id", userID, "error", err)
				writeError(w, http.StatusInternalServerError, "authentication failed")
				return
			}
			if u == nil || !claims.Matches(u.APIToken) {
				writeError(w, http.StatusUnauthorized, "invalid feed token")
				return
			}

			ctx := auth.WithAuth(r.Context(), auth.FromUser(u))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="alwaysplan"`)
	writeError(w, http.StatusUnauthorized, "authentication required")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
