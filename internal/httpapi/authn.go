package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"eegportal.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// requireIdentity answers 401 when no token is presented and 403 when the
// presented value does not verify, whatever its scheme.
func (a *API) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		if a.tokens == nil {
			writeError(w, r, http.StatusInternalServerError, "authentication unavailable")
			return
		}
		id, err := a.tokens.Verify(token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				logError(r, "token verification failed", err)
			}
			writeError(w, r, http.StatusForbidden, "invalid token")
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), id)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok || !id.IsAdmin {
			writeError(w, r, http.StatusUnauthorized, "permission denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractBearerToken strips an optional "Bearer " prefix. Any other non-empty
// value is returned as is and left for Verify to reject.
func extractBearerToken(header string) (string, error) {
	token := strings.TrimLeft(header, " \t")
	if len(token) >= len(bearer) && strings.EqualFold(token[:len(bearer)], bearer) {
		token = token[len(bearer):]
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
