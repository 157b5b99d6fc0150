// ABOUTME: HTTP middleware that requires a valid bearer session token
// ABOUTME: Expired tokens get a JSON error body, every other failure an empty 401

package auth

import (
	"net/http"
)

// expiredBody is the only failure that carries a body, so clients can
// tell they should open a new session.
const expiredBody = `{"error":"token expired"}`

// RequireBearer wraps next so it only runs for requests carrying a valid
// session token. The AuthContext is attached to the request context.
func RequireBearer(g *Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := g.ValidateHeader(r.Header.Get("Authorization"))
			switch result.Status {
			case TokenValid:
				next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), contextFromClaims(result.Claims))))
			case TokenExpired:
				g.logger.Debug("auth failure", "reason", "token expired", "remote", r.RemoteAddr, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(expiredBody))
			default:
				g.logger.Debug("auth failure", "reason", "token "+result.Status.String(), "remote", r.RemoteAddr, "path", r.URL.Path)
				w.WriteHeader(http.StatusUnauthorized)
			}
		})
	}
}
