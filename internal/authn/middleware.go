package authn

import (
	"encoding/json"
	"net/http"

	"github.com/rjlane/courses/internal/apperr"
)

// RequireUser authenticates every request through Service and attaches the
// resolved principal to the request context before calling next; on failure
// it writes the `{detail: <user_message>}` body spec.md §7 mandates and
// never calls next.
func RequireUser(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := svc.Authenticate(r.Context(), r)
			if err != nil {
				writeAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireInternalToken guards the `/internal/...` surface (spec.md §6's
// `POST /internal/courses/{id}/continue`) with the shared INTERNAL_API_SECRET
// instead of a per-user session.
func RequireInternalToken(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := svc.ValidateInternalToken(r); err != nil {
				writeAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	status, body := apperr.ToHTTP(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
