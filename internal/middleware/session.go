package middleware

import (
	"net/http"

	"github.com/pesio-ai/be-ap-threeway/internal/auth"
)

// Credential headers. The name header is informational and only recorded
// as the actor on privileged sessions.
const (
	SecretHeader = "X-Verifier-Secret"
	ActorHeader  = "X-Verifier-Name"
)

// Session resolves the caller's session from the credential headers and
// stores it in the request context
func Session(a auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := auth.Resolve(a, r.Header.Get(SecretHeader), r.Header.Get(ActorHeader))
			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), session)))
		})
	}
}
