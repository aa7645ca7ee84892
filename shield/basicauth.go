package shield

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/pagewatch/kit"
)

// BasicAuth requires HTTP basic credentials matching user and the bcrypt
// passwordHash. Paths with one of the public prefixes pass through. The
// authenticated user is stored as the kit actor.
func BasicAuth(realm, user, passwordHash string, public ...string) func(http.Handler) http.Handler {
	hash := []byte(passwordHash)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range public {
				if strings.HasPrefix(r.URL.Path, p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			u, p, ok := r.BasicAuth()
			userOK := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1
			if !ok || !userOK || bcrypt.CompareHashAndPassword(hash, []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`", charset="UTF-8"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(kit.WithActor(r.Context(), u)))
		})
	}
}
