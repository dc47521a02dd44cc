package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireToken wraps handler so requests must carry
// "Authorization: Bearer <token>". An empty token disables the check.
// The comparison is constant time so the token cannot be probed byte by byte.
func (s *apiServer) requireToken(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	want := []byte(token)
	return func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="kiosk"`)
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}
