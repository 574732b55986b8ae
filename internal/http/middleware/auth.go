package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const protectedPrefix = "/v1/"

// Auth requires a bearer token on the history routes under /v1/. The
// storybook routes stay public and an empty token disables the check.
func Auth(requiredToken string) func(http.Handler) http.Handler {
	expected := []byte(requiredToken)

	return func(next http.Handler) http.Handler {
		if requiredToken == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, protectedPrefix) {
				token, ok := bearerToken(r)
				if !ok || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
					w.Header().Set("WWW-Authenticate", `Bearer realm="storybook"`)
					WriteError(w, r, http.StatusUnauthorized, "authentication required")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
