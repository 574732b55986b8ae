package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig lists what browsers may send to the storybook API. Empty lists
// fall back to the upload and download needs of the web client.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	MaxAgeSeconds  int
}

type corsPolicy struct {
	anyOrigin bool
	origins   map[string]struct{}

	allowMethods  string
	allowHeaders  string
	exposeHeaders string
	maxAge        string
}

func newCORSPolicy(cfg CORSConfig) corsPolicy {
	policy := corsPolicy{origins: make(map[string]struct{})}
	for _, origin := range trimmedValues(cfg.AllowedOrigins) {
		if origin == "*" {
			policy.anyOrigin = true
			continue
		}
		policy.origins[strings.ToLower(origin)] = struct{}{}
	}

	policy.allowMethods = joinOr(cfg.AllowedMethods, http.MethodGet, http.MethodPost, http.MethodOptions)
	policy.allowHeaders = joinOr(cfg.AllowedHeaders, "Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id")
	// Content-Disposition carries the PDF filename on downloads.
	policy.exposeHeaders = joinOr(cfg.ExposedHeaders, "Content-Disposition", "X-Request-Id")

	maxAge := cfg.MaxAgeSeconds
	if maxAge <= 0 {
		maxAge = 600
	}
	policy.maxAge = strconv.Itoa(maxAge)
	return policy
}

// allowOrigin returns the Access-Control-Allow-Origin value, or "" when the
// origin is not allowed.
func (p corsPolicy) allowOrigin(origin string) string {
	if p.anyOrigin {
		return "*"
	}
	if _, ok := p.origins[strings.ToLower(origin)]; ok {
		return origin
	}
	return ""
}

func (p corsPolicy) isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

// CORS answers preflights for allowed origins and decorates actual requests.
// Requests from other origins pass through untouched.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			allowed := policy.allowOrigin(origin)
			if allowed == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := w.Header()
			header.Add("Vary", "Origin")
			header.Set("Access-Control-Allow-Origin", allowed)

			if policy.isPreflight(r) {
				header.Add("Vary", "Access-Control-Request-Method, Access-Control-Request-Headers")
				header.Set("Access-Control-Allow-Methods", policy.allowMethods)
				header.Set("Access-Control-Allow-Headers", policy.allowHeaders)
				header.Set("Access-Control-Max-Age", policy.maxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			header.Set("Access-Control-Expose-Headers", policy.exposeHeaders)
			next.ServeHTTP(w, r)
		})
	}
}

func trimmedValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func joinOr(values []string, fallback ...string) string {
	if trimmed := trimmedValues(values); len(trimmed) > 0 {
		return strings.Join(trimmed, ", ")
	}
	return strings.Join(fallback, ", ")
}
