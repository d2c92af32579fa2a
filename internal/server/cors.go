package server

import (
	"net/http"
	"strings"
	"sync/atomic"
)

const (
	corsAllowedMethods = "GET, POST, OPTIONS"
	corsAllowedHeaders = "Content-Type, Authorization, X-Request-ID, Traceparent"
	corsExposedHeaders = "X-Correlation-ID"
	corsMaxAge         = "600"
)

// CORS attaches cross-origin headers for allowlisted browser origins. The
// allowlist can be swapped while serving.
type CORS struct {
	allowed atomic.Pointer[map[string]struct{}]
}

// NewCORS returns a middleware allowing origins.
func NewCORS(origins []string) *CORS {
	c := &CORS{}
	c.SetOrigins(origins)
	return c
}

// SetOrigins replaces the allowlist.
func (c *CORS) SetOrigins(origins []string) {
	m := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			m[o] = struct{}{}
		}
	}
	c.allowed.Store(&m)
}

// Allowed reports whether origin is on the allowlist.
func (c *CORS) Allowed(origin string) bool {
	_, ok := (*c.allowed.Load())[origin]
	return ok
}

// Wrap returns next with CORS handling in front of it. Preflights from
// foreign origins get 403; simple requests pass through without headers.
func (c *CORS) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if origin == "" || !c.Allowed(origin) {
				http.Error(w, "cors preflight not allowed", http.StatusForbidden)
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if origin != "" && c.Allowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Expose-Headers", corsExposedHeaders)
		}
		next.ServeHTTP(w, r)
	})
}
