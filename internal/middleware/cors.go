package middleware

import (
	"net/http"
	"strings"
	"sync"
)

const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsMaxAge       = "600"
)

// CORS answers preflight requests and decorates responses for allowed origins.
type CORS struct {
	mu        sync.RWMutex
	anyOrigin bool
	origins   map[string]struct{}
}

// NewCORS creates a CORS policy. "*" allows every origin.
func NewCORS(origins []string) *CORS {
	c := &CORS{}
	c.SetOrigins(origins)
	return c
}

// SetOrigins replaces the allow-list.
func (c *CORS) SetOrigins(origins []string) {
	set := make(map[string]struct{}, len(origins))
	anyOrigin := false
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if o == "*" {
			anyOrigin = true
		}
		set[strings.ToLower(o)] = struct{}{}
	}

	c.mu.Lock()
	c.anyOrigin = anyOrigin
	c.origins = set
	c.mu.Unlock()
}

// Allowed reports whether origin may call the API. An empty origin
// (non-browser client) is always allowed.
func (c *CORS) Allowed(origin string) bool {
	if origin == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.anyOrigin {
		return true
	}
	_, ok := c.origins[strings.ToLower(strings.TrimRight(origin, "/"))]
	return ok
}

func (c *CORS) allowsAny() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.anyOrigin
}

// Middleware applies the policy to next.
func (c *CORS) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

		if origin != "" && c.Allowed(origin) {
			h := w.Header()
			if c.allowsAny() {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Expose-Headers", RequestIDHeader)

			if preflight {
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				} else {
					h.Set("Access-Control-Allow-Headers", "*")
				}
				h.Set("Access-Control-Max-Age", corsMaxAge)
			}
		}

		if preflight {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
