package transport

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSMiddleware applies permissive-by-default, configurable-allowlist CORS
// headers ahead of the WebSocket upgrade and debug-probe surface. This
// surface has no PUT/DELETE routes (only the /ws upgrade and the POST-only
// /debug/draft probe), so the allowed method set is narrower than a general
// REST API's.
type CORSMiddleware struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return &CORSMiddleware{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With", "Accept"},
		MaxAge:         86400,
	}
}

func (m *CORSMiddleware) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		wildcard := len(m.AllowedOrigins) == 1 && m.AllowedOrigins[0] == "*"

		switch {
		case wildcard:
			// a bare "*" is never paired with credentials, so there is no
			// reason to echo the requesting origin back - the literal
			// wildcard is both simpler and keeps proxies from caching a
			// per-origin response.
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case m.isOriginAllowed(origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			// credentials (the ?api_key= query param the WebSocket upgrade
			// relies on, since browsers can't set an Authorization header on
			// the handshake) are only safe to allow against an explicit
			// origin, never against a "*" echo.
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		w.Header().Set("Access-Control-Allow-Methods", strings.Join(m.AllowedMethods, ", "))
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(m.AllowedHeaders, ", "))
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(m.MaxAge))

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	}
}

func (m *CORSMiddleware) isOriginAllowed(origin string) bool {
	if len(m.AllowedOrigins) == 0 {
		return false
	}

	for _, allowed := range m.AllowedOrigins {
		if allowed == "*" {
			// only explicit entries are echoed back (with credentials)
			continue
		}
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}

	return false
}
