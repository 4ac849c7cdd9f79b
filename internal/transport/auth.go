package transport

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware gates the orchestrator's own HTTP/WS surface behind a single
// static key (config.Config.APIKey), sent as an "Authorization: ApiKey <key>"
// header or an api_key query parameter, distinct from the TargetAPIKey
// forwarded to the remote model. An empty key disables auth, matching a
// local/dev deployment with no perimeter.
type AuthMiddleware struct {
	APIKey string
}

func NewAuthMiddleware(apiKey string) *AuthMiddleware {
	return &AuthMiddleware{APIKey: apiKey}
}

func (m *AuthMiddleware) Authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := extractAPIKey(r)
		if apiKey == "" {
			http.Error(w, `{"error": "API key required"}`, http.StatusUnauthorized)
			return
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(m.APIKey)) != 1 {
			http.Error(w, `{"error": "Invalid API key"}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	}
}

func extractAPIKey(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "ApiKey ") {
		return strings.TrimPrefix(authHeader, "ApiKey ")
	}

	if apiKey := r.URL.Query().Get("api_key"); apiKey != "" {
		return apiKey
	}

	return ""
}
