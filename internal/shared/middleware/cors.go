package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// oauthCallbackPath is hit by the bank provider's redirect, not by the SPA,
// so the browser never sends a matching Origin. CORS checks skip it.
const oauthCallbackPath = "/connect/bankfeed/callback"

// CORS restricts cross-origin browser calls to the configured hosts. An
// empty host list allows any origin without credentials.
func CORS(allowedHosts []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			switch {
			case r.URL.Path == oauthCallbackPath || len(allowedHosts) == 0:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "":
				if !isOriginAllowed(origin, allowedHosts) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isOriginAllowed compares the origin's host against the allow list. Entries
// with a port must match host and port exactly; entries without one match on
// hostname alone.
func isOriginAllowed(origin string, allowedHosts []string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return false
	}

	hostname := strings.ToLower(u.Hostname())
	hostPort := strings.ToLower(u.Host)

	for _, allowed := range allowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if strings.Contains(allowed, ":") {
			if hostPort == allowed {
				return true
			}
			continue
		}
		if hostname == allowed {
			return true
		}
	}
	return false
}
