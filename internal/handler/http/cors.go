package http

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

const (
	corsAllowedMethods = "GET, DELETE, OPTIONS"
	corsAllowedHeaders = "Content-Type, X-Request-ID"
	corsMaxAge         = "86400"
)

// CORS returns middleware that lets the listed origins call the API from a
// browser. "*" allows any origin. No credentials are involved since the API
// has no authentication.
//
// Behavior:
//   - No Origin header: passed through untouched
//   - Origin not allowed: passed through without CORS headers (the browser blocks it)
//   - Preflight from an allowed origin: answered with 204, next is not called
func CORS(origins []string) func(http.Handler) http.Handler {
	any := slices.Contains(origins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Add("Vary", "Origin")
			if !any && !slices.Contains(origins, origin) {
				next.ServeHTTP(w, r)
				return
			}

			if any {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-Trace-Id, Retry-After")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", corsAllowedMethods)
				w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				w.Header().Set("Access-Control-Max-Age", corsMaxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ParseOrigins parses a comma-separated origin list.
//
// Validation:
//   - "*" is accepted as is
//   - Each origin must be an http or https URL
//   - Origins must not include paths, query strings, fragments, or a trailing slash
func ParseOrigins(list string) ([]string, error) {
	var origins []string
	for _, o := range strings.Split(list, ",") {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			origins = append(origins, o)
			continue
		}
		u, err := url.Parse(o)
		if err != nil {
			return nil, fmt.Errorf("invalid origin URL '%s': %w", o, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("origin must use http or https scheme: %s", o)
		}
		if u.Host == "" || u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
			return nil, fmt.Errorf("origin must be scheme://host[:port] only: %s", o)
		}
		origins = append(origins, o)
	}
	return origins, nil
}
