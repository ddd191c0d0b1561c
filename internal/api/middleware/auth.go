package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// apiKeyFrom extracts the client key. Header sources win over the query
// parameter, which exists for EventSource clients that cannot set headers.
func apiKeyFrom(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && key != "" {
		return key
	}
	return r.URL.Query().Get("key")
}

func unauthorized(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="canvasgrab"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(body))
}

// APIKeyAuth rejects requests that do not carry apiKey. An empty apiKey
// rejects everything.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := apiKeyFrom(r)
			switch {
			case key == "":
				unauthorized(w, `{"error":"missing API key"}`)
			case len(want) == 0 || subtle.ConstantTimeCompare([]byte(key), want) != 1:
				unauthorized(w, `{"error":"invalid API key"}`)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// CORS answers preflight requests and lets extension pages and content
// scripts, which run on arbitrary origins, call the API.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization, Last-Event-ID")
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
