package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	apierrors "github.com/CedrosPay/checkout/internal/errors"
	"github.com/CedrosPay/checkout/pkg/responders"
)

// adminMetricsAuth protects /metrics with an optional bearer key.
// With no key configured the endpoint is open.
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !keyMatches(bearerToken(r), apiKey) {
				unauthorized(w, "Invalid or missing admin API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// functionsKeyAuth checks the key sent by rpc_invoke clients, either in the
// apikey header or as a bearer token. With no key configured the channel is open.
func functionsKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !keyMatches(r.Header.Get("apikey"), key) && !keyMatches(bearerToken(r), key) {
				unauthorized(w, "Invalid or missing functions key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func keyMatches(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func unauthorized(w http.ResponseWriter, message string) {
	responders.JSON(w, http.StatusUnauthorized, apierrors.NewErrorResponse(apierrors.ErrCodeInvalidField, message, nil))
}
