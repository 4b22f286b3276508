package httpserver

import "net/http"

// securityHeadersMiddleware adds security headers to all responses.
//
// Applied headers:
// - X-Content-Type-Options: prevents MIME-type sniffing
// - X-Frame-Options: the return pages must not be framed
// - Referrer-Policy: keeps session ids in return URLs off other origins
// - Cache-Control: session URLs and payment state are never cached
// - Strict-Transport-Security: only on TLS requests
//
// The return pages are the only HTML served; everything else is JSON.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME-type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Disallow framing of the return pages
		w.Header().Set("X-Frame-Options", "DENY")

		// Return URLs carry session_id; send only the origin cross-site
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Intermediaries must not cache session URLs or payment state
		w.Header().Set("Cache-Control", "no-store")

		// Add HSTS only if using HTTPS
		if r.TLS != nil {
			// max-age=31536000 = 1 year, applied to all subdomains
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
