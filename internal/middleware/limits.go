package middleware

import (
	"net/http"

	"github.com/dukerupert/kcnuts/internal/domain"
)

// Common size limits
const (
	KB = 1024
	MB = 1024 * KB

	// DefaultMaxBodySize covers the largest cart a client may submit.
	DefaultMaxBodySize = 1 * MB
)

// MaxBodySize rejects bodies declared larger than maxBytes and caps the
// reader for bodies that lie about their length.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.ContentLength > maxBytes {
				respondWithError(w, r, domain.Errorf(domain.EINVALID, "", "Request body too large"))
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
