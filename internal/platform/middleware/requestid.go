// Package middleware carries cross-cutting HTTP middleware.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"gatelist/pkg/requestcontext"
)

// RequestID propagates the caller's X-Request-Id header into the request
// context, generating one when absent, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
