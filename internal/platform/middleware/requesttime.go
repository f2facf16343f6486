package middleware

import (
	"net/http"
	"time"

	"gatelist/pkg/requestcontext"
)

// RequestTime captures the wall clock once at the start of the request so
// every operation it triggers shares the same "now". Audit records, domain
// timestamps and gate decisions within one request stay consistent.
func RequestTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
