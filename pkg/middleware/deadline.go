package middleware

import (
	"context"
	"net/http"
	"time"
)

// Deadline attaches a deadline to each request's context. Handlers observe it
// through ctx.Err() and map context.DeadlineExceeded to a response
// themselves; the middleware never writes on their behalf.
func Deadline(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
