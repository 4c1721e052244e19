// Package httpmiddleware provides composable net/http middleware used by the
// checkout API server: panic recovery, CORS, rate limiting, request IDs,
// logger injection, request logging, and OpenTelemetry instrumentation.
package httpmiddleware

import "net/http"

// Middleware wraps an http.Handler with additional behaviour.
type Middleware func(http.Handler) http.Handler

// Wrap applies middlewares to h in reverse order, so the first middleware in
// the list is the outermost one and sees the request first.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
