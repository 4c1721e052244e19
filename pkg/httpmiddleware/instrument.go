package httpmiddleware

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// RouteFinder resolves a request to the route pattern it will match.
// The boolean reports whether a route was found.
type RouteFinder func(*http.Request) (string, bool)

// MakeRouteFinder builds a RouteFinder from a ServeMux. It uses the mux's own
// matching, so the returned pattern is exactly the one registered with Handle,
// without the leading method (e.g. "/api/cart/items/{productID}").
func MakeRouteFinder(mux *http.ServeMux) RouteFinder {
	return func(r *http.Request) (string, bool) {
		_, pattern := mux.Handler(r)
		if pattern == "" {
			return "", false
		}
		if _, path, ok := strings.Cut(pattern, " "); ok {
			return path, true
		}
		return pattern, true
	}
}

// Instrument returns a middleware that wraps the handler with OpenTelemetry
// HTTP instrumentation: a server span per request plus the standard HTTP
// metrics. Spans are named "METHOD /route/pattern"; requests that match no
// route fall back to the raw URL path.
func Instrument(serviceName string, find RouteFinder, tp trace.TracerProvider, mp metric.MeterProvider) Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithTracerProvider(tp),
			otelhttp.WithMeterProvider(mp),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if route, ok := find(r); ok {
					return r.Method + " " + route
				}
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}
