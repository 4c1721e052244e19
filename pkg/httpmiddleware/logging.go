package httpmiddleware

import (
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// InjectLogger returns a middleware that stores lg in the request context so
// handlers can retrieve it with zctx.From. The logger is annotated with the
// request ID when one is present, so RequestID should run before this
// middleware.
func InjectLogger(lg *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := lg
			if id := RequestIDFromContext(r.Context()); id != "" {
				l = l.With(zap.String("request_id", id))
			}
			ctx := zctx.Base(r.Context(), l)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// statusRecorder captures the response status code for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	return rec.ResponseWriter.Write(b)
}

// LogRequests returns a middleware that logs every request after it is served:
// method, route pattern, status, and duration. Routes come from find so that
// path parameters don't explode the log cardinality.
func LogRequests(find RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if p, ok := find(r); ok {
				route = p
			}
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			zctx.From(r.Context()).Info("request served",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
