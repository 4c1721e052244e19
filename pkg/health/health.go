// Package health provides Kubernetes-style liveness and readiness probe
// support.
//
// Checks run on demand when a probe endpoint is hit, each with its own
// timeout, fanned out concurrently. Readiness additionally requires the
// service to be manually marked ready via SetReady, which graceful shutdown
// flips back to false to drain traffic before the listener closes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// CheckFunc is a health check function. It should return nil if the checked
// component is healthy, or an error describing the problem.
type CheckFunc func(ctx context.Context) error

// check pairs a named CheckFunc with its per-probe timeout.
type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc
}

// Health manages liveness and readiness checks for a service.
type Health struct {
	ready atomic.Bool

	// mu protects the check slices. Registration happens during startup;
	// probe handlers snapshot under RLock.
	mu              sync.RWMutex
	livenessChecks  []check
	readinessChecks []check
}

// New creates a new Health instance. The service starts in a not-ready state;
// call SetReady(true) once initialization has finished.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a liveness check. Liveness checks determine
// whether the process is alive and functioning, e.g. goroutine count or GC
// pause duration.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.livenessChecks = append(h.livenessChecks, check{name: name, timeout: timeout, fn: fn})
}

// AddReadinessCheck registers a readiness check. Readiness checks determine
// whether the service can accept traffic, e.g. database or cache
// connectivity.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessChecks = append(h.readinessChecks, check{name: name, timeout: timeout, fn: fn})
}

// SetReady sets the manual readiness gate. Call with true after startup
// completes and with false at the beginning of graceful shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service would currently pass a readiness probe:
// the manual gate is open and every readiness check succeeds.
func (h *Health) IsReady(ctx context.Context) bool {
	if !h.ready.Load() {
		return false
	}
	return len(h.runChecks(ctx, h.snapshot(&h.readinessChecks))) == 0
}

// LiveEndpoint is an http.HandlerFunc for the /livez endpoint. It returns
// 200 with {"status":"ok"} when every liveness check passes, or 503 with
// {"status":"unhealthy","checks":{...}} naming the failures.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	failures := h.runChecks(r.Context(), h.snapshot(&h.livenessChecks))
	writeStatus(w, failures)
}

// ReadyEndpoint is an http.HandlerFunc for the /readyz endpoint. It returns
// 200 when the service is marked ready and every readiness check passes,
// 503 with details otherwise.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	failures := h.runChecks(r.Context(), h.snapshot(&h.readinessChecks))
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

func (h *Health) snapshot(src *[]check) []check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]check, len(*src))
	copy(out, *src)
	return out
}

// runChecks executes the checks concurrently, each bounded by its own
// timeout, and returns a map of check name to failure message.
func (h *Health) runChecks(ctx context.Context, checks []check) map[string]string {
	var (
		mu       sync.Mutex
		failures = make(map[string]string)
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			if err := c.fn(checkCtx); err != nil {
				mu.Lock()
				failures[c.name] = err.Error()
				mu.Unlock()
			}
			// Failures are reported via the map, not the group error, so one
			// bad check does not cancel its siblings.
			return nil
		})
	}
	_ = g.Wait()

	return failures
}

// statusResponse is the JSON response body for probe endpoints.
type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := statusResponse{Status: "ok"}
	status := http.StatusOK

	if len(failures) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failures
		status = http.StatusServiceUnavailable
	}

	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
