package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is the subset of a connection pool or client used for connectivity
// checks. Both pgxpool.Pool and go-redis clients satisfy it (the latter via a
// small adapter).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck returns a CheckFunc that reports unhealthy when the pinger's
// Ping fails. Useful as a readiness check for databases and caches.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// GoroutineCountCheck returns a CheckFunc that reports unhealthy when the
// number of goroutines exceeds the given threshold. Useful as a liveness
// check to detect goroutine leaks.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		count := runtime.NumGoroutine()
		if count > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", count, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck returns a CheckFunc that reports unhealthy when the maximum
// GC pause duration exceeds the given threshold.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(_ context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)

		for _, pause := range stats.Pause {
			if pause > threshold {
				return errors.Errorf("GC pause %s exceeds threshold %s", pause, threshold)
			}
		}
		return nil
	}
}
