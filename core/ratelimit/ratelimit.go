package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultLimit and DefaultWindow apply when Get receives a non-positive quota.
	DefaultLimit  = 2
	DefaultWindow = time.Second
)

// Limiter is a sliding-window admission gate for one resource. It never
// rejects: a caller over quota waits until the oldest admission leaves the
// window.
type Limiter struct {
	name   string
	limit  int
	window time.Duration

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger

	mu     sync.Mutex
	stamps []time.Time
}

// Stats is a snapshot of a limiter's state.
type Stats struct {
	Name     string
	Limit    int
	Window   time.Duration
	InWindow int
}

// Name returns the resource name the limiter was registered under.
func (l *Limiter) Name() string {
	return l.name
}

// Throttle admits one request. label only appears in logs. The only error
// returned is the context's, when ctx ends while waiting.
func (l *Limiter) Throttle(ctx context.Context, label string) error {
	for {
		wait := l.tryAdmit()
		if wait <= 0 {
			return nil
		}

		l.logger.DebugContext(ctx, "rate limit reached, delaying request",
			slog.String("ratelimit.name", l.name),
			slog.String("ratelimit.label", label),
			slog.Duration("ratelimit.wait", wait),
		)
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAdmit prunes, checks and records atomically. It returns zero when the
// request was admitted, otherwise how long until a slot frees up.
func (l *Limiter) tryAdmit() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	if len(l.stamps) < l.limit {
		l.stamps = append(l.stamps, now)
		return 0
	}

	wait := l.stamps[0].Add(l.window).Sub(now)
	if wait <= 0 {
		// The oldest stamp sits exactly on the window edge.
		wait = time.Millisecond
	}
	return wait
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	drop := 0
	for drop < len(l.stamps) && !l.stamps[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[drop:]...)
	}
}

// Stats returns the current in-window count after pruning.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return Stats{Name: l.name, Limit: l.limit, Window: l.window, InWindow: len(l.stamps)}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
