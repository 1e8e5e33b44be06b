package alert

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/quillpress/quillpress/internal/metrics"
)

// Throttle limits how often alerts with the same code and scope reach the
// next sink. A store outage raises one alert per request; without a
// throttle that becomes one log line per request. Dropped alerts are not
// queued: they are counted in Dropped and in alerts_dropped_total.
type Throttle struct {
	next  Sink
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	dropped  atomic.Int64
}

// NewThrottle wraps next. A non-positive perSecond disables throttling.
func NewThrottle(next Sink, perSecond float64, burst int) Sink {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		next:     next,
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Emit forwards a when its (code, scope) pair still has budget.
func (t *Throttle) Emit(ctx context.Context, a Alert) error {
	if !t.limiter(throttleKey(a)).Allow() {
		t.dropped.Add(1)
		metrics.RecordAlertDropped(a.Code)
		return nil
	}
	return t.next.Emit(ctx, a)
}

// Dropped returns how many alerts were suppressed.
func (t *Throttle) Dropped() int64 {
	return t.dropped.Load()
}

func throttleKey(a Alert) string {
	scope, _ := a.Context["scope"].(string)
	return a.Code + "|" + scope
}

func (t *Throttle) limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[key] = l
	}
	return l
}
