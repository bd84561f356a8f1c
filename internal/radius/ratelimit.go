package radius

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sendLimiterConfig configures the per-connection outbound token bucket.
// A retry storm — many in-flight requests all hitting their retry
// deadline in the same event-loop tick — would otherwise burst every
// pending retransmit onto the wire at once; this smooths that without
// changing any retry-timing invariant in §8 (the RetryEngine still
// decides *when* a retransmit is due, this only decides *whether this
// tick* may emit it).
type sendLimiterConfig struct {
	Rate  rate.Limit
	Burst int
}

// defaultSendLimiterConfig allows a steady 200 packets/sec per connection
// with a burst of 50, generous enough to never throttle a healthy
// connection's ordinary first-sends while still capping retransmit
// storms.
func defaultSendLimiterConfig() sendLimiterConfig {
	return sendLimiterConfig{Rate: rate.Limit(200), Burst: 50}
}

// sendLimiter wraps a single rate.Limiter per connection, grounded on
// pushgw/ratelimit.go's per-key limiter (there: one limiter per license
// key with lazy creation and idle cleanup; here: one limiter per
// connection, created once at connection construction since a
// Connection's lifetime already bounds it — no idle-cleanup map needed).
type sendLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

func newSendLimiter(cfg sendLimiterConfig) *sendLimiter {
	return &sendLimiter{limiter: rate.NewLimiter(cfg.Rate, cfg.Burst)}
}

// Allow reports whether a send may proceed this tick. It never blocks —
// a denied send simply stays in its queue for the next dispatch tick,
// matching the spec's non-blocking event-loop model (§5).
func (l *sendLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limiter.Allow()
}

// AllowAt reports whether a send may proceed at time now. Exposed
// separately from Allow so tests can drive it with a fake clock instead
// of wall-clock time.
func (l *sendLimiter) AllowAt(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limiter.AllowN(now, 1)
}
