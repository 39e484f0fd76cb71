package fetch

import (
	"net/url"
	"sync"
	"time"
)

// HostLimiter enforces a minimum interval between the start of
// successive requests to the same host (§4.1, §5). It is an explicit,
// injectable dependency rather than process-global state (§9).
type HostLimiter struct {
	minInterval time.Duration
	mu          sync.Mutex
	next        map[string]time.Time
}

// NewHostLimiter creates a limiter enforcing minInterval between
// request starts to any single host.
func NewHostLimiter(minInterval time.Duration) *HostLimiter {
	return &HostLimiter{
		minInterval: minInterval,
		next:        make(map[string]time.Time),
	}
}

// Wait blocks until it is this host's turn to start a request, or the
// stop channel fires. It returns false if stop fired first.
func (l *HostLimiter) Wait(host string, stop <-chan struct{}) bool {
	if l.minInterval <= 0 {
		return true
	}
	for {
		l.mu.Lock()
		now := time.Now()
		allowed := l.next[host]
		if now.After(allowed) || now.Equal(allowed) {
			l.next[host] = now.Add(l.minInterval)
			l.mu.Unlock()
			return true
		}
		wait := allowed.Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			// loop again: another goroutine may have claimed the slot
			// in the meantime, so recheck rather than assume it's ours.
		case <-stop:
			timer.Stop()
			return false
		}
	}
}

// HostOf extracts the rate-limiter key (the URL's host component) from
// a tile URL. Malformed URLs key on the raw string so they still get
// throttled rather than bypassing the limiter.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
