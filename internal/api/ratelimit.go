package api

import (
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"orderhub/internal/config"
)

// limiterSet holds one token bucket per provider for webhook ingress.
type limiterSet struct {
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	m     map[string]*rate.Limiter
}

func newLimiterSet(cfg config.IngressConfig) *limiterSet {
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &limiterSet{rps: rate.Limit(cfg.RateRPS), burst: burst, m: map[string]*rate.Limiter{}}
}

// allow reports whether provider may send another webhook now. A zero rate
// disables limiting.
func (l *limiterSet) allow(provider string) bool {
	if l.rps <= 0 {
		return true
	}
	key := strings.ToLower(provider)
	l.mu.Lock()
	lim, ok := l.m[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.m[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
