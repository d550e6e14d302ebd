package handlers

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL   = 10 * time.Minute
	limiterSweepSize = 1024
)

// SignInLimiter allows perMinute sign-in attempts per client, with bursts up
// to the same number.
type SignInLimiter struct {
	mu        sync.Mutex
	perMinute int
	byKey     map[string]*limiterEntry
	now       func() time.Time
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewSignInLimiter returns nil, which allows everything, when perMinute is
// not positive.
func NewSignInLimiter(perMinute int) *SignInLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &SignInLimiter{
		perMinute: perMinute,
		byKey:     map[string]*limiterEntry{},
		now:       time.Now,
	}
}

func (l *SignInLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if len(l.byKey) >= limiterSweepSize {
		l.sweep(now)
	}
	e := l.byKey[key]
	if e == nil {
		every := rate.Every(time.Minute / time.Duration(l.perMinute))
		e = &limiterEntry{lim: rate.NewLimiter(every, l.perMinute)}
		l.byKey[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// sweep drops clients idle long enough for their bucket to be full again.
func (l *SignInLimiter) sweep(now time.Time) {
	for k, e := range l.byKey {
		if now.Sub(e.seen) >= limiterIdleTTL {
			delete(l.byKey, k)
		}
	}
}
