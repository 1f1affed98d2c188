package auth

import (
	"sync"
	"time"
)

// Basic auth sends the password with every request, so a client guessing
// passwords gets one bcrypt comparison per request. Ten misses from one
// address within five minutes blocks it until the oldest miss ages out.
const (
	failureWindow = 5 * time.Minute
	maxFailures   = 10

	// pruneAbove is the number of tracked addresses above which a new
	// failure sweeps out addresses with no recent misses.
	pruneAbove = 1000
)

// failureLimiter counts failed logins per client address over a sliding
// window.
type failureLimiter struct {
	mu     sync.Mutex
	misses map[string][]time.Time
	now    func() time.Time
}

func newFailureLimiter() *failureLimiter {
	return &failureLimiter{
		misses: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// blocked reports whether ip has reached maxFailures within the window.
func (l *failureLimiter) blocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.recent(ip, l.now().Add(-failureWindow))) >= maxFailures
}

// fail records a failed login from ip.
func (l *failureLimiter) fail(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if len(l.misses) > pruneAbove {
		cutoff := now.Add(-failureWindow)
		for addr := range l.misses {
			l.recent(addr, cutoff)
		}
	}

	l.misses[ip] = append(l.misses[ip], now)
}

// forget drops the misses of ip after it logs in successfully.
func (l *failureLimiter) forget(ip string) {
	l.mu.Lock()
	delete(l.misses, ip)
	l.mu.Unlock()
}

// recent trims the misses of ip to those after cutoff and returns them.
// Callers hold l.mu.
func (l *failureLimiter) recent(ip string, cutoff time.Time) []time.Time {
	kept := l.misses[ip][:0]
	for _, t := range l.misses[ip] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) == 0 {
		delete(l.misses, ip)
		return nil
	}

	l.misses[ip] = kept

	return kept
}
