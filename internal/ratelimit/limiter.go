// Package ratelimit implements the per-source-IP registration limiter:
// 10 requests / 60s, plus exponential backoff after 3 consecutive
// failures from the same IP.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// WindowRequests and WindowDuration set the base per-IP token bucket:
	// a burst of WindowRequests, refilled at WindowRequests per
	// WindowDuration.
	WindowRequests = 10
	WindowDuration = 60 * time.Second

	// FailureThreshold is the number of consecutive failures after which
	// exponential backoff engages.
	FailureThreshold = 3

	// StaleEntryAge is how long an IP's bookkeeping survives without
	// activity before the periodic reaper removes it.
	StaleEntryAge = 10 * time.Minute
)

type ipState struct {
	limiter          *rate.Limiter
	consecutiveFails int
	windowOrigin     time.Time
	backoffUntil     time.Time
	lastSeen         time.Time
}

// Limiter is a process-local, per-source-IP rate limiter. State is owned
// exclusively by this instance; no ambient globals.
type Limiter struct {
	mu    sync.Mutex
	byIP  map[string]*ipState
	nowFn func() time.Time
}

// New creates a Limiter. A periodic reaper should be driven via Reap.
func New() *Limiter {
	return &Limiter{byIP: make(map[string]*ipState), nowFn: time.Now}
}

func (l *Limiter) now() time.Time {
	if l.nowFn != nil {
		return l.nowFn()
	}
	return time.Now()
}

func (l *Limiter) stateFor(ip string) *ipState {
	st, ok := l.byIP[ip]
	if !ok {
		st = &ipState{
			limiter:      rate.NewLimiter(rate.Every(WindowDuration/WindowRequests), WindowRequests),
			windowOrigin: l.now(),
		}
		l.byIP[ip] = st
	}
	return st
}

// Allow reports whether a registration attempt from ip may proceed now. If
// false, retryAfter indicates how long the caller should wait.
func (l *Limiter) Allow(ip string) (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stateFor(ip)
	st.lastSeen = l.now()

	if st.consecutiveFails >= FailureThreshold {
		if l.now().Before(st.backoffUntil) {
			return false, st.backoffUntil.Sub(l.now())
		}
	}

	if !st.limiter.AllowN(l.now(), 1) {
		// Base window limiter also enforces the 10/60s cap independent of
		// failure-based backoff.
		return false, WindowDuration
	}
	return true, 0
}

// RecordFailure registers a failed attempt from ip, engaging exponential
// backoff once FailureThreshold consecutive failures have accumulated:
// window x 2^(failures-3) starting from the window origin.
func (l *Limiter) RecordFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stateFor(ip)
	st.consecutiveFails++
	st.lastSeen = l.now()

	if st.consecutiveFails >= FailureThreshold {
		shift := st.consecutiveFails - FailureThreshold
		backoff := WindowDuration
		for i := 0; i < shift; i++ {
			backoff *= 2
		}
		st.backoffUntil = st.windowOrigin.Add(backoff)
	}
}

// RecordSuccess clears an IP's failure count; a successful registration
// resets the backoff entirely.
func (l *Limiter) RecordSuccess(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stateFor(ip)
	st.consecutiveFails = 0
	st.windowOrigin = l.now()
	st.lastSeen = l.now()
}

// Reap removes bookkeeping for IPs idle longer than StaleEntryAge. Intended
// to be driven by a periodic ticker goroutine owned by the caller.
func (l *Limiter) Reap() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-StaleEntryAge)
	for ip, st := range l.byIP {
		if st.lastSeen.Before(cutoff) {
			delete(l.byIP, ip)
		}
	}
}
