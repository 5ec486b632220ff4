// Package ratelimit throttles outgoing request rate with sliding
// minute/hour windows, a jittered minimum inter-request delay, and
// exponential backoff after failures or blocks.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"scrapegate/internal/shared/logger"
	"scrapegate/internal/shared/types"
)

// Stats is a snapshot of the limiter's state.
type Stats struct {
	RequestsLastMinute  int `json:"requests_last_minute"`
	RequestsLastHour    int `json:"requests_last_hour"`
	ConsecutiveFailures int `json:"consecutive_failures"`
	PerMinuteLimit      int `json:"per_minute_limit"`
	PerHourLimit        int `json:"per_hour_limit"`
}

// Limiter is a thread-safe sliding-window rate limiter with adaptive
// backoff. One mutex guards all state; Wait blocks outside the lock.
type Limiter struct {
	conf types.RateLimitConf

	mu                  sync.Mutex
	minuteWindow        []time.Time
	hourWindow          []time.Time
	consecutiveFailures int
	lastRequest         time.Time

	now func() time.Time
}

// New creates a Limiter from config.
func New(conf types.RateLimitConf) *Limiter {
	return &Limiter{
		conf: conf,
		now:  time.Now,
	}
}

// Wait blocks until it is safe to make a request: the jittered minimum
// delay has passed, both windows have headroom, and any active backoff has
// elapsed. On return it stamps the request into both windows. Honors
// context cancellation while sleeping.
func (l *Limiter) Wait(ctx context.Context) error {
	d := l.pendingDelay()
	if d > 0 {
		logger.WithComponent("RateLimiter").Debug().Dur("wait", d).Msg("Throttling request.")
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	l.mu.Lock()
	now := l.now()
	l.lastRequest = now
	l.minuteWindow = append(l.minuteWindow, now)
	l.hourWindow = append(l.hourWindow, now)
	l.mu.Unlock()
	return nil
}

// pendingDelay computes how long the next request must wait. Prunes the
// windows as a side effect.
func (l *Limiter) pendingDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneWindows(now)

	var wait time.Duration

	// 1. Jittered minimum delay since the previous request.
	if !l.lastRequest.IsZero() {
		base := secs(l.conf.MinDelaySeconds + rand.Float64()*(l.conf.MaxDelaySeconds-l.conf.MinDelaySeconds))
		if elapsed := now.Sub(l.lastRequest); elapsed < base {
			wait = max(wait, base-elapsed)
		}
	}

	// 2. Per-minute ceiling.
	if len(l.minuteWindow) >= l.conf.RequestsPerMinute && l.conf.RequestsPerMinute > 0 {
		until := l.minuteWindow[0].Add(time.Minute)
		if until.After(now) {
			wait = max(wait, until.Sub(now))
		}
	}

	// 3. Per-hour ceiling.
	if len(l.hourWindow) >= l.conf.RequestsPerHour && l.conf.RequestsPerHour > 0 {
		until := l.hourWindow[0].Add(time.Hour)
		if until.After(now) {
			wait = max(wait, until.Sub(now))
		}
	}

	// 4. Backoff from consecutive failures.
	if l.consecutiveFailures > 0 {
		backoff := l.currentBackoff() + secs(rand.Float64()*l.conf.JitterRange)
		wait = max(wait, backoff)
	}

	return wait
}

// currentBackoff is min(base * 2^(failures-1), max). Must hold mu.
func (l *Limiter) currentBackoff() time.Duration {
	if l.consecutiveFailures > 30 {
		return secs(l.conf.BackoffMax)
	}
	backoff := l.conf.BackoffBase * float64(uint64(1)<<uint(l.consecutiveFailures-1))
	if backoff > l.conf.BackoffMax {
		backoff = l.conf.BackoffMax
	}
	return secs(backoff)
}

// RecordSuccess resets the failure counter.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	l.consecutiveFailures = 0
	l.mu.Unlock()
}

// RecordRateLimit notes a rate-limit signal, stepping the backoff once.
func (l *Limiter) RecordRateLimit() {
	l.mu.Lock()
	l.consecutiveFailures++
	failures, next := l.consecutiveFailures, l.currentBackoff()
	l.mu.Unlock()
	logger.WithComponent("RateLimiter").Warn().
		Int("consecutive_failures", failures).
		Dur("next_backoff", next).
		Msg("Rate limited.")
}

// RecordBlock notes a hard block, ramping the backoff harder than a
// single rate-limit signal: +2, floored at 4.
func (l *Limiter) RecordBlock() {
	l.mu.Lock()
	l.consecutiveFailures += 2
	if l.consecutiveFailures < 4 {
		l.consecutiveFailures = 4
	}
	severity, next := l.consecutiveFailures, l.currentBackoff()
	l.mu.Unlock()
	logger.WithComponent("RateLimiter").Warn().
		Int("severity", severity).
		Dur("next_backoff", next).
		Msg("Block detected.")
}

// ConsecutiveFailures returns the current failure counter.
func (l *Limiter) ConsecutiveFailures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.consecutiveFailures
}

// Stats returns a pruned snapshot of the limiter state.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneWindows(l.now())
	return Stats{
		RequestsLastMinute:  len(l.minuteWindow),
		RequestsLastHour:    len(l.hourWindow),
		ConsecutiveFailures: l.consecutiveFailures,
		PerMinuteLimit:      l.conf.RequestsPerMinute,
		PerHourLimit:        l.conf.RequestsPerHour,
	}
}

// pruneWindows drops timestamps outside their horizons. Must hold mu.
func (l *Limiter) pruneWindows(now time.Time) {
	minuteCutoff := now.Add(-time.Minute)
	i := 0
	for i < len(l.minuteWindow) && l.minuteWindow[i].Before(minuteCutoff) {
		i++
	}
	l.minuteWindow = l.minuteWindow[i:]

	hourCutoff := now.Add(-time.Hour)
	i = 0
	for i < len(l.hourWindow) && l.hourWindow[i].Before(hourCutoff) {
		i++
	}
	l.hourWindow = l.hourWindow[i:]
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
