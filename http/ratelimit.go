// Package http paces outbound requests to Google endpoints with per-host
// token buckets.
package http

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle recovery tuning.
const (
	// CooldownPeriod is how long after the last throttle response the original
	// rate is restored.
	CooldownPeriod = 5 * time.Minute
	// MinRPSMultiplier is the lowest fraction of the configured rate a host is
	// reduced to.
	MinRPSMultiplier = 0.25
)

// RateLimiterConfig defines rate limiting behavior.
type RateLimiterConfig struct {
	// DataAPIRPS is requests per second for the YouTube Data API hosts.
	DataAPIRPS float64
	// FeedRPS is requests per second for www.youtube.com (channel feeds).
	FeedRPS float64
	// HostRates maps a host name to its rate, overriding the well-known hosts.
	HostRates map[string]float64
	// DynamicBackoff lowers a host's rate after 429 responses.
	DynamicBackoff bool
}

// DefaultRateLimiterConfig returns conservative defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		DataAPIRPS:     1.0,
		FeedRPS:        2.0,
		HostRates:      make(map[string]float64),
		DynamicBackoff: true,
	}
}

// throttleState tracks rate reduction for a host.
type throttleState struct {
	lastThrottle time.Time
	consecutive  int
	originalRPS  float64
}

// RateLimiter manages per-host request rate limiting. Hosts without a
// configured rate are not limited.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	throttled map[string]*throttleState
	config    RateLimiterConfig
	now       func() time.Time
}

// NewRateLimiter creates a rate limiter with the given configuration.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.HostRates == nil {
		cfg.HostRates = make(map[string]float64)
	}
	return &RateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		throttled: make(map[string]*throttleState),
		config:    cfg,
		now:       time.Now,
	}
}

// Wait blocks until a request to rawURL is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, rawURL string) error {
	if rl == nil {
		return nil
	}
	limiter := rl.limiter(hostOf(rawURL))
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

func (rl *RateLimiter) limiter(host string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.limiters[host]; ok {
		return l
	}
	rps := rl.rps(host)
	if rps <= 0 {
		return nil
	}
	// Burst of 1: requests are spread evenly.
	l := rate.NewLimiter(rate.Limit(rps), 1)
	rl.limiters[host] = l
	return l
}

// rps returns the configured rate for host. Must be called with mu held.
func (rl *RateLimiter) rps(host string) float64 {
	if r, ok := rl.config.HostRates[host]; ok {
		return r
	}
	switch host {
	case "youtube.googleapis.com", "www.googleapis.com":
		return rl.config.DataAPIRPS
	case "www.youtube.com":
		return rl.config.FeedRPS
	}
	return 0
}

// RecordThrottle notes a 429 from the host of rawURL and reduces its rate:
// 75%, then 50%, then 25% of the configured value.
func (rl *RateLimiter) RecordThrottle(rawURL string) {
	if rl == nil || !rl.config.DynamicBackoff {
		return
	}
	host := hostOf(rawURL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[host]
	if !ok {
		return
	}
	st, ok := rl.throttled[host]
	if !ok {
		st = &throttleState{originalRPS: rl.rps(host)}
		rl.throttled[host] = st
	}
	st.lastThrottle = rl.now()
	st.consecutive++

	factor := MinRPSMultiplier
	switch st.consecutive {
	case 1:
		factor = 0.75
	case 2:
		factor = 0.5
	}
	limiter.SetLimit(rate.Limit(st.originalRPS * factor))
}

// RecordSuccess restores the configured rate once the host has been quiet
// for CooldownPeriod.
func (rl *RateLimiter) RecordSuccess(rawURL string) {
	if rl == nil || !rl.config.DynamicBackoff {
		return
	}
	host := hostOf(rawURL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	st, ok := rl.throttled[host]
	if !ok || rl.now().Sub(st.lastThrottle) < CooldownPeriod {
		return
	}
	if l, ok := rl.limiters[host]; ok {
		l.SetLimit(rate.Limit(st.originalRPS))
	}
	delete(rl.throttled, host)
}

// Limit returns the current rate for the host of rawURL, or 0 if the host is
// not limited.
func (rl *RateLimiter) Limit(rawURL string) float64 {
	if rl == nil {
		return 0
	}
	l := rl.limiter(hostOf(rawURL))
	if l == nil {
		return 0
	}
	return float64(l.Limit())
}

// hostOf returns the host of rawURL without its port.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
