/*
Per-client request throttling for the control surface, built on
golang.org/x/time/rate token buckets: one bucket per (client, class),
where the class separates cheap read-only calls from pipeline-moving
mutations.
*/
package security

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
)

// RateLimitConfig sets requests-per-window for one operation class.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DefaultRateLimits returns the built-in per-class budgets.
func DefaultRateLimits() map[string]RateLimitConfig {
	return map[string]RateLimitConfig{
		"read":   {Requests: 120, Window: time.Minute},
		"mutate": {Requests: 30, Window: time.Minute},
	}
}

// RateLimiter throttles clients per operation class.
type RateLimiter struct {
	logger *logging.Logger

	mu       sync.Mutex
	classes  map[string]RateLimitConfig
	buckets  map[string]*rate.Limiter // key: class + "/" + clientID
	lastSeen map[string]time.Time
}

// NewRateLimiter builds a limiter with the given class budgets; nil
// selects the defaults.
func NewRateLimiter(classes map[string]RateLimitConfig, logger *logging.Logger) *RateLimiter {
	if classes == nil {
		classes = DefaultRateLimits()
	}
	return &RateLimiter{
		logger:   logger,
		classes:  classes,
		buckets:  map[string]*rate.Limiter{},
		lastSeen: map[string]time.Time{},
	}
}

// Allow consumes one token for the client in the given class; an
// unknown class is always allowed.
func (rl *RateLimiter) Allow(class, clientID string) error {
	cfg, ok := rl.classes[class]
	if !ok {
		return nil
	}
	key := class + "/" + clientID

	rl.mu.Lock()
	bucket, ok := rl.buckets[key]
	if !ok {
		perSec := rate.Limit(float64(cfg.Requests) / cfg.Window.Seconds())
		bucket = rate.NewLimiter(perSec, cfg.Requests)
		rl.buckets[key] = bucket
	}
	rl.lastSeen[key] = time.Now()
	rl.mu.Unlock()

	if !bucket.Allow() {
		rl.logger.WithFields(logging.Fields{"client": clientID, "class": class}).Warn("rate limit exceeded")
		return fmt.Errorf("rate limit exceeded for %s", class)
	}
	return nil
}

// Cleanup drops buckets idle longer than maxAge.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, seen := range rl.lastSeen {
		if seen.Before(cutoff) {
			delete(rl.lastSeen, key)
			delete(rl.buckets, key)
		}
	}
}
