// Package retry retries chat deliveries that fail for transient reasons.
// Ledger transfers are never routed through it: a transfer whose outcome is
// unknown must not be resubmitted.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"time"
)

type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig keeps a delivery attempt well under the manager's frame
// interval: three tries, at most a few seconds apart.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

// Do runs fn until it succeeds, fails permanently, or attempts run out,
// sleeping a jittered exponential backoff between tries.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffFor(cfg, attempt-1)):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// transientPatterns match the failure modes the Slack API and its transport
// actually produce: dropped websockets, flaky HTTP, and 429/503 responses
// (slack-go surfaces rate limiting as "rate_limited").
var transientPatterns = []string{
	"connection closed",
	"connection reset",
	"broken pipe",
	"eof",
	"timeout",
	"temporary failure",
	"service unavailable",
	"rate limit",
	"rate_limited",
	"too many requests",
}

// IsRetryable reports whether err looks transient. Context cancellation is
// never retryable; the caller is shutting down.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// backoffFor doubles the base per attempt up to the cap, then scales by a
// random factor in [0.5, 1.0) so concurrent deliveries spread out.
func backoffFor(cfg Config, attempt int) time.Duration {
	d := cfg.BaseBackoff * time.Duration(1<<uint(attempt))
	if d > cfg.MaxBackoff {
		d = cfg.MaxBackoff
	}
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(d) * jitter)
}
