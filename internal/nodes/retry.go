package nodes

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rendis/flowgraph/pkg/schema"
)

// IsRetryable classifies whether a node failure is worth another attempt.
// Non-retryable: validation and scope-structure errors, cancellation.
// Retryable: timeouts, network errors, common transient patterns.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Cancellation means the run is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var flowErr *schema.FlowError
	if errors.As(err, &flowErr) {
		switch flowErr.Code {
		case schema.ErrCodeValidation, schema.ErrCodeScopeStructure,
			schema.ErrCodeCircularRef, schema.ErrCodeCancelled, schema.ErrCodeNotFound:
			return false
		case schema.ErrCodeTimeout:
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"internal server error",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Unknown errors default to retryable.
	return true
}

// ComputeBackoff calculates the delay before retry attempt n (0-based).
// Exponential doubling from base, capped at max when max > 0.
func ComputeBackoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}

// WaitForBackoff sleeps for the delay or returns early when the context is
// cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
