package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Policy controls timeouts and exponential backoff for a retried call
type Policy struct {
	MaxAttempts    int           // Total attempts including the first
	InitialBackoff time.Duration // Wait before the second attempt
	MaxBackoff     time.Duration // Upper bound for any single wait
	Timeout        time.Duration // Per-attempt deadline; 0 disables it

	// OnRetry is called before each wait with the 1-based attempt that failed
	OnRetry func(attempt int, wait time.Duration, err error)
}

// DefaultPolicy returns the default retry policy: 3 attempts, 1s doubling to at most 8s
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     8 * time.Second,
		Timeout:        30 * time.Second,
	}
}

// Backoff returns the wait after the given 0-based failed attempt
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	if d <= 0 {
		return 0
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// StatusError is returned for non-2xx HTTP responses
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP error: %d %s (%s): %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL, e.Body)
	}
	return fmt.Sprintf("HTTP error: %d %s (%s)", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// HTTPStatusCode exposes the status for retry classification
func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// HTTPStatusCoder is implemented by errors that carry an HTTP status
type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

// IsRetryableStatus reports whether an HTTP status warrants a retry (429 and 5xx)
func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// IsRetryable classifies an error: timeouts, transport failures, 429 and 5xx are retryable;
// other 4xx, cancellation and anything unrecognised are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return IsRetryableStatus(sc.HTTPStatusCode())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// Do runs fn under the policy. Each attempt gets its own deadline; on expiry the
// attempt is aborted and counts as a retryable failure. The last error is returned
// once attempts are exhausted or a non-retryable error occurs.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt == attempts-1 {
			return err
		}

		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, wait, err)
		}
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}
