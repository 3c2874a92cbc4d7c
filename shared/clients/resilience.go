package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// ErrAuthorityUnavailable is returned once retries are exhausted or the circuit breaker
// is open. Callers should surface it as a retryable-service failure.
var ErrAuthorityUnavailable = errors.New("identity authority unavailable")

// AuthorityError describes a failed identity-authority call. StatusCode is zero for
// transport-level failures.
type AuthorityError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *AuthorityError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authority %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("authority %s: %v", e.Op, e.Err)
}

func (e *AuthorityError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the call could succeed. Client-side errors other
// than timeouts and throttling are terminal.
func (e *AuthorityError) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == 408 || e.StatusCode == 429:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// ResiliencePolicy wraps identity-authority calls in bounded exponential-backoff retry
// and a circuit breaker. It is composed once at client construction, not per call site.
type ResiliencePolicy struct {
	maxRetries      uint64
	initialInterval time.Duration
	breaker         *gobreaker.CircuitBreaker
}

// NewResiliencePolicy builds a policy that retries up to maxRetries times and opens the
// breaker after breakerFailures consecutive failures for breakerReset.
func NewResiliencePolicy(name string, maxRetries, breakerFailures int, breakerReset time.Duration) *ResiliencePolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if breakerFailures <= 0 {
		breakerFailures = 1
	}
	return &ResiliencePolicy{
		maxRetries:      uint64(maxRetries),
		initialInterval: 100 * time.Millisecond,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: breakerReset,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(breakerFailures)
			},
		}),
	}
}

// Execute runs op through the breaker and the retry schedule. Terminal authority errors
// (4xx other than 408/429) are returned as-is and never retried; everything else is
// retried and finally reported as ErrAuthorityUnavailable.
func (p *ResiliencePolicy) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.initialInterval
		schedule := backoff.WithContext(backoff.WithMaxRetries(b, p.maxRetries), ctx)
		return nil, backoff.Retry(func() error {
			err := op(ctx)
			var authErr *AuthorityError
			if errors.As(err, &authErr) && !authErr.Temporary() {
				return backoff.Permanent(err)
			}
			return err
		}, schedule)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open", ErrAuthorityUnavailable)
	}
	var authErr *AuthorityError
	if errors.As(err, &authErr) && !authErr.Temporary() {
		return err
	}
	return fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
}
