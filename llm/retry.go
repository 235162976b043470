package llm

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls retry behavior for model calls.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first failure.
	MaxRetries int

	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration

	// BackoffMultiplier scales the delay between attempts.
	BackoffMultiplier float64

	// Jitter randomizes each delay to avoid thundering herds.
	Jitter bool

	// MaxRetriesPerCategory overrides MaxRetries for specific categories.
	// A zero entry means the category is not retried at all.
	MaxRetriesPerCategory map[ErrorCategory]int

	// Strategy, when set, is consulted first and preempts classification.
	Strategy Strategy

	// Refresher, when set, is invoked once per retry sequence on an
	// auth failure before the error is treated as terminal.
	Refresher CredentialRefresher
}

// Strategy lets callers decide retry behavior before the classifier runs.
// Returning handled=false defers to the classifier.
type Strategy interface {
	Decide(err error, attempt int) (delay time.Duration, retry bool, handled bool)
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(err error, attempt int) (time.Duration, bool, bool)

func (f StrategyFunc) Decide(err error, attempt int) (time.Duration, bool, bool) {
	return f(err, attempt)
}

// CredentialRefresher refreshes expired credentials. A successful refresh
// grants the failing call one immediate retry.
type CredentialRefresher interface {
	Refresh(ctx context.Context) error
}

// DefaultRetryPolicy returns sensible defaults for model calls.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:        3,
		BaseDelay:         1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		MaxRetriesPerCategory: map[ErrorCategory]int{
			CategoryRateLimitWait: 5,
			CategoryRateLimit:     5,
			CategoryServer:        3,
			CategoryTransient:     3,
			CategoryUnknown:       1,
		},
	}
}

// Delay computes the generic backoff for the given attempt (0-indexed).
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		delay = delay * (0.5 + rand.Float64())
		if delay > float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
		}
	}
	return time.Duration(delay)
}

func (p *RetryPolicy) maxFor(cat ErrorCategory) int {
	if p.MaxRetriesPerCategory != nil {
		if n, ok := p.MaxRetriesPerCategory[cat]; ok {
			return n
		}
	}
	return p.MaxRetries
}

// Decision is the outcome of classifying a failed attempt.
type Decision struct {
	Retry    bool
	Delay    time.Duration
	Category ErrorCategory
}

// ClassifyAndDelay decides whether a failed attempt should be retried and
// how long to wait. Resolution order: caller strategy, then explicit
// provider wait hints, then generic exponential backoff. attempt is
// 0-indexed: the first failure is attempt 0.
func (p *RetryPolicy) ClassifyAndDelay(err error, attempt int) Decision {
	cat := Classify(err)

	if p.Strategy != nil {
		if delay, retry, handled := p.Strategy.Decide(err, attempt); handled {
			return Decision{Retry: retry, Delay: delay, Category: cat}
		}
	}

	if !cat.Retryable() {
		return Decision{Category: cat}
	}
	if attempt >= p.maxFor(cat) {
		return Decision{Category: cat}
	}

	// An explicit provider hint wins over computed backoff, exactly.
	if hint, ok := RetryAfterHint(err); ok && hint > 0 {
		return Decision{
			Retry:    true,
			Delay:    time.Duration(hint * float64(time.Second)),
			Category: cat,
		}
	}

	return Decision{Retry: true, Delay: p.Delay(attempt), Category: cat}
}

// Retry executes fn with the policy applied. The zero value of T is
// returned alongside the final error when all attempts fail.
func Retry[T any](ctx context.Context, policy *RetryPolicy, fn func() (T, error)) (T, error) {
	var zero T
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	refreshed := false
	attempt := 0
	for {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		// An auth failure gets one immediate retry after a successful
		// credential refresh.
		if Classify(err) == CategoryAuth && policy.Refresher != nil && !refreshed {
			refreshed = true
			if rerr := policy.Refresher.Refresh(ctx); rerr == nil {
				continue
			}
		}

		d := policy.ClassifyAndDelay(err, attempt)
		if !d.Retry {
			return zero, err
		}
		attempt++

		select {
		case <-ctx.Done():
			return zero, &AbortError{SDKError{Message: "retry aborted", Cause: ctx.Err()}}
		case <-time.After(d.Delay):
		}
	}
}
