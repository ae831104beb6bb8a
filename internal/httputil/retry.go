package httputil

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how a fallible operation is retried.
type Policy struct {
	MaxTries int
	Base     time.Duration
	Cap      time.Duration
	Jitter   time.Duration

	// Retryable decides whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
}

// DefaultPolicy mirrors the pacing AEMET tolerates: 0.6s doubling up to 5s,
// plus up to 0.5s of jitter.
func DefaultPolicy(maxTries int) Policy {
	return Policy{
		MaxTries:  maxTries,
		Base:      600 * time.Millisecond,
		Cap:       5 * time.Second,
		Jitter:    500 * time.Millisecond,
		Retryable: Retryable,
	}
}

// Delay is the wait after failed attempt n (1-based) before jitter:
// min(Base*2^(n-1), Cap).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Base) * math.Pow(2, float64(attempt-1))
	if d >= float64(p.Cap) {
		return p.Cap
	}
	return time.Duration(d)
}

// policyBackOff adapts Policy to backoff.BackOff.
type policyBackOff struct {
	policy  Policy
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	d := b.policy.Delay(b.attempt)
	if b.policy.Jitter > 0 {
		d += time.Duration(rand.Int64N(int64(b.policy.Jitter)))
	}
	return d
}

func (b *policyBackOff) Reset() { b.attempt = 0 }

// Retry runs op until it succeeds, returns an error the policy does not
// consider retryable, or MaxTries attempts have been made. It returns the
// number of attempts used. notify is called before each wait.
func Retry[T any](ctx context.Context, p Policy, op func(attempt int) (T, error), notify func(err error, attempt int, wait time.Duration)) (T, int, error) {
	tries := max(p.MaxTries, 1)
	attempt := 0

	operation := func() (T, error) {
		attempt++
		res, err := op(attempt)
		if err != nil && p.Retryable != nil && !p.Retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&policyBackOff{policy: p}, uint64(tries-1)),
		ctx,
	)

	res, err := backoff.RetryNotifyWithData(operation, b, func(err error, wait time.Duration) {
		if notify != nil {
			notify(err, attempt, wait)
		}
	})
	return res, attempt, err
}
