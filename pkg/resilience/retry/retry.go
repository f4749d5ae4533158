// Package retry implements C8: a wall-clock timeout wrapper plus a retry
// policy with exponential backoff and jitter, filtered by the error
// classification in pkg/errors.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"

	pforgeerrors "github.com/pforge-dev/pforge/pkg/errors"
)

// Policy configures the retry loop, per spec.md section 4.8.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         bool
}

// policyBackOff implements backoff.BackOff using spec.md 4.8's exact
// formula (min(initial*multiplier^k, max) plus up to 10% one-sided
// jitter). The upstream library's own ExponentialBackOff applies a
// symmetric randomization factor around the running interval, which does
// not satisfy the spec's monotonic, one-sided-jitter, hard-capped
// invariant (section 8: "backoff(k) <= backoff(k+1), bounded above by
// max_backoff * 1.1") — so the formula is computed directly here, with
// backoff.BackOff kept as the interface contract the rest of the call site
// programs against.
type policyBackOff struct {
	policy  Policy
	attempt int
}

var _ backoff.BackOff = (*policyBackOff)(nil)

func (p *policyBackOff) NextBackOff() time.Duration {
	d := computeBackoff(p.policy, p.attempt)
	p.attempt++
	return d
}

func (p *policyBackOff) Reset() {
	p.attempt = 0
}

func computeBackoff(policy Policy, k int) time.Duration {
	base := float64(policy.InitialBackoff) * math.Pow(policy.Multiplier, float64(k))
	if maxD := float64(policy.MaxBackoff); policy.MaxBackoff > 0 && base > maxD {
		base = maxD
	}
	d := base
	if policy.Jitter {
		d += rand.Float64() * 0.1 * base //nolint:gosec // jitter does not need a CSPRNG
	}
	return time.Duration(d)
}

// WithTimeout races fn against a d-long deadline. fn must observe ctx and
// release its resources promptly when ctx is done; WithTimeout does not
// forcibly terminate fn, it only stops waiting on it.
func WithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := fn(ctx)
		done <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, pforgeerrors.NewTimeoutError(d.String()+" elapsed", ctx.Err())
	case r := <-done:
		return r.data, r.err
	}
}

// Factory produces one attempt's future. Each call must be a fresh
// attempt: retry never resumes a cancelled one.
type Factory func(ctx context.Context) ([]byte, error)

// WithPolicy drives factory through policy.MaxAttempts attempts (so exactly
// MaxAttempts attempts occur in the worst case, per spec.md section 4.8's
// closing paragraph), sleeping policyBackOff's formula between them via
// backoff.Retry. A non-retryable failure (per pforgeerrors.Retryable) is
// wrapped in backoff.Permanent so the loop returns it immediately instead of
// consuming the remaining attempts.
func WithPolicy(ctx context.Context, policy Policy, factory Factory) ([]byte, error) {
	bo := &policyBackOff{policy: policy}
	return backoff.Retry(ctx, func() ([]byte, error) {
		data, err := factory(ctx)
		if err == nil {
			return data, nil
		}
		if !pforgeerrors.Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(policy.MaxAttempts)))
}
