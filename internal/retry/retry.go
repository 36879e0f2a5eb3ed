// Package retry runs idempotent calls against external services with
// exponential backoff and full jitter.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/types"
)

const (
	defaultAttempts  = 5
	defaultBaseDelay = 200 * time.Millisecond
	defaultMaxDelay  = 10 * time.Second
)

// Policy bounds the retries of a single call.
type Policy struct {
	Attempts  uint
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// OnRetry, when set, is called before every retry with the operation name.
	OnRetry func(operation string)
}

// DefaultPolicy is five attempts starting at 200ms and capped at 10s.
func DefaultPolicy() Policy {
	return Policy{Attempts: defaultAttempts, BaseDelay: defaultBaseDelay, MaxDelay: defaultMaxDelay}
}

// fullJitter picks a delay uniformly in [0, min(max, base*2^n)].
func (p Policy) fullJitter(n uint, _ error, _ *retry.Config) time.Duration {
	ceiling := p.MaxDelay
	if n < 32 {
		if d := p.BaseDelay << n; d > 0 && d < ceiling {
			ceiling = d
		}
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}

// Do calls fn until it succeeds, returns a non-transient error, the attempts are
// exhausted or ctx is done. A transient error that survives every attempt is
// reclassified as upstream-unavailable.
func Do(ctx context.Context, logger types.Logger, policy Policy, operation string, fn func(ctx context.Context) error) error {
	if policy.Attempts == 0 {
		policy.Attempts = defaultAttempts
	}
	if policy.MaxDelay == 0 {
		policy.MaxDelay = defaultMaxDelay
	}
	err := retry.Do(
		func() error {
			return fn(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(policy.Attempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(errdefs.IsTransient),
		retry.MaxDelay(policy.MaxDelay),
		retry.DelayType(policy.fullJitter),
		retry.OnRetry(func(n uint, err error) {
			if n+1 >= policy.Attempts {
				return
			}
			logger.Warn("retrying after transient error",
				zap.String("operation", operation), zap.Uint("attempt", n+1), zap.Error(err))
			if policy.OnRetry != nil {
				policy.OnRetry(operation)
			}
		}),
	)
	if err != nil && errdefs.IsTransient(err) {
		return errdefs.Upstream(err)
	}
	return err
}
