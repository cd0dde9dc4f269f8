package dispatcher

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/morezero/contracts-gateway/pkg/rpcerr"
	"github.com/morezero/contracts-gateway/pkg/schema"
)

// RetryPolicy controls how a failed call is re-attempted with a fresh envelope.
// The zero value makes a single attempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first. Values
	// below 2 disable retries.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	RandomFactor    float64
	// RetryUpdates allows update calls to be retried. Update calls are not
	// idempotent, so a retry after a timeout may apply the mutation twice.
	RetryUpdates bool
}

// NoRetry is the default policy.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// DefaultRetryPolicy retries query calls up to three times with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
		RandomFactor:    0.1,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// allowsRetry reports whether a call in mode may be retried at all.
func (p RetryPolicy) allowsRetry(mode schema.Mode) bool {
	return mode == schema.ModeQuery || p.RetryUpdates
}

// shouldRetry reports whether err from a call in mode warrants another attempt.
// Only TRANSPORT_UNAVAILABLE and TIMEOUT qualify; REMOTE_REJECTED never does.
func (p RetryPolicy) shouldRetry(mode schema.Mode, err error) bool {
	if !p.allowsRetry(mode) {
		return false
	}
	return errors.Is(err, rpcerr.ErrTransportUnavailable) || errors.Is(err, rpcerr.ErrTimeout)
}

// backoff returns the delay before attempt n+1 (n counts from 0).
func (p RetryPolicy) backoff(n int) time.Duration {
	if p.InitialInterval <= 0 {
		return 0
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(p.InitialInterval) * math.Pow(multiplier, float64(n))

	if p.RandomFactor > 0 {
		delay += delay * p.RandomFactor * (rand.Float64()*2 - 1)
	}
	if p.MaxInterval > 0 && delay > float64(p.MaxInterval) {
		delay = float64(p.MaxInterval)
	}
	if delay < 0 {
		delay = float64(p.InitialInterval)
	}
	return time.Duration(delay)
}
