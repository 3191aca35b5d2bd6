// Package retry provides the bounded backoff policy used for idempotent store reads
// and reference collisions.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines exponential backoff parameters.
type Policy struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	Jitter        float64       `yaml:"jitter"`
}

// Default is used when a policy is left unconfigured.
var Default = Policy{
	MaxAttempts:   3,
	InitialDelay:  50 * time.Millisecond,
	MaxDelay:      time.Second,
	BackoffFactor: 2,
	Jitter:        0.2,
}

// Once never retries. Non-idempotent writes run under it.
var Once = Policy{MaxAttempts: 1}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// NextDelay returns the delay after a given attempt (1-based) with clamping.
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 50 * time.Millisecond
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = 2
	}

	delay := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if p.Jitter > 0 {
		j := math.Min(p.Jitter, 1)
		delay += delay * j * (rand.Float64()*2 - 1) //nolint:gosec // jitter only
	}
	d := time.Duration(delay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d <= 0 {
		d = p.InitialDelay
	}
	return d
}

// Do runs fn until it succeeds, returns an error retryable rejects, the attempts are
// spent or ctx is done. A nil retryable retries every error.
// The returned int is the number of attempts made.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error, retryable func(error) bool) (int, error) {
	var err error
	limit := p.attempts()
	for attempt := 1; attempt <= limit; attempt++ {
		if err = fn(attempt); err == nil {
			return attempt, nil
		}
		if retryable != nil && !retryable(err) {
			return attempt, err
		}
		if attempt == limit {
			return attempt, err
		}

		timer := time.NewTimer(p.NextDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
	return limit, err
}
