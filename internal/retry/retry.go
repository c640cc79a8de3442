// Package retry provides the exponential backoff policy shared by the
// download manager and the sync queue.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Policy computes backoff delays of the shape
// min(BaseDelay * Multiplier^(attempt-1), MaxDelay), with symmetric jitter of
// up to Jitter (a fraction, e.g. 0.2 for +-20%).
//
// A Policy is safe for concurrent use.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	MaxAttempts int
	Jitter      float64

	rng *lockedRand
}

// DefaultMultiplier doubles the delay on every attempt.
const DefaultMultiplier = 2.0

// New returns a Policy with the standard multiplier and a 20% jitter band.
func New(base, max time.Duration, maxAttempts int) Policy {
	return Policy{
		BaseDelay:   base,
		MaxDelay:    max,
		Multiplier:  DefaultMultiplier,
		MaxAttempts: maxAttempts,
		Jitter:      0.2,
	}
}

// WithRand returns a copy of the policy drawing jitter from src. Tests use a
// seeded source for reproducible delays.
func (p Policy) WithRand(src rand.Source) Policy {
	p.rng = &lockedRand{r: rand.New(src)}
	return p
}

// Delay returns the backoff before retrying after the attempt-th failure
// (1-based). Attempt values below 1 yield no delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}

	mult := p.Multiplier
	if mult <= 0 {
		mult = DefaultMultiplier
	}

	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
			break
		}
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}

	if p.Jitter > 0 {
		// Symmetric jitter in [-Jitter, +Jitter] of the base value.
		d += d * p.Jitter * (2*p.float64() - 1)
		if d < 0 {
			d = 0
		}
		if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
		}
	}

	return time.Duration(d)
}

// Sleep blocks for Delay(attempt) or until the context is done.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Exhausted reports whether the attempt count has reached MaxAttempts.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// NextRetryAt returns the wall-clock time for the retry following the
// attempt-th failure.
func (p Policy) NextRetryAt(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}

func (p Policy) float64() float64 {
	if p.rng != nil {
		return p.rng.float64()
	}
	return rand.Float64()
}

// lockedRand serializes access to a rand.Rand, which is not goroutine-safe.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
