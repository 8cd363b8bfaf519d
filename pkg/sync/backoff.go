package sync

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Backoff implements exponential-backoff-with-jitter, base 2s cap 5min per
// spec.md §4.5's retry policy. No backoff library appears anywhere in the
// example pack — every retrying component there (the teacher's dial loop,
// the relay rate limiter) hand-rolls its own timing — so this follows
// suit rather than reaching for an out-of-pack dependency.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff is spec.md's recommended policy: base 2s, cap 5min.
func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Cap: 5 * time.Minute}
}

// Next returns the delay before retry attempt number `attempt` (0-indexed),
// full-jittered between 0 and the exponential ceiling.
func (b Backoff) Next(attempt int) time.Duration {
	if b.Base <= 0 {
		b = DefaultBackoff()
	}
	ceiling := float64(b.Base) * math.Pow(2, float64(attempt))
	if ceiling > float64(b.Cap) || ceiling <= 0 {
		ceiling = float64(b.Cap)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(ceiling)))
	if err != nil {
		return time.Duration(ceiling)
	}
	return time.Duration(n.Int64())
}
