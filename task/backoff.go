package task

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: exponential doubling from Base up to
// Cap, with up to 20% jitter in both directions so providers that fail
// together do not retry together.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	// rand is swappable for deterministic tests, nil means math/rand.
	rand func() float64
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	if d > b.Cap {
		d = b.Cap
	}

	random := b.rand
	if random == nil {
		random = rand.Float64
	}
	jitter := 1 + (random()*2-1)*0.2
	return time.Duration(float64(d) * jitter)
}
