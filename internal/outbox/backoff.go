package outbox

import (
	"math"
	"time"
)

// Backoff computes delays between drain rounds that keep failing.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Next returns the delay after the given number of consecutive failed
// rounds. Zero failures yields Initial.
func (b Backoff) Next(failures int) time.Duration {
	if failures <= 0 {
		return b.Initial
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}
	delay := float64(b.Initial) * math.Pow(mult, float64(failures))
	if b.Max > 0 && delay > float64(b.Max) {
		return b.Max
	}
	return time.Duration(delay)
}
