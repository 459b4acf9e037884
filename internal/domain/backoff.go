package domain

import "time"

// Poll backoff defaults: 2^(1/4) seconds per attempt, capped at two minutes.
const (
	DefaultBackoffFactor = 1189207115 * time.Nanosecond
	DefaultBackoffMax    = 120 * time.Second
)

// Backoff is a linear, capped delay schedule for the poll loop.
type Backoff struct {
	Factor time.Duration
	Max    time.Duration
}

// DefaultBackoff returns the schedule used when none is configured.
func DefaultBackoff() Backoff {
	return Backoff{Factor: DefaultBackoffFactor, Max: DefaultBackoffMax}
}

// Delay returns min(Max, Factor*attempt). Attempts below 1 count as 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Factor * time.Duration(attempt)
	if b.Max > 0 && (d > b.Max || d < 0) {
		return b.Max
	}
	return d
}
