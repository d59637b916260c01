// Package ratelimit provides character-budget rate limiting for TTS calls.
// It tracks characters submitted against a rolling one-minute window and
// tells callers whether to proceed, wait, or give up.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Status is the outcome of a reservation attempt.
type Status int

const (
	// Allowed means the reservation fits in the current window and the
	// caller may proceed immediately.
	Allowed Status = iota

	// Wait means the reservation was accepted but the caller must wait
	// for Decision.Delay before proceeding.
	Wait

	// Rejected means the request alone exceeds the window cap and can
	// never succeed.
	Rejected
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case Allowed:
		return "allowed"
	case Wait:
		return "wait"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Decision is the result of Limiter.Reserve.
type Decision struct {
	Status Status

	// Delay is how long the caller must wait before proceeding. Only
	// meaningful when Status is Wait.
	Delay time.Duration
}

// Clock abstracts time for testing. The limiter never calls time.Now
// directly, so tests can drive it with a fake clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// Limiter caps the number of characters processed per rolling minute.
// A reservation charges the window immediately, so a caller told to wait
// does not need to reserve again after the delay elapses. Reservations
// serialize on an internal mutex, which keeps admission FIFO among
// callers that are equally ready.
type Limiter struct {
	mu    sync.Mutex
	lim   *rate.Limiter
	cap   int
	clock Clock
}

// New creates a Limiter allowing charsPerMin characters per rolling
// minute. A nil clock defaults to the system clock.
func New(charsPerMin int, clock Clock) *Limiter {
	if clock == nil {
		clock = SystemClock()
	}
	return &Limiter{
		lim:   rate.NewLimiter(rate.Limit(float64(charsPerMin)/60.0), charsPerMin),
		cap:   charsPerMin,
		clock: clock,
	}
}

// Cap returns the configured window cap in characters.
func (l *Limiter) Cap() int {
	return l.cap
}

// Reserve attempts to reserve n characters of TTS budget. The returned
// decision is Allowed, Wait with a delay, or Rejected when n alone
// exceeds the cap. A Wait decision has already consumed budget; the
// caller only needs to sleep out the delay.
func (l *Limiter) Reserve(n int) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > l.cap {
		return Decision{Status: Rejected}
	}

	now := l.clock.Now()
	r := l.lim.ReserveN(now, n)
	if !r.OK() {
		return Decision{Status: Rejected}
	}

	delay := r.DelayFrom(now)
	if delay <= 0 {
		return Decision{Status: Allowed}
	}
	return Decision{Status: Wait, Delay: delay}
}
