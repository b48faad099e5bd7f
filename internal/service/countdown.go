package service

import "time"

// Countdown tracks the time allowance of a test attempt as a pure function
// of its start timestamp and fixed duration. Remaining time is derived
// from the wall clock on every evaluation rather than decremented in
// place, so missed or jittery ticks never accumulate drift and the
// countdown is always reconstructible from the persisted attempt start.
type Countdown struct {
	StartedAt time.Time
	Duration  time.Duration
}

// NewCountdown builds a countdown for an attempt started at the given time.
func NewCountdown(startedAt time.Time, duration time.Duration) Countdown {
	return Countdown{StartedAt: startedAt, Duration: duration}
}

// Remaining returns the time left at the reference instant, clamped to
// [0, Duration].
func (c Countdown) Remaining(now time.Time) time.Duration {
	elapsed := now.Sub(c.StartedAt)
	if elapsed < 0 {
		return c.Duration
	}
	remaining := c.Duration - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingSeconds returns the remaining whole seconds at the reference instant.
func (c Countdown) RemainingSeconds(now time.Time) int {
	return int(c.Remaining(now) / time.Second)
}

// Expired reports whether the allowance is exhausted at the reference instant.
func (c Countdown) Expired(now time.Time) bool {
	return c.Remaining(now) <= 0
}

// TimeTakenMinutes returns the minutes consumed at the reference
// instant: durationMinutes minus the floor of the remaining minutes.
func (c Countdown) TimeTakenMinutes(now time.Time) int {
	durationMinutes := int(c.Duration / time.Minute)
	remainingMinutes := int(c.Remaining(now) / time.Minute)
	return durationMinutes - remainingMinutes
}
