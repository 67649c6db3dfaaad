// Package backoff provides retry delay strategies for job processing.
// All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"math"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Schedule is a fixed, monotonically increasing delay table. Attempts past
// the last entry are clamped to it.
type Schedule struct {
	steps []time.Duration
}

// NewSchedule creates a fixed-schedule backoff from the given steps.
func NewSchedule(steps ...time.Duration) *Schedule {
	return &Schedule{steps: steps}
}

// Delay returns the step for the given attempt, clamped to the last entry.
func (s *Schedule) Delay(attempt int) time.Duration {
	if len(s.steps) == 0 || attempt < 1 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	return s.steps[idx]
}

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// Default returns the schedule used by the pipeline: 1s, 5s, 15s.
func Default() Strategy {
	return NewSchedule(1*time.Second, 5*time.Second, 15*time.Second)
}
