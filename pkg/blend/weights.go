package blend

import (
	"maps"
	"time"
)

// Weights maps channel identifiers to weights. Values are not range-limited;
// negative corrective weights pass through untouched.
type Weights map[string]float64

// Clone returns a copy of w.
func (w Weights) Clone() Weights {
	if w == nil {
		return Weights{}
	}
	return maps.Clone(w)
}

// Frame is one timed viseme in a lip-sync track.
type Frame struct {
	Time      time.Duration // offset from track activation
	Viseme    string
	Intensity float64
}

// Scheduler invokes fn once after d. Implementations must deliver fn on the
// same logical thread that calls Engine.Evaluate.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func())
}

// lerp is exact at both ends: lerp(a, b, 0) == a and lerp(a, b, 1) == b.
func lerp(a, b, t float64) float64 {
	return a*(1-t) + b*t
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clockScheduler fires callbacks from the engine's frame clock.
type clockScheduler struct {
	now    func() time.Duration
	timers []clockTimer
}

type clockTimer struct {
	at time.Duration
	fn func()
}

func (s *clockScheduler) AfterFunc(d time.Duration, fn func()) {
	s.timers = append(s.timers, clockTimer{at: s.now() + d, fn: fn})
}

// fire runs every timer due at or before the current clock, in schedule order.
func (s *clockScheduler) fire() {
	now := s.now()
	var due []func()
	kept := s.timers[:0]
	for _, t := range s.timers {
		if t.at <= now {
			due = append(due, t.fn)
		} else {
			kept = append(kept, t)
		}
	}
	s.timers = kept
	for _, fn := range due {
		fn()
	}
}
