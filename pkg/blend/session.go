package blend

import (
	"time"

	"github.com/teslashibe/go-avatar/pkg/emotions"
)

// session interpolates from a snapshot of the current weights to a target.
type session struct {
	from     Weights // current weights when the session started
	target   Weights // explicit targets plus every from-channel heading to zero
	explicit Weights // targets as requested
	fraction float64
	duration time.Duration
	settled  bool
}

// SetEmotion starts a blend toward the preset for tag scaled by intensity.
// A duration <= 0 jumps on the next Evaluate.
func (e *Engine) SetEmotion(tag emotions.Tag, intensity float64, duration time.Duration) {
	e.emotion = tag
	e.intensity = intensity
	e.startSession(e.presets.Weights(tag, intensity), duration)

	e.log.Debug().
		Str("emotion", tag.String()).
		Float64("intensity", intensity).
		Dur("duration", duration).
		Msg("emotion blend started")
}

// SetMorphs starts a blend toward explicit channel weights.
// Keys pass through the name mapper.
func (e *Engine) SetMorphs(targets map[string]float64, duration time.Duration) {
	e.startSession(e.mapper.MapAll(targets), duration)

	e.log.Debug().
		Int("channels", len(targets)).
		Dur("duration", duration).
		Msg("morph blend started")
}

// startSession supersedes the active session.
func (e *Engine) startSession(target map[string]float64, duration time.Duration) {
	from := e.current.Clone()
	explicit := Weights(target).Clone()

	union := make(Weights, len(from)+len(explicit))
	for ch := range from {
		union[ch] = 0
	}
	for ch, w := range explicit {
		union[ch] = w
	}

	e.session = session{
		from:     from,
		target:   union,
		explicit: explicit,
		duration: duration,
	}
}

func (e *Engine) advanceSession(dt time.Duration, frame Weights) {
	s := &e.session
	if s.duration <= 0 {
		s.fraction = 1
	} else {
		s.fraction = clamp(s.fraction+float64(dt)/float64(s.duration), 0, 1)
	}

	for ch, to := range s.target {
		v := lerp(s.from[ch], to, s.fraction)
		e.current[ch] = v
		frame[ch] = v
	}

	// Channels that blended to zero only because the new target omitted
	// them are released once they arrive.
	if s.fraction >= 1 && !s.settled {
		for ch := range s.target {
			if _, ok := s.explicit[ch]; !ok {
				delete(e.current, ch)
			}
		}
		s.target = s.explicit
		s.from = s.explicit
		s.settled = true
	}
}
