package avatar

import (
	"github.com/rs/zerolog"

	"github.com/teslashibe/go-avatar/pkg/blend"
	"github.com/teslashibe/go-avatar/pkg/protocol"
)

// Rig is the host system that displays the avatar. The controller calls it
// only from the goroutine that drives Tick.
type Rig interface {
	// ApplyWeights receives each frame's channel writes. The map must not be
	// retained past the call.
	ApplyWeights(weights blend.Weights)

	// ApplyBodyWeights receives body shape parameters verbatim.
	ApplyBodyWeights(weights map[string]float64)

	// PlayAnimation triggers a named animation.
	PlayAnimation(name string)

	// LookAt points the eyes at target; ResetGaze releases the gaze target.
	LookAt(target protocol.Vector)
	ResetGaze()
}

// NopRig discards everything.
type NopRig struct{}

func (NopRig) ApplyWeights(blend.Weights)          {}
func (NopRig) ApplyBodyWeights(map[string]float64) {}
func (NopRig) PlayAnimation(string)                {}
func (NopRig) LookAt(protocol.Vector)              {}
func (NopRig) ResetGaze()                          {}

// LogRig logs every rig call. Frame weights are logged at trace level.
type LogRig struct {
	log zerolog.Logger
}

// NewLogRig creates a LogRig.
func NewLogRig(logger zerolog.Logger) *LogRig {
	return &LogRig{log: logger.With().Str("component", "rig").Logger()}
}

func (r *LogRig) ApplyWeights(weights blend.Weights) {
	if len(weights) == 0 {
		return
	}
	ev := r.log.Trace()
	if !ev.Enabled() {
		return
	}
	dict := zerolog.Dict()
	for ch, w := range weights {
		dict.Float64(ch, w)
	}
	ev.Dict("weights", dict).Msg("frame")
}

func (r *LogRig) ApplyBodyWeights(weights map[string]float64) {
	r.log.Info().Int("params", len(weights)).Msg("body weights applied")
}

func (r *LogRig) PlayAnimation(name string) {
	r.log.Info().Str("animation", name).Msg("play animation")
}

func (r *LogRig) LookAt(target protocol.Vector) {
	r.log.Debug().
		Float64("x", target.X).
		Float64("y", target.Y).
		Float64("z", target.Z).
		Msg("look at")
}

func (r *LogRig) ResetGaze() {
	r.log.Debug().Msg("gaze reset")
}
