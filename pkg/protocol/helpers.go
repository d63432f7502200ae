package protocol

import "math"

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewRegister creates a register message. The capability slice is copied.
func NewRegister(clientType, version string, capabilities []string) Register {
	caps := make([]string, len(capabilities))
	copy(caps, capabilities)
	return Register{
		ClientType:   clientType,
		Version:      version,
		Capabilities: caps,
	}
}

// NewEvent creates a free-form event message
func NewEvent(eventType, data string) Event {
	return Event{EventType: eventType, Data: data}
}

// NewStateChange creates a state change message
func NewStateChange(animation, emotion string) StateChange {
	return StateChange{Animation: animation, Emotion: emotion}
}

// NewUserGesture creates a user gesture message
func NewUserGesture(gesture string) UserGesture {
	return UserGesture{Gesture: gesture}
}

// NewArousalState creates an arousal echo with the level clamped to [0,1].
func NewArousalState(level float64) ArousalState {
	return ArousalState{Level: Clamp01(level)}
}

// NewEmotion creates an emotion command
func NewEmotion(emotion string, intensity float64) Emotion {
	return Emotion{Emotion: emotion, Intensity: intensity}
}

// NewMorph creates a morph command. The target map is copied.
func NewMorph(targets map[string]float64) Morph {
	out := make(map[string]float64, len(targets))
	for k, v := range targets {
		out[k] = v
	}
	return Morph{Targets: out}
}

// NewLipSync creates a lip-sync command. The frame slice is copied.
func NewLipSync(frames ...LipSyncFrame) LipSync {
	out := make([]LipSyncFrame, len(frames))
	copy(out, frames)
	return LipSync{Frames: out}
}

// =============================================================================
// Helper functions for reading values
// =============================================================================

// Clamp01 limits v to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Duration returns the span of the track in milliseconds, i.e. the largest
// frame timestamp.
func (l LipSync) Duration() float64 {
	var d float64
	for _, f := range l.Frames {
		if f.Time > d {
			d = f.Time
		}
	}
	return d
}
