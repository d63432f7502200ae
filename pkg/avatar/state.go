package avatar

import "strings"

// AnimationState is the avatar's behavioral state. It gates idle behavior and
// is reported to the command source on every change.
type AnimationState int

const (
	StateIdle AnimationState = iota
	StateTalking
	StateListening
	StateThinking
	StateEmotional
	StateIntimate
	StateCustom
)

var stateNames = [...]string{
	StateIdle:      "idle",
	StateTalking:   "talking",
	StateListening: "listening",
	StateThinking:  "thinking",
	StateEmotional: "emotional",
	StateIntimate:  "intimate",
	StateCustom:    "custom",
}

// String returns the wire name of the state. Out-of-range values report "custom".
func (s AnimationState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return stateNames[StateCustom]
	}
	return stateNames[s]
}

// IdleActive reports whether breathing and blinking run in this state.
func (s AnimationState) IdleActive() bool {
	return s == StateIdle || s == StateListening
}

// ParseAnimationState converts a wire name to a state. Unknown names map to
// StateCustom and report false.
func ParseAnimationState(name string) (AnimationState, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range stateNames {
		if n == name {
			return AnimationState(i), true
		}
	}
	return StateCustom, false
}
