// Package protocol defines the WebSocket message types exchanged between an
// avatar client and its remote command source.
//
// Messages travel as flat JSON objects discriminated by a "type" field. The
// set of message kinds is closed: every kind has a concrete Go type that
// implements Message.
package protocol

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Avatar → command source
	TypeRegister     MessageType = "register"      // Client identity handshake
	TypeEvent        MessageType = "event"         // Free-form client event
	TypeStateChange  MessageType = "state_change"  // Animation state transition
	TypeUserGesture  MessageType = "user_gesture"  // Gesture performed by the user
	TypeArousalState MessageType = "arousal_state" // Echo of the clamped arousal level

	// Command source → avatar
	TypeEmotion   MessageType = "emotion"   // Blend to an emotion preset
	TypeMorph     MessageType = "morph"     // Blend to explicit channel weights
	TypeAnimation MessageType = "animation" // Trigger a named rig animation
	TypeLipSync   MessageType = "lipsync"   // Timed viseme track
	TypeArousal   MessageType = "arousal"   // Arousal scalar
	TypeLookAt    MessageType = "look_at"   // Gaze target
)

// DefaultIntensity is used when an emotion or lip-sync frame omits its intensity.
const DefaultIntensity = 1.0

// Message is implemented by every wire message kind.
// Values are immutable once constructed.
type Message interface {
	Type() MessageType
}

// =============================================================================
// Avatar → Command Source Message Types
// =============================================================================

// Register declares the client identity and capability set.
// It is sent exactly once after every successful connect.
type Register struct {
	ClientType   string   `json:"client_type"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// Event carries a free-form client event.
type Event struct {
	EventType string `json:"event_type"`
	Data      string `json:"data"`
}

// StateChange reports an animation state transition.
// On the wire its fields are nested under "data".
type StateChange struct {
	Animation string `json:"animation"`
	Emotion   string `json:"emotion"`
}

// UserGesture reports a gesture. On the wire it is nested under "data".
type UserGesture struct {
	Gesture string `json:"gesture"`
}

// ArousalState echoes the arousal level, clamped to [0,1] before send.
type ArousalState struct {
	Level float64 `json:"level"`
}

// =============================================================================
// Command Source → Avatar Message Types
// =============================================================================

// Emotion asks the avatar to blend to an emotion preset.
type Emotion struct {
	Emotion   string  `json:"emotion"`
	Intensity float64 `json:"intensity"`
}

// Morph asks the avatar to blend to explicit channel weights.
type Morph struct {
	Targets map[string]float64 `json:"morph_targets"`
}

// Animation triggers a named animation on the rig.
type Animation struct {
	Animation string `json:"animation"`
}

// LipSync replaces the active viseme track.
type LipSync struct {
	Frames []LipSyncFrame `json:"data"`
}

// LipSyncFrame is one timed viseme.
type LipSyncFrame struct {
	Time      float64 `json:"time"` // milliseconds since track activation
	Viseme    string  `json:"viseme"`
	Intensity float64 `json:"intensity"`
}

// Arousal sets the arousal scalar.
type Arousal struct {
	Level float64 `json:"level"`
}

// LookAt sets the gaze target.
type LookAt struct {
	Target Vector `json:"target"`
}

// Vector is a point in rig space.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (Register) Type() MessageType     { return TypeRegister }
func (Event) Type() MessageType        { return TypeEvent }
func (StateChange) Type() MessageType  { return TypeStateChange }
func (UserGesture) Type() MessageType  { return TypeUserGesture }
func (ArousalState) Type() MessageType { return TypeArousalState }
func (Emotion) Type() MessageType      { return TypeEmotion }
func (Morph) Type() MessageType        { return TypeMorph }
func (Animation) Type() MessageType    { return TypeAnimation }
func (LipSync) Type() MessageType      { return TypeLipSync }
func (Arousal) Type() MessageType      { return TypeArousal }
func (LookAt) Type() MessageType       { return TypeLookAt }
