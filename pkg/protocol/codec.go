package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Encode renders msg as a flat JSON object with a top-level "type" field.
// StateChange and UserGesture nest their fields under "data".
// Keys are emitted in sorted order.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}

	var body any = msg
	switch m := msg.(type) {
	case StateChange:
		body = struct {
			Data StateChange `json:"data"`
		}{m}
	case UserGesture:
		body = struct {
			Data UserGesture `json:"data"`
		}{m}
	case ArousalState:
		body = ArousalState{Level: Clamp01(m.Level)}
	case Register:
		if m.Capabilities == nil {
			m.Capabilities = []string{}
		}
		body = m
	case LipSync:
		if m.Frames == nil {
			m.Frames = []LipSyncFrame{}
		}
		body = m
	case Morph:
		if m.Targets == nil {
			m.Targets = map[string]float64{}
		}
		body = m
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msg.Type(), err)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msg.Type(), err)
	}
	obj["type"] = json.RawMessage(strconv.Quote(string(msg.Type())))

	return json.Marshal(obj)
}

// Decode parses an inbound JSON message.
//
// Unknown types return a *DecodeError wrapping ErrUnknownType. Invalid JSON and
// payloads lacking a required field return a *DecodeError wrapping ErrMalformed.
// Optional fields fall back to their documented defaults, and entries of the
// wrong JSON kind inside collections are skipped.
func Decode(data []byte) (Message, error) {
	obj, err := parseObject(data)
	if err != nil {
		return nil, malformed("", "invalid json", err)
	}

	typ, ok := obj.str("type")
	if !ok {
		return nil, malformed("", "missing type", nil)
	}

	msgType := MessageType(typ)
	switch msgType {
	case TypeEmotion:
		return decodeEmotion(obj), nil
	case TypeMorph:
		return decodeMorph(obj)
	case TypeAnimation:
		return decodeAnimation(obj)
	case TypeLipSync:
		return decodeLipSync(obj)
	case TypeArousal:
		return decodeArousal(obj)
	case TypeLookAt:
		return decodeLookAt(obj)
	case TypeRegister:
		return decodeRegister(obj), nil
	case TypeEvent:
		return decodeEvent(obj), nil
	case TypeStateChange:
		return decodeStateChange(obj)
	case TypeUserGesture:
		return decodeUserGesture(obj)
	case TypeArousalState:
		return decodeArousalState(obj)
	default:
		return nil, &DecodeError{Type: typ, Reason: "unknown type", Err: ErrUnknownType}
	}
}

// =============================================================================
// Per-type decoders
// =============================================================================

func decodeEmotion(obj fields) Emotion {
	tag, _ := obj.str("emotion")
	return Emotion{
		Emotion:   tag,
		Intensity: obj.numOr("intensity", DefaultIntensity),
	}
}

func decodeMorph(obj fields) (Message, error) {
	targets, ok := obj.object("morph_targets")
	if !ok {
		return nil, malformed(TypeMorph, "morph_targets must be an object", nil)
	}
	out := make(map[string]float64, len(targets))
	for name := range targets {
		if v, ok := targets.num(name); ok {
			out[name] = v
		}
	}
	return Morph{Targets: out}, nil
}

func decodeAnimation(obj fields) (Message, error) {
	name, ok := obj.str("animation")
	if !ok {
		return nil, malformed(TypeAnimation, "animation must be a string", nil)
	}
	return Animation{Animation: name}, nil
}

func decodeLipSync(obj fields) (Message, error) {
	items, ok := obj.array("data")
	if !ok {
		return nil, malformed(TypeLipSync, "data must be an array", nil)
	}
	frames := make([]LipSyncFrame, 0, len(items))
	for _, item := range items {
		frame, err := parseObject(item)
		if err != nil {
			continue
		}
		viseme, ok := frame.str("viseme")
		if !ok || viseme == "" {
			continue
		}
		t := frame.numOr("time", 0)
		if t < 0 {
			t = 0
		}
		frames = append(frames, LipSyncFrame{
			Time:      t,
			Viseme:    viseme,
			Intensity: frame.numOr("intensity", DefaultIntensity),
		})
	}
	return LipSync{Frames: frames}, nil
}

func decodeArousal(obj fields) (Message, error) {
	level, ok := obj.num("level")
	if !ok {
		return nil, malformed(TypeArousal, "level must be a number", nil)
	}
	return Arousal{Level: level}, nil
}

func decodeLookAt(obj fields) (Message, error) {
	target, ok := obj.object("target")
	if !ok {
		return nil, malformed(TypeLookAt, "target must be an object", nil)
	}
	return LookAt{Target: Vector{
		X: target.numOr("x", 0),
		Y: target.numOr("y", 0),
		Z: target.numOr("z", 0),
	}}, nil
}

func decodeRegister(obj fields) Register {
	clientType, _ := obj.str("client_type")
	version, _ := obj.str("version")
	caps := []string{}
	if items, ok := obj.array("capabilities"); ok {
		for _, item := range items {
			var s string
			if json.Unmarshal(item, &s) == nil && !isNull(item) {
				caps = append(caps, s)
			}
		}
	}
	return Register{ClientType: clientType, Version: version, Capabilities: caps}
}

func decodeEvent(obj fields) Event {
	eventType, _ := obj.str("event_type")
	data, _ := obj.str("data")
	return Event{EventType: eventType, Data: data}
}

func decodeStateChange(obj fields) (Message, error) {
	data, ok := obj.object("data")
	if !ok {
		return nil, malformed(TypeStateChange, "data must be an object", nil)
	}
	animation, _ := data.str("animation")
	emotion, _ := data.str("emotion")
	return StateChange{Animation: animation, Emotion: emotion}, nil
}

func decodeUserGesture(obj fields) (Message, error) {
	data, ok := obj.object("data")
	if !ok {
		return nil, malformed(TypeUserGesture, "data must be an object", nil)
	}
	gesture, _ := data.str("gesture")
	return UserGesture{Gesture: gesture}, nil
}

func decodeArousalState(obj fields) (Message, error) {
	level, ok := obj.num("level")
	if !ok {
		return nil, malformed(TypeArousalState, "level must be a number", nil)
	}
	return ArousalState{Level: level}, nil
}

// =============================================================================
// Tolerant field access
// =============================================================================

// fields is a JSON object whose values are decoded lazily, one key at a time,
// so that a single bad field never poisons the whole message.
type fields map[string]json.RawMessage

func parseObject(data []byte) (fields, error) {
	var obj fields
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("not an object")
	}
	return obj, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func (f fields) str(key string) (string, bool) {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func (f fields) num(key string) (float64, bool) {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

func (f fields) numOr(key string, def float64) float64 {
	if v, ok := f.num(key); ok {
		return v
	}
	return def
}

func (f fields) object(key string) (fields, bool) {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return nil, false
	}
	obj, err := parseObject(raw)
	if err != nil {
		return nil, false
	}
	return obj, true
}

func (f fields) array(key string) ([]json.RawMessage, bool) {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}
