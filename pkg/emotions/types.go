// Package emotions provides the facial emotion presets for the avatar rig.
//
// A preset maps an emotion tag and an intensity to a snapshot of blend shape
// weights. Presets are loaded from an embedded YAML table and may be
// overridden from a file on disk.
package emotions

import "strings"

// Tag identifies an emotion preset.
type Tag int

const (
	// Neutral is the empty preset; blending to it returns every channel to zero.
	Neutral Tag = iota
	Happy
	Flirty
	Seductive
	Aroused
	Ecstasy
	Thinking
	Confident
	Sad
	Angry
	Surprised
)

var tagNames = [...]string{
	Neutral:   "neutral",
	Happy:     "happy",
	Flirty:    "flirty",
	Seductive: "seductive",
	Aroused:   "aroused",
	Ecstasy:   "ecstasy",
	Thinking:  "thinking",
	Confident: "confident",
	Sad:       "sad",
	Angry:     "angry",
	Surprised: "surprised",
}

// String returns the wire name of the tag.
func (t Tag) String() string {
	if t < 0 || int(t) >= len(tagNames) {
		return "unknown"
	}
	return tagNames[t]
}

// Tags returns every known tag in declaration order.
func Tags() []Tag {
	tags := make([]Tag, len(tagNames))
	for i := range tagNames {
		tags[i] = Tag(i)
	}
	return tags
}

// ParseTag converts a wire name to a Tag. Matching is case-insensitive.
// Unknown names report false and return Neutral.
func ParseTag(name string) (Tag, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range tagNames {
		if n == name {
			return Tag(i), true
		}
	}
	return Neutral, false
}

// Preset is a named set of channel weights at intensity 1.0.
type Preset struct {
	// Name is the tag's wire name.
	Name string

	// Description explains the expression.
	Description string

	// Weights are the channel weights at full intensity.
	Weights map[string]float64
}

// Scaled returns the preset weights multiplied by intensity as a new map.
func (p *Preset) Scaled(intensity float64) map[string]float64 {
	out := make(map[string]float64, len(p.Weights))
	for ch, w := range p.Weights {
		out[ch] = w * intensity
	}
	return out
}
