package emotions

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed data/presets.yaml
var embeddedPresets []byte

// presetFile is the raw YAML structure of a preset table.
type presetFile struct {
	Presets map[string]presetData `yaml:"presets"`
}

type presetData struct {
	Description string             `yaml:"description"`
	Weights     map[string]float64 `yaml:"weights"`
}

// LoadEmbedded parses the built-in preset table.
func LoadEmbedded() ([]*Preset, error) {
	return parsePresetYAML(embeddedPresets)
}

// LoadFromFile loads presets from a YAML file on disk.
// This allows deployments to tune expressions for a specific rig.
func LoadFromFile(path string) ([]*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preset file: %w", err)
	}
	return parsePresetYAML(data)
}

// parsePresetYAML parses YAML data into presets. Every name must be a known Tag.
func parsePresetYAML(data []byte) ([]*Preset, error) {
	var raw presetFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPreset, err)
	}
	if len(raw.Presets) == 0 {
		return nil, fmt.Errorf("%w: no presets", ErrInvalidPreset)
	}

	presets := make([]*Preset, 0, len(raw.Presets))
	for name, p := range raw.Presets {
		tag, ok := ParseTag(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTag, name)
		}
		weights := make(map[string]float64, len(p.Weights))
		for ch, w := range p.Weights {
			if ch == "" {
				return nil, fmt.Errorf("%w: %s has an empty channel name", ErrInvalidPreset, name)
			}
			weights[ch] = w
		}
		presets = append(presets, &Preset{
			Name:        tag.String(),
			Description: p.Description,
			Weights:     weights,
		})
	}
	return presets, nil
}
