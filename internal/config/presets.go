package config

// Preset names a dataset variant: which spectral channels the loader
// decodes and in what order the compute backend receives them.
type Preset struct {
	Name     string
	Channels int
	Bands    []string
}

var presets = map[string]Preset{
	"mul_urban": {
		Name:     "mul_urban",
		Channels: 3,
		Bands:    []string{"coastal", "red", "nir"},
	},
	"mul_vegetation": {
		Name:     "mul_vegetation",
		Channels: 3,
		Bands:    []string{"green", "red-edge", "nir"},
	},
	"rgb_urban": {
		Name:     "rgb_urban",
		Channels: 3,
		Bands:    []string{"red", "green", "blue"},
	},
	"rgb_vegetation": {
		Name:     "rgb_vegetation",
		Channels: 3,
		Bands:    []string{"red", "green", "blue"},
	},
}

// ValidPreset reports whether name belongs to the closed preset set.
func ValidPreset(name string) bool {
	_, ok := presets[name]
	return ok
}

// PresetByName returns the preset definition. The zero Preset and false
// come back for unknown names; Validate rejects those before use.
func PresetByName(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}
