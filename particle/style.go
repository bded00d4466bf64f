package particle

// Style tags a particle with the look of the strategy that owns it
type Style uint8

const (
	StyleSequential Style = iota
	StyleParallel
	StyleDistributed
)

type styleInfo struct {
	name string
	hex  string
	size int
}

var styles = [...]styleInfo{
	StyleSequential:  {"sequential", "#ff69b4", 6},  // hot pink
	StyleParallel:    {"parallel", "#8a2be2", 10},   // blue violet
	StyleDistributed: {"distributed", "#ff0000", 5}, // red
}

// String returns the strategy name for the style
func (s Style) String() string {
	if int(s) < len(styles) {
		return styles[s].name
	}
	return "unknown"
}

// Hex returns the base color as #rrggbb
func (s Style) Hex() string {
	if int(s) < len(styles) {
		return styles[s].hex
	}
	return "#ffffff"
}

// Size returns the nominal diameter in world units
func (s Style) Size() int {
	if int(s) < len(styles) {
		return styles[s].size
	}
	return 1
}

// ParseStyle maps a strategy name back to its style
func ParseStyle(name string) (Style, bool) {
	for i, info := range styles {
		if info.name == name {
			return Style(i), true
		}
	}
	return StyleSequential, false
}
