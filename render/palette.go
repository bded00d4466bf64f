package render

import (
	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/lixenwraith/particle-engine/particle"
)

// Screen colors
var (
	RgbBackground = tcell.NewRGBColor(26, 27, 38)    // Tokyo Night background
	RgbStatusBg   = tcell.NewRGBColor(135, 206, 250) // Light sky blue
	RgbStatusText = tcell.NewRGBColor(0, 0, 0)
	RgbDegradedBg = tcell.NewRGBColor(200, 50, 50)
	RgbPausedBg   = tcell.NewRGBColor(255, 165, 0)
)

var background = colorful.Color{R: 26.0 / 255, G: 27.0 / 255, B: 38.0 / 255}

// StyleColor returns the base color of a particle style
func StyleColor(s particle.Style) colorful.Color {
	c, err := colorful.Hex(s.Hex())
	if err != nil {
		return colorful.Color{R: 1, G: 1, B: 1}
	}
	return c
}

// ParticleColor fades a style's color into the background by alpha
// alpha 1 is the full style color, alpha 0 is the background
func ParticleColor(s particle.Style, alpha float64) tcell.Color {
	return blend(StyleColor(s), alpha)
}

func blend(c colorful.Color, alpha float64) tcell.Color {
	switch {
	case alpha < 0:
		alpha = 0
	case alpha > 1:
		alpha = 1
	}
	r, g, b := background.BlendRgb(c, alpha).Clamped().RGB255()
	return tcell.NewRGBColor(int32(r), int32(g), int32(b))
}

// Glyph picks a cell rune by the style's nominal size
func Glyph(s particle.Style) rune {
	switch size := s.Size(); {
	case size >= 8:
		return '●'
	case size >= 6:
		return '•'
	default:
		return '·'
	}
}
