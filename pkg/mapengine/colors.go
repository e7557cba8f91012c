package mapengine

import (
	"image/color"
	"math"

	"github.com/sentinelcore/sentinel-stream/pkg/intel"
)

var (
	ColorLow      = color.RGBA{0x10, 0xb9, 0x81, 0xff}
	ColorMedium   = color.RGBA{0xf5, 0x9e, 0x0b, 0xff}
	ColorHigh     = color.RGBA{0xf9, 0x73, 0x16, 0xff}
	ColorCritical = color.RGBA{0xef, 0x44, 0x44, 0xff}
)

func SeverityColor(s intel.Severity) color.RGBA {
	switch s {
	case intel.SeverityMedium:
		return ColorMedium
	case intel.SeverityHigh:
		return ColorHigh
	case intel.SeverityCritical:
		return ColorCritical
	}
	return ColorLow
}

// inferno stops sampled every 0.1 along the perceptual ramp.
var infernoStops = [...]color.RGBA{
	{0x00, 0x00, 0x04, 0xff},
	{0x16, 0x0b, 0x39, 0xff},
	{0x42, 0x0a, 0x68, 0xff},
	{0x6a, 0x17, 0x6e, 0xff},
	{0x93, 0x26, 0x67, 0xff},
	{0xbc, 0x37, 0x54, 0xff},
	{0xdd, 0x51, 0x3a, 0xff},
	{0xf3, 0x78, 0x19, 0xff},
	{0xfc, 0xa5, 0x0a, 0xff},
	{0xf6, 0xd7, 0x46, 0xff},
	{0xfc, 0xff, 0xa4, 0xff},
}

// Inferno maps t in [0, 1] onto the inferno ramp. Out-of-range input is clamped.
func Inferno(t float64) color.RGBA {
	if math.IsNaN(t) {
		t = 0
	}
	t = clamp(t, 0, 1)
	pos := t * float64(len(infernoStops)-1)
	i := int(pos)
	if i >= len(infernoStops)-1 {
		return infernoStops[len(infernoStops)-1]
	}
	f := pos - float64(i)
	a, b := infernoStops[i], infernoStops[i+1]
	lerp := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*f))
	}
	return color.RGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), 0xff}
}
