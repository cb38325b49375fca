package availability

import (
	"fmt"
	"image/color"
	"math"
)

// stop is one keyframe of the energy bar colour ramp.
type stop struct {
	at float64
	c  color.NRGBA
}

var ramp = []stop{
	{0.0, color.NRGBA{R: 0x6c, G: 0x42, B: 0x42, A: 0xff}},
	{0.4, color.NRGBA{R: 0x9f, G: 0x83, B: 0x40, A: 0xff}},
	{0.8, color.NRGBA{R: 0x00, G: 0x80, B: 0x00, A: 0xff}},
	{0.9, color.NRGBA{R: 0x00, G: 0x80, B: 0x00, A: 0xff}},
	{1.0, color.NRGBA{R: 0x53, G: 0xdd, B: 0x53, A: 0xff}},
}

// Color maps a level in [0,1] onto the energy bar ramp, interpolating
// linearly between keyframes. Out-of-range levels are clamped.
func Color(level float64) color.NRGBA {
	if math.IsNaN(level) || level <= 0 {
		return ramp[0].c
	}
	if level >= 1 {
		return ramp[len(ramp)-1].c
	}
	for i := 1; i < len(ramp); i++ {
		if level > ramp[i].at {
			continue
		}
		lo, hi := ramp[i-1], ramp[i]
		f := (level - lo.at) / (hi.at - lo.at)
		return color.NRGBA{
			R: lerp(lo.c.R, hi.c.R, f),
			G: lerp(lo.c.G, hi.c.G, f),
			B: lerp(lo.c.B, hi.c.B, f),
			A: 0xff,
		}
	}
	return ramp[len(ramp)-1].c
}

// Hex formats Color(level) as a CSS "#rrggbb" string.
func Hex(level float64) string {
	c := Color(level)
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// BarWidth is the energy bar fill in percent of its container.
func BarWidth(level float64) float64 {
	return 4 + level*100
}

func lerp(a, b uint8, f float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
}
