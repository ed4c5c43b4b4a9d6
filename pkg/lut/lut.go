// Package lut provides lookup tables for false-color channel rendering.
package lut

import (
	"fmt"
	"image"
	"image/color"
	"strings"
)

// Ramp is a linear lookup table from black to a single target color.
type Ramp struct {
	R, G, B uint8
}

// At returns the color at position t (0-1).
func (r Ramp) At(t float64) color.Color {
	if t <= 0 {
		return color.RGBA{0, 0, 0, 255}
	}
	if t >= 1 {
		return color.RGBA{r.R, r.G, r.B, 255}
	}
	return color.RGBA{
		R: uint8(t * float64(r.R)),
		G: uint8(t * float64(r.G)),
		B: uint8(t * float64(r.B)),
		A: 255,
	}
}

// Apply renders a grayscale plane through the ramp, windowing raw sample
// values between min and max.
func (r Ramp) Apply(plane image.Image, min, max float64) image.Image {
	b := plane.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g := color.GrayModel.Convert(plane.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			v := Scale8(float64(g.Y), min, max)
			out.Set(x, y, r.At(float64(v)/255))
		}
	}
	return out
}

// Scale8 windows a raw sample into the 0-255 range using the ramp's
// min/max display window. Values outside the window clip.
func Scale8(v, min, max float64) uint8 {
	if max <= min {
		max = min + 1
	}
	t := (v - min) / (max - min)
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 255
	}
	return uint8(t * 255)
}

// Primary ramps used for client-side compositing of up to three channels.
var (
	Red   = Ramp{255, 0, 0}
	Green = Ramp{0, 255, 0}
	Blue  = Ramp{0, 0, 255}
	White = Ramp{255, 255, 255}
)

// Primaries returns the fixed channel-order ramps for n-channel compositing.
func Primaries() [3]Ramp {
	return [3]Ramp{Red, Green, Blue}
}

// ParseHex parses a server-advertised channel color like "FF0000" or
// "#ff0000" into a ramp.
func ParseHex(s string) (Ramp, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return Ramp{}, fmt.Errorf("invalid hex color %q", s)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &r, &g, &b); err != nil {
		return Ramp{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return Ramp{r, g, b}, nil
}
