// Package render maps temperature frames to RGB pixel buffers.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strings"

	"github.com/mtraver/thermalcam/measurement"
)

// Scheme selects the color mapping.
type Scheme int

const (
	Gray Scheme = iota
	Cheap
	Hue
)

var schemeNames = map[Scheme]string{
	Gray:  "gray",
	Cheap: "cheap",
	Hue:   "hue",
}

func (s Scheme) String() string {
	if n, ok := schemeNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Scheme(%d)", int(s))
}

// ParseScheme parses a scheme name, ignoring case.
func ParseScheme(s string) (Scheme, error) {
	for scheme, name := range schemeNames {
		if strings.EqualFold(s, name) {
			return scheme, nil
		}
	}
	return 0, fmt.Errorf("render: unknown color scheme %q", s)
}

// Bounds is the temperature span mapped onto the full color range.
type Bounds struct {
	Min float32
	Max float32
}

// FrameBounds spans the frame's own minimum and maximum.
func FrameBounds(f *measurement.Frame) Bounds {
	return Bounds{Min: f.MinTemp, Max: f.MaxTemp}
}

// RGB is a row-major buffer of 8-bit red, green and blue triples.
type RGB []byte

// Render maps every pixel of f through s. It does not modify f.
func Render(f *measurement.Frame, s Scheme, b Bounds) RGB {
	out := make(RGB, 3*measurement.PixelCount)
	for i, temp := range f.Temps {
		r, g, bl := s.color(temp, b)
		out[3*i], out[3*i+1], out[3*i+2] = r, g, bl
	}
	return out
}

// Gradient renders a legend of the given size, hottest at the top.
func Gradient(s Scheme, width, height int) RGB {
	out := make(RGB, 3*width*height)
	b := Bounds{Min: 0, Max: 1}

	for y := 0; y < height; y++ {
		var t float32
		if height > 1 {
			t = 1 - float32(y)/float32(height-1)
		}
		r, g, bl := s.color(t, b)
		for x := 0; x < width; x++ {
			i := 3 * (y*width + x)
			out[i], out[i+1], out[i+2] = r, g, bl
		}
	}
	return out
}

func (s Scheme) color(temp float32, b Bounds) (r, g, bl uint8) {
	switch s {
	case Gray:
		// Scaled against the upper bound rather than the span.
		v := clampByte(float64((temp - b.Min) * (255 / b.Max)))
		return v, v, v
	case Cheap:
		return cheap(Normalize(temp, b))
	case Hue:
		return hue(Normalize(temp, b))
	}
	return 0, 0, 0
}

// Normalize maps temp into [0, 1] across b. NaN, including 0/0 from an empty span, maps to 0.
func Normalize(temp float32, b Bounds) float32 {
	t := (temp - b.Min) / (b.Max - b.Min)
	if t != t || t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// toByte scales a unit value to a byte, clamping and rounding. NaN maps to 0.
func toByte(v float32) uint8 {
	return clampByte(float64(v * 255))
}

func clampByte(v float64) uint8 {
	x := math.Round(v)
	switch {
	case x != x || x < 0:
		return 0
	case x > 255:
		return 255
	}
	return uint8(x)
}

func cheap(t float32) (r, g, b uint8) {
	rf := max32(0, -2*(1-t)+1)
	bf := max32(0, -2*t+1)
	gf := 1 - rf - bf
	return toByte(rf), toByte(gf), toByte(bf)
}

// hue walks the HSV hue circle from 275° (cold) down to 0° (hot) at full saturation and value.
func hue(t float32) (r, g, b uint8) {
	h := float64(1-t) * 275 / 60
	x := float32(1 - math.Abs(math.Mod(h, 2)-1))

	var rf, gf, bf float32
	switch int(h) {
	case 0:
		rf, gf, bf = 1, x, 0
	case 1:
		rf, gf, bf = x, 1, 0
	case 2:
		rf, gf, bf = 0, 1, x
	case 3:
		rf, gf, bf = 0, x, 1
	case 4:
		rf, gf, bf = x, 0, 1
	default:
		rf, gf, bf = 1, 0, x
	}
	return toByte(rf), toByte(gf), toByte(bf)
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// Rotate180 returns a copy of buf with the pixel order reversed, turning the image upside down.
func Rotate180(buf RGB) RGB {
	n := len(buf) / 3
	out := make(RGB, len(buf))
	for i := 0; i < n; i++ {
		copy(out[3*(n-1-i):3*(n-i)], buf[3*i:3*i+3])
	}
	return out
}

// Image wraps buf as an image of the given size.
func Image(buf RGB, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := 3 * (y*width + x)
			img.SetRGBA(x, y, color.RGBA{R: buf[i], G: buf[i+1], B: buf[i+2], A: 0xFF})
		}
	}
	return img
}

// WritePNG encodes a frame-sized buffer as a PNG.
func WritePNG(w io.Writer, buf RGB) error {
	return EncodePNG(w, buf, measurement.Width, measurement.Height)
}

// EncodePNG encodes a buffer of the given size, such as a Gradient, as a PNG.
func EncodePNG(w io.Writer, buf RGB, width, height int) error {
	if width <= 0 || height <= 0 || len(buf) != 3*width*height {
		return fmt.Errorf("render: buffer is %d bytes, want %d for %dx%d", len(buf), 3*width*height, width, height)
	}
	return png.Encode(w, Image(buf, width, height))
}
