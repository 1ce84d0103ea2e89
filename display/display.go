// Package display shows frames on a small monochrome SSD1306 OLED.
package display

import (
	"image"

	"github.com/mtraver/thermalcam/measurement"
	"github.com/mtraver/thermalcam/render"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

const (
	legendGap   = 4
	legendWidth = 6
)

// bayer is the 4x4 ordered dither matrix.
var bayer = [4][4]float32{
	{0, 8, 2, 10},
	{12, 4, 14, 6},
	{3, 11, 1, 9},
	{15, 7, 13, 5},
}

type OLED struct {
	dev *ssd1306.Dev
}

// New opens the display on b. Pass a *bus.Shared when the sensor shares the bus.
func New(b i2c.Bus, opts *ssd1306.Opts) (*OLED, error) {
	if opts == nil {
		opts = &ssd1306.DefaultOpts
	}

	dev, err := ssd1306.NewI2C(b, opts)
	if err != nil {
		return nil, err
	}

	return &OLED{dev: dev}, nil
}

// Show draws f dithered to one bit, with a legend to its right.
func (o *OLED) Show(f *measurement.Frame, b render.Bounds) error {
	r := o.dev.Bounds()
	return o.dev.Draw(r, Dither(f, b, r), image.Point{})
}

func (o *OLED) Halt() error {
	return o.dev.Halt()
}

func on(t float32, x, y int) image1bit.Bit {
	return image1bit.Bit(t*16 > bayer[y%4][x%4]+0.5)
}

// Dither renders f into a 1-bit image of size r. The frame is scaled up by the largest whole
// factor that fits, centered vertically, with the legend (hot at the top) beside it.
func Dither(f *measurement.Frame, b render.Bounds, r image.Rectangle) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(r)

	scale := r.Dx() / measurement.Width
	if s := r.Dy() / measurement.Height; s < scale {
		scale = s
	}
	if scale < 1 {
		return img
	}

	w, h := measurement.Width*scale, measurement.Height*scale
	top := r.Min.Y + (r.Dy()-h)/2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			temp, _ := f.At(x/scale, y/scale)
			px, py := r.Min.X+x, top+y
			img.SetBit(px, py, on(render.Normalize(temp, b), px, py))
		}
	}

	left := r.Min.X + w + legendGap
	for y := 0; y < h; y++ {
		t := 1 - float32(y)/float32(h-1)
		for x := left; x < left+legendWidth && x < r.Max.X; x++ {
			img.SetBit(x, top+y, on(t, x, top+y))
		}
	}

	return img
}
