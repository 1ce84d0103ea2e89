// Package measurement holds the temperature frame produced by a thermal sensor.
package measurement

import (
	"fmt"
	"time"
)

// Sensor grid dimensions.
const (
	Width      = 32
	Height     = 24
	PixelCount = Width * Height
)

// Frame is one compensated temperature grid in degrees Celsius, row-major from the top-left pixel.
// Frames are values: copying one copies the whole grid, so a Frame handed to a consumer is never
// changed by the producer afterwards.
type Frame struct {
	Timestamp time.Time
	Temps     [PixelCount]float32

	// MinTemp and MaxTemp are the extremes of Temps.
	MinTemp float32
	MaxTemp float32

	// AmbientTemp is the sensor die temperature the frame was compensated against.
	AmbientTemp float32
}

// Index returns the offset in Temps of the pixel at column x, row y.
func Index(x, y int) int {
	return y*Width + x
}

// At returns the temperature at column x, row y. It returns false if the position is off the grid.
func (f *Frame) At(x, y int) (float32, bool) {
	if x < 0 || x >= Width || y < 0 || y >= Height {
		return 0, false
	}

	return f.Temps[Index(x, y)], true
}

// Spot returns the temperature at the center of the grid.
func (f *Frame) Spot() float32 {
	return f.Temps[Index(Width/2, Height/2)]
}

// UpdateRange recomputes MinTemp and MaxTemp from Temps.
func (f *Frame) UpdateRange() {
	f.MinTemp, f.MaxTemp = MinMax(f.Temps[:])
}

func (f Frame) String() string {
	return fmt.Sprintf("%.1f°C..%.1f°C (ambient %.1f°C, spot %.1f°C) %s",
		f.MinTemp, f.MaxTemp, f.AmbientTemp, f.Spot(), f.Timestamp.Format(time.RFC3339))
}
