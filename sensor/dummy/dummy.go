// Package dummy provides a synthetic sensor for running without hardware.
package dummy

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/mtraver/thermalcam/measurement"
	"github.com/mtraver/thermalcam/sensor"
)

const (
	background = 22
	blobPeak   = 14
	blobRadius = 4
)

// Dummy produces frames with a warm blob circling a room-temperature background, paced at the
// configured framerate.
type Dummy struct {
	mu        sync.Mutex
	framerate sensor.Framerate
	n         int
}

var _ sensor.Sensor = &Dummy{}

func (d *Dummy) Init() error {
	log.Printf("DUMMY SENSOR INIT")
	return nil
}

func (d *Dummy) Sense() (measurement.Frame, error) {
	d.mu.Lock()
	n := d.n
	d.n++
	period := time.Duration(float64(time.Second) / d.framerate.Hz())
	d.mu.Unlock()

	time.Sleep(period)

	f := Frame(n)
	f.Timestamp = time.Now().UTC()
	return f, nil
}

func (d *Dummy) SetFramerate(r sensor.Framerate) error {
	log.Printf("DUMMY SENSOR FRAMERATE %v", r)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.framerate = r
	return nil
}

// Framerate returns the rate set by SetFramerate.
func (d *Dummy) Framerate() (sensor.Framerate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.framerate, nil
}

func (d *Dummy) Shutdown() error {
	log.Printf("DUMMY SENSOR SHUTDOWN")
	return nil
}

// Frame returns the nth synthetic frame.
func Frame(n int) measurement.Frame {
	angle := float64(n) * math.Pi / 32
	cx := measurement.Width/2 + 8*math.Cos(angle)
	cy := measurement.Height/2 + 5*math.Sin(angle)

	var f measurement.Frame
	for y := 0; y < measurement.Height; y++ {
		for x := 0; x < measurement.Width; x++ {
			d2 := (float64(x)-cx)*(float64(x)-cx) + (float64(y)-cy)*(float64(y)-cy)
			f.Temps[measurement.Index(x, y)] = float32(background + blobPeak*math.Exp(-d2/(2*blobRadius*blobRadius)))
		}
	}
	f.UpdateRange()
	f.AmbientTemp = background
	return f
}
