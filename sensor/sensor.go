package sensor

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/mtraver/thermalcam/measurement"
)

var (
	sensorsMu sync.Mutex
	sensors   map[string]Sensor
)

type Sensor interface {
	// Init performs any sensor-specific initialization, such as reading calibration data.
	// Sense must not be called until Init has succeeded.
	Init() error
	// Sense acquires one frame and returns it compensated to degrees Celsius.
	Sense() (measurement.Frame, error)
	// SetFramerate changes the sensor's refresh rate.
	SetFramerate(r Framerate) error
	// Shutdown performs any sensor-specific shutdown or cleanup operations.
	Shutdown() error
}

// Framerate is a refresh rate code. Code 0 is 0.5 Hz and each step up doubles the rate.
type Framerate uint8

const (
	Rate0_5Hz Framerate = iota
	Rate1Hz
	Rate2Hz
	Rate4Hz
	Rate8Hz
	Rate16Hz
	Rate32Hz
	Rate64Hz
)

// MaxFramerate is the largest valid Framerate code.
const MaxFramerate = Rate64Hz

// Hz returns the refresh rate in frames per second.
func (r Framerate) Hz() float64 {
	return float64(uint(1)<<r) / 2
}

func (r Framerate) String() string {
	return strconv.FormatFloat(r.Hz(), 'f', -1, 64) + " Hz"
}

// ParseFramerate parses a framerate code in [0, 7].
func ParseFramerate(s string) (Framerate, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil || n > uint64(MaxFramerate) {
		return 0, fmt.Errorf("sensor: invalid framerate code %q, must be 0-%d", s, MaxFramerate)
	}

	return Framerate(n), nil
}

// Register adds a Sensor to the set of available sensors.
func Register(name string, s Sensor) {
	sensorsMu.Lock()
	defer sensorsMu.Unlock()

	if sensors == nil {
		sensors = make(map[string]Sensor)
	}
	sensors[name] = s
}

// Get looks up a sensor by name. It returns an error if no sensor with
// the given name is found.
func Get(name string) (Sensor, error) {
	sensorsMu.Lock()
	defer sensorsMu.Unlock()

	if _, ok := sensors[name]; !ok {
		return nil, fmt.Errorf("unknown sensor %q", name)
	}
	return sensors[name], nil
}
