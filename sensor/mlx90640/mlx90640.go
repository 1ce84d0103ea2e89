// Package mlx90640 drives the Melexis MLX90640 32x24 thermal imaging array.
//
// The device is calibrated at the factory: every pixel reading is meaningless until it is
// combined with constants decoded from the on-chip EEPROM and a handful of live auxiliary
// registers. Init decodes the EEPROM once; each call to Sense then reads both subpages of a
// frame and runs the full compensation pipeline.
package mlx90640

import (
	"fmt"
	"time"

	"github.com/mtraver/thermalcam/bus"
	"github.com/mtraver/thermalcam/measurement"
	"github.com/mtraver/thermalcam/sensor"
)

// DefaultAddr is the factory 7-bit I²C address.
const DefaultAddr = 0x33

type Options struct {
	// PollTimeout bounds the wait for each subpage to become ready. Zero waits forever.
	PollTimeout time.Duration

	// PollInterval is slept between status reads while waiting. Zero polls back to back.
	PollInterval time.Duration
}

// DefaultOpts suits every framerate down to 0.5 Hz.
var DefaultOpts = Options{
	PollTimeout:  5 * time.Second,
	PollInterval: time.Millisecond,
}

type Dev struct {
	regs Registers
	opts Options
	cal  *Calibration
}

var _ sensor.Sensor = &Dev{}

// New returns a Dev that talks through regs. A nil opts means DefaultOpts.
func New(regs Registers, opts *Options) *Dev {
	if opts == nil {
		opts = &DefaultOpts
	}

	return &Dev{
		regs: regs,
		opts: *opts,
	}
}

// NewI2C returns a Dev for the device at addr on b.
func NewI2C(b *bus.Shared, addr uint16, opts *Options) *Dev {
	return New(bus.NewTransport(b, addr), opts)
}

// ReadCalibration dumps the EEPROM in one block read and decodes it. Any failure, including
// the read itself, is a *CalibrationError.
func (d *Dev) ReadCalibration() (*Calibration, error) {
	buf := make([]byte, 2*EEPROMWords)
	if err := d.regs.ReadBlock(eepromBase, buf); err != nil {
		return nil, &CalibrationError{Err: fmt.Errorf("read eeprom: %w", err)}
	}

	return DecodeCalibration(bus.Words(buf))
}

// Evaluate samples the auxiliary registers and compensates raw against them.
func (d *Dev) Evaluate(raw *RawFrame, cal *Calibration) (measurement.Frame, error) {
	aux, err := d.readAux()
	if err != nil {
		return measurement.Frame{}, err
	}

	return Compensate(raw, cal, aux), nil
}

// Acquire reads and compensates one frame against cal.
func (d *Dev) Acquire(cal *Calibration) (measurement.Frame, error) {
	raw, err := d.ReadRaw()
	if err != nil {
		return measurement.Frame{}, err
	}

	f, err := d.Evaluate(&raw, cal)
	if err != nil {
		return measurement.Frame{}, err
	}

	f.Timestamp = time.Now().UTC()
	return f, nil
}

// Framerate reads the current refresh rate from the control register.
func (d *Dev) Framerate() (sensor.Framerate, error) {
	ctrl, err := d.regs.ReadRegister(regControl)
	if err != nil {
		return 0, err
	}

	return sensor.Framerate((ctrl & controlFramerateMask) >> controlFramerateShift), nil
}

// SetFramerate rewrites the framerate bits of the control register, leaving the rest untouched.
func (d *Dev) SetFramerate(r sensor.Framerate) error {
	if r > sensor.MaxFramerate {
		return fmt.Errorf("mlx90640: framerate code %d out of range", r)
	}

	ctrl, err := d.regs.ReadRegister(regControl)
	if err != nil {
		return err
	}

	ctrl = ctrl&^controlFramerateMask | uint16(r)<<controlFramerateShift
	return d.regs.WriteRegister(regControl, ctrl)
}

func (d *Dev) Init() error {
	cal, err := d.ReadCalibration()
	if err != nil {
		return err
	}

	d.cal = cal
	return nil
}

func (d *Dev) Sense() (measurement.Frame, error) {
	if d.cal == nil {
		return measurement.Frame{}, errCalibrationAbsent
	}

	return d.Acquire(d.cal)
}

// Calibration returns the store loaded by Init, or nil.
func (d *Dev) Calibration() *Calibration {
	return d.cal
}

func (d *Dev) Shutdown() error {
	return nil
}
