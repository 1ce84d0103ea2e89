package mlx90640

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mtraver/thermalcam/measurement"
	"github.com/mtraver/thermalcam/sensor"
)

var errInjected = errors.New("injected bus failure")

// fakeDevice simulates the register file. Pixel RAM reads return the pixel address plus 1000
// times the subpage that was last measured. Clearing the new-data flag starts a measurement of
// the other subpage, which becomes ready after readyAfter further status reads.
type fakeDevice struct {
	regs       map[uint16]uint16
	eeprom     []uint16
	sub        uint16
	ready      bool
	readyAfter int
	countdown  int

	ramReads int
	// failRAMAt fails the nth pixel RAM read, counting from 1. Zero never fails.
	failRAMAt int
	// failReg fails every read of this register. Zero never fails.
	failReg uint16
	writes  []uint16
}

func newFakeDevice(startSub uint16) *fakeDevice {
	return &fakeDevice{
		regs: map[uint16]uint16{
			regControl: 0x1901,
		},
		sub:   startSub,
		ready: true,
	}
}

func (f *fakeDevice) ReadRegister(reg uint16) (uint16, error) {
	if f.failReg != 0 && reg == f.failReg {
		return 0, errInjected
	}

	switch {
	case reg == regStatus:
		if !f.ready {
			f.countdown--
			if f.countdown <= 0 {
				f.ready = true
				f.sub ^= 1
			}
		}
		status := f.sub
		if f.ready {
			status |= statusNewData
		}
		return status, nil
	case reg >= ramPixels && reg < ramPixels+measurement.PixelCount:
		f.ramReads++
		if f.failRAMAt != 0 && f.ramReads >= f.failRAMAt {
			return 0, errInjected
		}
		return reg - ramPixels + 1000*f.sub, nil
	}

	return f.regs[reg], nil
}

func (f *fakeDevice) WriteRegister(reg, value uint16) error {
	if reg == regStatus {
		if value&statusNewData == 0 {
			f.ready = false
			f.countdown = f.readyAfter
		}
		return nil
	}

	f.writes = append(f.writes, value)
	f.regs[reg] = value
	return nil
}

func (f *fakeDevice) ReadBlock(reg uint16, out []byte) error {
	if reg != eepromBase || len(out) != 2*len(f.eeprom) {
		return errInjected
	}
	for i, w := range f.eeprom {
		out[2*i] = byte(w >> 8)
		out[2*i+1] = byte(w)
	}
	return nil
}

func TestReadRawInterleave(t *testing.T) {
	for _, start := range []uint16{0, 1} {
		dev := newFakeDevice(start)
		dev.readyAfter = 3
		d := New(dev, &Options{})

		got, err := d.ReadRaw()
		if err != nil {
			t.Fatalf("start %d: unexpected error: %v", start, err)
		}

		var want RawFrame
		for p := range want {
			row, col := p/measurement.Width, p%measurement.Width
			sub := int(start)
			if (row+col+int(start))%2 != 0 {
				sub = 1 - sub
			}
			want[p] = int16(p + 1000*sub)
		}

		if diff := cmp.Diff(got, want); diff != "" {
			t.Errorf("start %d: unexpected result (-got +want):\n%s", start, diff)
		}
		if dev.ramReads != measurement.PixelCount {
			t.Errorf("start %d: read %d pixels, want %d", start, dev.ramReads, measurement.PixelCount)
		}
	}
}

func TestReadRawSecondSubpageFailure(t *testing.T) {
	dev := newFakeDevice(0)
	dev.failRAMAt = measurement.PixelCount/2 + 10
	d := New(dev, &Options{})

	got, err := d.ReadRaw()
	if err != errInjected {
		t.Fatalf("Got error %v, want %v", err, errInjected)
	}
	if got != (RawFrame{}) {
		t.Errorf("Got a partial frame, want the zero frame")
	}

	// The same error must reach the caller of Acquire unchanged.
	dev = newFakeDevice(0)
	dev.failRAMAt = measurement.PixelCount/2 + 10
	if _, err := New(dev, &Options{}).Acquire(&Calibration{}); err != errInjected {
		t.Errorf("Acquire error = %v, want %v", err, errInjected)
	}
}

func TestReadRawPollTimeout(t *testing.T) {
	dev := newFakeDevice(0)
	dev.readyAfter = 1 << 30
	d := New(dev, &Options{PollTimeout: 20 * time.Millisecond, PollInterval: time.Millisecond})

	_, err := d.ReadRaw()
	if !errors.Is(err, ErrDataNotReady) {
		t.Fatalf("Got error %v, want %v", err, ErrDataNotReady)
	}
	if dev.ramReads != measurement.PixelCount/2 {
		t.Errorf("Read %d pixels before timing out, want %d", dev.ramReads, measurement.PixelCount/2)
	}
}

func TestEvaluateAuxFailure(t *testing.T) {
	dev := newFakeDevice(0)
	dev.failReg = regGain
	d := New(dev, &Options{})

	raw, err := d.ReadRaw()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if _, err := d.Evaluate(&raw, &Calibration{}); err != errInjected {
		t.Errorf("Got error %v, want %v", err, errInjected)
	}
}

func TestFramerate(t *testing.T) {
	dev := newFakeDevice(0)
	d := New(dev, nil)

	got, err := d.Framerate()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != sensor.Rate2Hz {
		t.Errorf("Framerate() = %v, want %v", got, sensor.Rate2Hz)
	}

	if err := d.SetFramerate(sensor.Rate32Hz); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff(dev.writes, []uint16{0x1B01}); diff != "" {
		t.Errorf("Unexpected control writes (-got +want):\n%s", diff)
	}

	if err := d.SetFramerate(sensor.MaxFramerate + 1); err == nil {
		t.Errorf("Expected error for out of range framerate")
	}
}

func TestInitAndSense(t *testing.T) {
	dev := newFakeDevice(0)
	dev.eeprom = testEEPROM()
	d := New(dev, &Options{})

	if _, err := d.Sense(); err == nil {
		t.Fatalf("Expected error from Sense before Init")
	}

	if err := d.Init(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff(d.Calibration().BadPixels, []int{100, 200}); diff != "" {
		t.Errorf("Unexpected bad pixels (-got +want):\n%s", diff)
	}

	f, err := d.Sense()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if f.Timestamp.IsZero() {
		t.Errorf("Frame has no timestamp")
	}
}

func TestInitBadEEPROM(t *testing.T) {
	dev := newFakeDevice(0)
	dev.eeprom = make([]uint16, EEPROMWords)
	d := New(dev, &Options{})

	var calErr *CalibrationError
	if err := d.Init(); !errors.As(err, &calErr) {
		t.Fatalf("Got error %v, want *CalibrationError", err)
	}
	if d.Calibration() != nil {
		t.Errorf("Calibration stored despite decode failure")
	}
}

func TestInitEEPROMReadFailure(t *testing.T) {
	dev := newFakeDevice(0)
	dev.eeprom = nil
	d := New(dev, &Options{})

	err := d.Init()
	var calErr *CalibrationError
	if !errors.As(err, &calErr) {
		t.Fatalf("Got error %v, want *CalibrationError", err)
	}
	if !errors.Is(err, errInjected) {
		t.Errorf("Got error %v, want one wrapping %v", err, errInjected)
	}
	if d.Calibration() != nil {
		t.Errorf("Calibration stored despite read failure")
	}
}
