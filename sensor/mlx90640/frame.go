package mlx90640

import (
	"errors"
	"fmt"
	"time"

	"github.com/mtraver/thermalcam/measurement"
)

// Register map.
const (
	regStatus  = 0x8000
	regControl = 0x800D
	ramPixels  = 0x0400
	eepromBase = 0x2400

	regVbe   = 0x0700
	regCPSP0 = 0x0708
	regGain  = 0x070A
	regPTAT  = 0x0720
	regCPSP1 = 0x0728
	regVdd   = 0x072A
)

// Status and control register fields.
const (
	statusSubpage = 0x0001
	statusNewData = 0x0008

	controlResolutionMask  = 0x0C00
	controlResolutionShift = 10
	controlFramerateMask   = 0x0380
	controlFramerateShift  = 7
)

// ErrDataNotReady is returned when a subpage does not become ready within Options.PollTimeout.
var ErrDataNotReady = errors.New("mlx90640: timed out waiting for new data")

// RawFrame holds uncompensated pixel readings in sensor order.
type RawFrame [measurement.PixelCount]int16

// Registers is 16-bit register access to one device. *bus.Transport implements it.
type Registers interface {
	ReadRegister(reg uint16) (uint16, error)
	WriteRegister(reg, value uint16) error
	ReadBlock(reg uint16, out []byte) error
}

// ReadRaw reads one full frame, both subpages, from pixel RAM. Each pixel is read individually
// as the corresponding subpage becomes ready; on any failure the partial frame is discarded.
func (d *Dev) ReadRaw() (RawFrame, error) {
	status, err := d.regs.ReadRegister(regStatus)
	if err != nil {
		return RawFrame{}, err
	}

	var raw RawFrame
	offset := int(status & statusSubpage)
	for sub := 0; sub < 2; sub++ {
		if err := d.waitForData(); err != nil {
			return RawFrame{}, err
		}

		for row := 0; row < measurement.Height; row++ {
			for i := 0; i < measurement.Width/2; i++ {
				addr := row*measurement.Width + i*2 + (row+offset)%2
				v, err := d.regs.ReadRegister(ramPixels + uint16(addr))
				if err != nil {
					return RawFrame{}, err
				}
				raw[addr] = int16(v)
			}
		}
		offset++
	}

	return raw, nil
}

// waitForData polls the status register until the new-data flag is set, then clears it.
func (d *Dev) waitForData() error {
	var deadline time.Time
	if d.opts.PollTimeout > 0 {
		deadline = time.Now().Add(d.opts.PollTimeout)
	}

	for {
		status, err := d.regs.ReadRegister(regStatus)
		if err != nil {
			return err
		}
		if status&statusNewData != 0 {
			break
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("%w after %v", ErrDataNotReady, d.opts.PollTimeout)
		}
		if d.opts.PollInterval > 0 {
			time.Sleep(d.opts.PollInterval)
		}
	}

	status, err := d.regs.ReadRegister(regStatus)
	if err != nil {
		return err
	}
	return d.regs.WriteRegister(regStatus, status&^statusNewData)
}

// Aux holds the live auxiliary registers sampled alongside a frame.
type Aux struct {
	Control uint16
	Vdd     uint16
	PTAT    uint16
	Vbe     uint16
	Gain    uint16
	CPSP0   uint16
	CPSP1   uint16
}

func (d *Dev) readAux() (Aux, error) {
	var a Aux
	regs := []struct {
		reg uint16
		dst *uint16
	}{
		{regControl, &a.Control},
		{regVdd, &a.Vdd},
		{regPTAT, &a.PTAT},
		{regVbe, &a.Vbe},
		{regGain, &a.Gain},
		{regCPSP0, &a.CPSP0},
		{regCPSP1, &a.CPSP1},
	}

	for _, r := range regs {
		v, err := d.regs.ReadRegister(r.reg)
		if err != nil {
			return Aux{}, err
		}
		*r.dst = v
	}

	return a, nil
}
