package mlx90640

import (
	"errors"
	"fmt"
	"math"

	"github.com/mtraver/thermalcam/measurement"
)

// EEPROMWords is the number of 16-bit words in the device's calibration EEPROM.
const EEPROMWords = 832

// maxBadPixels is the most flagged pixels a device may have and still be usable.
const maxBadPixels = 4

var (
	ErrEEPROMSize        = errors.New("eeprom dump has the wrong length")
	ErrTooManyBadPixels  = errors.New("too many broken or outlier pixels")
	errCalibrationAbsent = errors.New("mlx90640: calibration not loaded, call Init first")
)

// CalibrationError reports an EEPROM image that cannot be decoded into a usable Calibration.
type CalibrationError struct {
	Err error
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("mlx90640: calibration: %v", e.Err)
}

func (e *CalibrationError) Unwrap() error {
	return e.Err
}

// Calibration holds the per-device constants decoded from EEPROM. It is read once at startup and
// must be treated as read-only afterwards; it is safe to share between goroutines.
type Calibration struct {
	// Supply voltage.
	KVdd  float32
	Vdd25 float32

	// Ambient temperature.
	KVPTAT    float32
	KTPTAT    float32
	VPTAT25   float32
	AlphaPTAT float32

	Gain float32
	KsTa float32
	TGC  float32

	// Resolution is the ADC resolution the calibration was taken at, as a 2-bit code.
	Resolution uint8

	// Object temperature ranges. CT holds the lower bound of each range in °C.
	KsTo      [4]float32
	CT        [4]float32
	AlphaCorr [4]float32

	// Compensation pixels, indexed by subpage.
	ACP   [2]float32
	OffCP [2]float32
	KVCP  float32
	KTaCP float32

	// Per-pixel coefficients in sensor order.
	PixOsRef [measurement.PixelCount]float32
	A        [measurement.PixelCount]float32
	KV       [measurement.PixelCount]float32
	KTa      [measurement.PixelCount]float32
	Pattern  [measurement.PixelCount]uint8

	// BadPixels lists the indices of broken and outlier pixels, at most maxBadPixels of them.
	BadPixels []int
}

// EEPROM word offsets from the start of the calibration block.
const (
	eeScaleOCC  = 0x10
	eeOffsetAvg = 0x11
	eeOCCRows   = 0x12
	eeOCCCols   = 0x18
	eeScaleACC  = 0x20
	eeAlphaRef  = 0x21
	eeACCRows   = 0x22
	eeACCCols   = 0x28
	eeGain      = 0x30
	eeVPTAT25   = 0x31
	eePTAT      = 0x32
	eeVdd       = 0x33
	eeKV        = 0x34
	eeKTaRCEven = 0x36
	eeKTaRCOdd  = 0x37
	eeScales    = 0x38
	eeACP       = 0x39
	eeOffCP     = 0x3A
	eeCPCoeffs  = 0x3B
	eeKsTaTGC   = 0x3C
	eeKsTo12    = 0x3D
	eeKsTo34    = 0x3E
	eeCT        = 0x3F
	eePixels    = 0x40
)

// signExtend interprets the low bits of v as a two's complement number.
func signExtend(v uint16, bits uint) int32 {
	x := int32(v)
	if x >= 1<<(bits-1) {
		x -= 1 << bits
	}
	return x
}

func hi8(w uint16) uint16 { return w >> 8 }
func lo8(w uint16) uint16 { return w & 0x00FF }

func pow2(n int) float32 {
	return float32(math.Ldexp(1, n))
}

// nibbles unpacks n signed 4-bit values packed four to a word, least significant first.
func nibbles(ee []uint16, start, n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		w := ee[start+i/4]
		out[i] = signExtend((w>>(4*uint(i%4)))&0x000F, 4)
	}
	return out
}

// phase returns the 2x2 interleave position of a pixel: 0 for even row and even column, 1 for
// even row and odd column, 2 for odd row and even column, 3 for odd row and odd column.
func phase(p int) int {
	row := p / measurement.Width
	col := p % measurement.Width
	return 2*(row%2) + col%2
}

// DecodeCalibration turns a raw EEPROM dump into a Calibration.
func DecodeCalibration(ee []uint16) (*Calibration, error) {
	if len(ee) != EEPROMWords {
		return nil, &CalibrationError{Err: fmt.Errorf("%w: got %d words, want %d", ErrEEPROMSize, len(ee), EEPROMWords)}
	}

	c := &Calibration{}
	c.decodeSupply(ee)
	c.decodePTAT(ee)
	c.decodeMisc(ee)
	c.decodeRanges(ee)
	c.decodeCP(ee)
	c.decodeOffsets(ee)
	c.decodeSensitivity(ee)
	c.decodeKV(ee)
	c.decodeKTa(ee)

	for i := range c.Pattern {
		c.Pattern[i] = uint8(((i / measurement.Width) ^ i) & 1)
	}

	for p := 0; p < measurement.PixelCount; p++ {
		w := ee[eePixels+p]
		if w == 0 || w&0x0001 != 0 {
			c.BadPixels = append(c.BadPixels, p)
		}
	}
	if len(c.BadPixels) > maxBadPixels {
		return nil, &CalibrationError{Err: fmt.Errorf("%w: %d flagged, at most %d allowed", ErrTooManyBadPixels, len(c.BadPixels), maxBadPixels)}
	}

	return c, nil
}

func (c *Calibration) decodeSupply(ee []uint16) {
	c.KVdd = float32(signExtend(hi8(ee[eeVdd]), 8) * 32)
	c.Vdd25 = float32((int32(lo8(ee[eeVdd]))-256)*32 - 8192)
}

func (c *Calibration) decodePTAT(ee []uint16) {
	c.KVPTAT = float32(signExtend((ee[eePTAT]&0xFC00)>>10, 6)) / 4096
	c.KTPTAT = float32(signExtend(ee[eePTAT]&0x03FF, 10)) / 8
	c.VPTAT25 = float32(int16(ee[eeVPTAT25]))
	c.AlphaPTAT = float32((ee[eeScaleOCC]&0xF000)>>12)/4 + 8
}

func (c *Calibration) decodeMisc(ee []uint16) {
	c.Gain = float32(int16(ee[eeGain]))
	c.KsTa = float32(signExtend(hi8(ee[eeKsTaTGC]), 8)) / 8192
	c.TGC = float32(signExtend(lo8(ee[eeKsTaTGC]), 8)) / 32
	c.Resolution = uint8((ee[eeScales] & 0x3000) >> 12)
}

func (c *Calibration) decodeRanges(ee []uint16) {
	scale := int((ee[eeCT] & 0x000F) + 8)
	step := int32((ee[eeCT]&0x3000)>>12) * 10
	ct3 := int32((ee[eeCT]&0x00F0)>>4) * step
	ct4 := int32((ee[eeCT]&0x0F00)>>8)*step + ct3

	c.CT = [4]float32{-40, 0, float32(ct3), float32(ct4)}

	raw := [4]uint16{lo8(ee[eeKsTo12]), hi8(ee[eeKsTo12]), lo8(ee[eeKsTo34]), hi8(ee[eeKsTo34])}
	for i, r := range raw {
		c.KsTo[i] = float32(signExtend(r, 8)) / pow2(scale)
	}

	c.AlphaCorr[0] = 1 / (1 + c.KsTo[0]*40)
	c.AlphaCorr[1] = 1
	c.AlphaCorr[2] = 1 + c.KsTo[1]*c.CT[2]
	c.AlphaCorr[3] = c.AlphaCorr[2] * (1 + c.KsTo[2]*(c.CT[3]-c.CT[2]))
}

func (c *Calibration) decodeCP(ee []uint16) {
	alphaScale := int((ee[eeScaleACC]&0xF000)>>12) + 27
	ratio := signExtend((ee[eeACP]&0xFC00)>>10, 6)
	c.ACP[0] = float32(signExtend(ee[eeACP]&0x03FF, 10)) / pow2(alphaScale)
	c.ACP[1] = c.ACP[0] * (1 + float32(ratio)/128)

	off := signExtend(ee[eeOffCP]&0x03FF, 10)
	c.OffCP[0] = float32(off)
	c.OffCP[1] = float32(off + signExtend((ee[eeOffCP]&0xFC00)>>10, 6))

	c.KVCP = float32(signExtend(hi8(ee[eeCPCoeffs]), 8)) / pow2(kvScale(ee))
	c.KTaCP = float32(signExtend(lo8(ee[eeCPCoeffs]), 8)) / pow2(ktaScale1(ee))
}

func kvScale(ee []uint16) int {
	return int((ee[eeScales] & 0x0F00) >> 8)
}

func ktaScale1(ee []uint16) int {
	return int((ee[eeScales]&0x00F0)>>4) + 8
}

func (c *Calibration) decodeOffsets(ee []uint16) {
	avg := int32(int16(ee[eeOffsetAvg]))
	rows := nibbles(ee, eeOCCRows, measurement.Height)
	cols := nibbles(ee, eeOCCCols, measurement.Width)
	rowScale := uint((ee[eeScaleOCC] & 0x0F00) >> 8)
	colScale := uint((ee[eeScaleOCC] & 0x00F0) >> 4)
	remScale := uint(ee[eeScaleOCC] & 0x000F)

	for p := range c.PixOsRef {
		rem := signExtend((ee[eePixels+p]&0xFC00)>>10, 6)
		row := rows[p/measurement.Width]
		col := cols[p%measurement.Width]
		c.PixOsRef[p] = float32(avg + row<<rowScale + col<<colScale + rem<<remScale)
	}
}

func (c *Calibration) decodeSensitivity(ee []uint16) {
	ref := int32(ee[eeAlphaRef])
	rows := nibbles(ee, eeACCRows, measurement.Height)
	cols := nibbles(ee, eeACCCols, measurement.Width)
	alphaScale := int((ee[eeScaleACC]&0xF000)>>12) + 30
	rowScale := uint((ee[eeScaleACC] & 0x0F00) >> 8)
	colScale := uint((ee[eeScaleACC] & 0x00F0) >> 4)
	remScale := uint(ee[eeScaleACC] & 0x000F)

	for p := range c.A {
		rem := signExtend((ee[eePixels+p]&0x03F0)>>4, 6)
		row := rows[p/measurement.Width]
		col := cols[p%measurement.Width]
		c.A[p] = float32(ref+row<<rowScale+col<<colScale+rem<<remScale) / pow2(alphaScale)
	}
}

func (c *Calibration) decodeKV(ee []uint16) {
	w := ee[eeKV]
	byPhase := [4]uint16{
		(w & 0xF000) >> 12,
		(w & 0x00F0) >> 4,
		(w & 0x0F00) >> 8,
		w & 0x000F,
	}

	scale := pow2(kvScale(ee))
	for p := range c.KV {
		c.KV[p] = float32(signExtend(byPhase[phase(p)], 4)) / scale
	}
}

func (c *Calibration) decodeKTa(ee []uint16) {
	byPhase := [4]uint16{
		hi8(ee[eeKTaRCEven]),
		hi8(ee[eeKTaRCOdd]),
		lo8(ee[eeKTaRCEven]),
		lo8(ee[eeKTaRCOdd]),
	}
	scale1 := pow2(ktaScale1(ee))
	scale2 := uint(ee[eeScales] & 0x000F)

	for p := range c.KTa {
		rc := signExtend(byPhase[phase(p)], 8)
		kta := signExtend((ee[eePixels+p]&0x000E)>>1, 3)
		c.KTa[p] = float32(rc+kta<<scale2) / scale1
	}
}
