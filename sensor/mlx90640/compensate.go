package mlx90640

import (
	"math"

	"github.com/mtraver/thermalcam/measurement"
)

const (
	kelvin     = 273.15
	emissivity = 1
	// The reflected temperature is taken as a fixed offset below ambient.
	reflectedOffset = 8
)

func root4(x float32) float32 {
	return float32(math.Sqrt(float64(float32(math.Sqrt(float64(x))))))
}

func pow4(x float32) float32 {
	return x * x * x * x
}

// Compensate turns a raw frame into temperatures in °C. It is a pure function of its inputs and
// evaluates entirely in float32. The returned frame has its timestamp unset.
func Compensate(raw *RawFrame, cal *Calibration, aux Aux) measurement.Frame {
	resCorr := pow2(int(cal.Resolution)) / pow2(int((aux.Control&controlResolutionMask)>>controlResolutionShift))

	vdd := (resCorr*float32(int16(aux.Vdd))-cal.Vdd25)/cal.KVdd + 3.3
	dV := vdd - 3.3
	ta := ambient(cal, aux, dV)
	dTa := ta - 25

	kGain := cal.Gain / float32(int16(aux.Gain))

	cpTa := 1 + cal.KTaCP*dTa
	cpV := 1 + cal.KVCP*dV
	cpSP := [2]float32{
		float32(int16(aux.CPSP0))*kGain - cal.OffCP[0]*cpTa*cpV,
		float32(int16(aux.CPSP1))*kGain - cal.OffCP[1]*cpTa*cpV,
	}

	trK4 := pow4(ta - reflectedOffset + kelvin)
	taK4 := pow4(ta + kelvin)
	taR := trK4 - (trK4-taK4)/emissivity
	ksTa := 1 + cal.KsTa*dTa

	var f measurement.Frame
	for i := range f.Temps {
		p := float32(cal.Pattern[i])

		pix := float32(raw[i]) * kGain
		pix -= cal.PixOsRef[i] * (1 + cal.KTa[i]*dTa) * (1 + cal.KV[i]*dV)

		vIR := pix / emissivity
		vIR -= cal.TGC * ((1-p)*cpSP[0] + p*cpSP[1])

		aComp := (cal.A[i] - cal.TGC*((1-p)*cal.ACP[0]+p*cal.ACP[1])) * ksTa

		f.Temps[i] = objectTemp(cal, vIR, aComp, taR)
	}

	repairBadPixels(&f.Temps, cal.BadPixels)
	flipHorizontal(&f.Temps)

	f.UpdateRange()
	f.AmbientTemp = ta
	return f
}

// ambient returns the die temperature in °C.
func ambient(cal *Calibration, aux Aux, dV float32) float32 {
	ptat := float32(int16(aux.PTAT))
	vbe := float32(int16(aux.Vbe))
	ptatArt := ptat / (ptat*cal.AlphaPTAT + vbe) * 262144

	return (ptatArt/(1+cal.KVPTAT*dV)-cal.VPTAT25)/cal.KTPTAT + 25
}

func objectTemp(cal *Calibration, vIR, aComp, taR float32) float32 {
	a3 := aComp * aComp * aComp
	sx := cal.KsTo[1] * root4(a3*vIR+a3*aComp*taR)
	to := root4(vIR/(aComp*(1-cal.KsTo[1]*kelvin)+sx)+taR) - kelvin

	r := tempRange(to, &cal.CT)
	return root4(vIR/(aComp*cal.AlphaCorr[r]*(1+cal.KsTo[r]*(to-cal.CT[r])))+taR) - kelvin
}

// tempRange selects the calibration range for a first-pass object temperature.
func tempRange(to float32, ct *[4]float32) int {
	switch {
	case to < ct[1]:
		return 0
	case to < ct[2]:
		return 1
	case to < ct[3]:
		return 2
	default:
		return 3
	}
}

// repairBadPixels replaces each listed pixel with the mean of its horizontal and vertical
// neighbours that lie on the grid.
func repairBadPixels(temps *[measurement.PixelCount]float32, bad []int) {
	for _, p := range bad {
		x, y := p%measurement.Width, p/measurement.Width

		var sum float32
		var n int
		for _, d := range [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
			nx, ny := x+d[0], y+d[1]
			if nx < 0 || nx >= measurement.Width || ny < 0 || ny >= measurement.Height {
				continue
			}
			sum += temps[measurement.Index(nx, ny)]
			n++
		}
		temps[p] = sum / float32(n)
	}
}

// flipHorizontal mirrors each row in place.
func flipHorizontal(temps *[measurement.PixelCount]float32) {
	for y := 0; y < measurement.Height; y++ {
		row := temps[y*measurement.Width : (y+1)*measurement.Width]
		for l, r := 0, len(row)-1; l < r; l, r = l+1, r-1 {
			row[l], row[r] = row[r], row[l]
		}
	}
}
