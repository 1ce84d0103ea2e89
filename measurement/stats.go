package measurement

import (
	"math"
)

// MinMax returns the smallest and largest values in temps. It returns (0, 0) for an empty slice.
func MinMax(temps []float32) (float32, float32) {
	if len(temps) == 0 {
		return 0, 0
	}

	min := float32(math.MaxFloat32)
	max := float32(-math.MaxFloat32)
	for _, t := range temps {
		if t < min {
			min = t
		}
		if t > max {
			max = t
		}
	}

	return min, max
}

// Mean returns the arithmetic mean of the frame's temperatures.
func Mean(f *Frame) float32 {
	var sum float64
	for _, t := range f.Temps {
		sum += float64(t)
	}

	return float32(sum / PixelCount)
}

// StdDev returns the population standard deviation of the frame's temperatures.
func StdDev(f *Frame) float32 {
	avg := float64(Mean(f))

	var sum float64
	for _, t := range f.Temps {
		sum += math.Pow(float64(t)-avg, 2)
	}

	return float32(math.Sqrt(sum / PixelCount))
}

// Summary returns the frame's statistics keyed by name. It's the set of values published as telemetry.
func Summary(f *Frame) map[string]float32 {
	return map[string]float32{
		"min":     f.MinTemp,
		"max":     f.MaxTemp,
		"mean":    Mean(f),
		"stddev":  StdDev(f),
		"spot":    f.Spot(),
		"ambient": f.AmbientTemp,
	}
}
