package wave

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultSamplePeriod is the sampling period of the high-frequency
// sea-level feed, in seconds.
const DefaultSamplePeriod = 1.0

const (
	minFrequencyHz = 0.0001
	maxFrequencyHz = 0.3
	minAmplitude   = 0.01
	maxComponents  = 5
)

// Reading is one named scalar produced by a decomposition, destined for
// insertion as a synthetic observation.
type Reading struct {
	Name  string
	Value float64
}

type component struct {
	frequency float64
	amplitude float64
	phase     float64
}

// Decompose reduces a high-frequency sea-level burst to summary
// statistics plus its dominant sinusoidal components. The series is
// mean-centered and Fourier-transformed; bins are kept only inside the
// ocean-swell band (0.0001-0.3 Hz) with amplitude at least 0.01, and
// the five largest survive. Significant wave height uses the standard
// 4-sigma approximation.
func Decompose(samples []float64, samplePeriod float64) []Reading {
	n := len(samples)
	if n == 0 {
		return nil
	}

	mean := stat.Mean(samples, nil)
	stdev := stat.PopStdDev(samples, nil)

	readings := []Reading{
		{Name: "Sea Level [MIN]", Value: floats.Min(samples)},
		{Name: "Sea Level [MAX]", Value: floats.Max(samples)},
		{Name: "Sea Level [AVG]", Value: mean},
		{Name: "Sea Level [STDV]", Value: stdev},
		{Name: "Significant Wave Height", Value: 4 * stdev},
	}

	centered := make([]float64, n)
	for i, v := range samples {
		centered[i] = v - mean
	}

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, centered)

	var components []component
	for i, c := range coeffs {
		freq := fft.Freq(i) / samplePeriod
		amp := 2 * cmplx.Abs(c) / float64(n)
		if freq < minFrequencyHz || freq > maxFrequencyHz || amp < minAmplitude {
			continue
		}
		components = append(components, component{
			frequency: freq,
			amplitude: amp,
			phase:     cmplx.Phase(c) + math.Pi/2,
		})
	}

	sort.SliceStable(components, func(i, j int) bool {
		return components[i].amplitude > components[j].amplitude
	})
	if len(components) > maxComponents {
		components = components[:maxComponents]
	}

	for i, comp := range components {
		readings = append(readings,
			Reading{Name: fmt.Sprintf("Wave Component %d Frequency", i+1), Value: comp.frequency},
			Reading{Name: fmt.Sprintf("Wave Component %d Amplitude", i+1), Value: comp.amplitude},
			Reading{Name: fmt.Sprintf("Wave Component %d Phase", i+1), Value: phaseDegrees(comp.phase)},
		)
	}
	return readings
}

// phaseDegrees converts radians to degrees normalized to [0, 360).
func phaseDegrees(rad float64) float64 {
	deg := math.Mod(rad*180/math.Pi, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
