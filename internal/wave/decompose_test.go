package wave

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readingMap(readings []Reading) map[string]float64 {
	m := make(map[string]float64, len(readings))
	for _, r := range readings {
		m[r.Name] = r.Value
	}
	return m
}

func TestDecomposeTwoSines(t *testing.T) {
	const n = 1024
	// A 3 m mean level carrying two swells: 1 m at ~0.0098 Hz and
	// 0.5 m at ~0.0488 Hz, both whole numbers of periods over the
	// window so the bins line up exactly.
	samples := make([]float64, n)
	for i := range samples {
		x := float64(i)
		samples[i] = 3 +
			1.0*math.Cos(2*math.Pi*10*x/n) +
			0.5*math.Sin(2*math.Pi*50*x/n)
	}

	readings := Decompose(samples, DefaultSamplePeriod)
	m := readingMap(readings)

	assert.InDelta(t, 3.0, m["Sea Level [AVG]"], 1e-9)
	assert.InDelta(t, math.Sqrt(0.625), m["Sea Level [STDV]"], 1e-9)
	assert.InDelta(t, 4*math.Sqrt(0.625), m["Significant Wave Height"], 1e-9)
	assert.Less(t, m["Sea Level [MIN]"], m["Sea Level [AVG]"])
	assert.Greater(t, m["Sea Level [MAX]"], m["Sea Level [AVG]"])

	// Components come back amplitude-descending.
	require.Contains(t, m, "Wave Component 1 Amplitude")
	require.Contains(t, m, "Wave Component 2 Amplitude")
	assert.NotContains(t, m, "Wave Component 3 Amplitude")

	assert.InDelta(t, 1.0, m["Wave Component 1 Amplitude"], 1e-9)
	assert.InDelta(t, 10.0/n, m["Wave Component 1 Frequency"], 1e-12)
	assert.InDelta(t, 0.5, m["Wave Component 2 Amplitude"], 1e-9)
	assert.InDelta(t, 50.0/n, m["Wave Component 2 Frequency"], 1e-12)

	// A pure cosine has coefficient phase 0; the reported phase adds
	// a quarter turn.
	assert.InDelta(t, 90.0, m["Wave Component 1 Phase"], 1e-6)
}

func TestDecomposeFiltersAndCaps(t *testing.T) {
	const n = 1024
	samples := make([]float64, n)
	for i := range samples {
		x := float64(i)
		// Seven in-band swells plus one below the amplitude floor and
		// one beyond 0.3 Hz.
		for k := 0; k < 7; k++ {
			amp := 1.0 - 0.1*float64(k)
			samples[i] += amp * math.Sin(2*math.Pi*float64(10+5*k)*x/n)
		}
		samples[i] += 0.005 * math.Sin(2*math.Pi*80*x/n)
		samples[i] += 1.0 * math.Sin(2*math.Pi*400*x/n) // ~0.39 Hz
	}

	readings := Decompose(samples, DefaultSamplePeriod)
	m := readingMap(readings)

	// Capped at five components despite seven candidates.
	require.Contains(t, m, "Wave Component 5 Amplitude")
	assert.NotContains(t, m, "Wave Component 6 Amplitude")

	for i := 1; i <= 5; i++ {
		freq := m[fmt.Sprintf("Wave Component %d Frequency", i)]
		assert.GreaterOrEqual(t, freq, minFrequencyHz)
		assert.LessOrEqual(t, freq, maxFrequencyHz)
	}

	phases := []string{
		"Wave Component 1 Phase", "Wave Component 2 Phase", "Wave Component 3 Phase",
		"Wave Component 4 Phase", "Wave Component 5 Phase",
	}
	for _, name := range phases {
		assert.GreaterOrEqual(t, m[name], 0.0)
		assert.Less(t, m[name], 360.0)
	}
}

func TestDecomposeDegenerate(t *testing.T) {
	assert.Nil(t, Decompose(nil, DefaultSamplePeriod))

	// A flat series yields stats but no components.
	flat := make([]float64, 64)
	for i := range flat {
		flat[i] = 2.5
	}
	m := readingMap(Decompose(flat, DefaultSamplePeriod))
	assert.Equal(t, 2.5, m["Sea Level [AVG]"])
	assert.Equal(t, 0.0, m["Sea Level [STDV]"])
	assert.Equal(t, 0.0, m["Significant Wave Height"])
	assert.NotContains(t, m, "Wave Component 1 Amplitude")
}

func TestPhaseDegrees(t *testing.T) {
	assert.InDelta(t, 0.0, phaseDegrees(0), 1e-12)
	assert.InDelta(t, 90.0, phaseDegrees(math.Pi/2), 1e-9)
	assert.InDelta(t, 270.0, phaseDegrees(-math.Pi/2), 1e-9)
	assert.InDelta(t, 90.0, phaseDegrees(math.Pi/2+4*math.Pi), 1e-9)
}
