package dsp

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWelch_PeakAtSignalFrequency(t *testing.T) {
	const sampleRate = 125.0
	signal := sineWindow(1, 10.0, sampleRate, 4*int(sampleRate))

	frequencies, psd := Welch(signal[0], sampleRate, int(sampleRate))
	require.NotEmpty(t, psd)
	require.Len(t, frequencies, len(psd))

	peak := 0
	for i := range psd {
		if psd[i] > psd[peak] {
			peak = i
		}
	}
	assert.InDelta(t, 10.0, frequencies[peak], 1.5)
}

func TestWelch_ShortWindowDegradesGracefully(t *testing.T) {
	const sampleRate = 125.0
	signal := sineWindow(1, 10.0, sampleRate, 12) // ~0.1s

	frequencies, psd := Welch(signal[0], sampleRate, int(sampleRate))
	assert.NotEmpty(t, psd)
	assert.Len(t, frequencies, len(psd))
	for _, p := range psd {
		assert.False(t, math.IsNaN(p))
		assert.False(t, math.IsInf(p, 0))
	}
}

func TestWelch_Empty(t *testing.T) {
	frequencies, psd := Welch(nil, 125, 128)
	assert.Empty(t, frequencies)
	assert.Empty(t, psd)
}

func TestWelchMultichannel_AveragesEstimates(t *testing.T) {
	const sampleRate = 125.0
	rng := rand.New(rand.NewSource(7))

	window := sineWindow(4, 15.0, sampleRate, 4*int(sampleRate))
	for ch := range window {
		for i := range window[ch] {
			window[ch][i] += 0.3 * rng.NormFloat64()
		}
	}

	frequencies, psd := WelchMultichannel(window, sampleRate, int(sampleRate))
	require.NotEmpty(t, psd)

	peak := NearestBin(frequencies, 15.0)
	neighbor := NearestBin(frequencies, 20.0)
	assert.Greater(t, psd[peak], 5*psd[neighbor])
}

func TestNearestBin(t *testing.T) {
	bins := []float64{0, 1, 2, 3, 4, 5}
	assert.Equal(t, 0, NearestBin(bins, -1))
	assert.Equal(t, 2, NearestBin(bins, 2.2))
	assert.Equal(t, 5, NearestBin(bins, 100))
}

func TestReference_ShapeAndContent(t *testing.T) {
	const sampleRate = 125.0
	refs := Reference(10.0, 3, 250, sampleRate)

	require.Len(t, refs, 6)
	for _, row := range refs {
		assert.Len(t, row, 250)
	}

	// first row is sin(2π·10·t), second cos(2π·10·t)
	assert.InDelta(t, 0.0, refs[0][0], 1e-12)
	assert.InDelta(t, 1.0, refs[1][0], 1e-12)
	// third harmonic row pair oscillates at 30Hz
	sr := float64(sampleRate)
	period := int(sr / 30.0)
	assert.InDelta(t, refs[4][0], refs[4][period*3], 0.3)
}
