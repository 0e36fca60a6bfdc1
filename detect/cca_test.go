package detect

import (
	"math/rand"
	"testing"

	"github.com/jmarten/ssvepd/dsp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCCADetectorPicksStimulationFrequency(t *testing.T) {
	const (
		sampleRate    = 250.0
		windowSeconds = 2.0
		samples       = 500
	)

	targets, err := NewTargets([]float64{10, 12, 15}, 2)
	require.NoError(t, err)
	detector := NewCCADetector(sampleRate, targets, windowSeconds)

	rng := rand.New(rand.NewSource(21))
	for _, frequency := range targets.Frequencies() {
		window := sineWindow(rng, 3, samples, sampleRate, frequency, 2)
		result := detector.Detect(window)
		assert.Equal(t, frequency, result.Frequency)
		assert.Greater(t, result.Scores[frequency], 0.5, "canonical correlation at %vHz", frequency)
	}
}

func TestCCADetectorScoresBounded(t *testing.T) {
	targets, err := NewTargets([]float64{10, 15}, 2)
	require.NoError(t, err)
	detector := NewCCADetector(250, targets, 2)

	rng := rand.New(rand.NewSource(33))
	result := detector.Detect(noiseWindow(rng, 4, 500))
	for frequency, score := range result.Scores {
		assert.GreaterOrEqual(t, score, 0.0, "%vHz", frequency)
		assert.LessOrEqual(t, score, 1.0, "%vHz", frequency)
	}
}

func TestCCADetectorTwoToneTieHasLowConfidence(t *testing.T) {
	const (
		sampleRate = 250.0
		samples    = 500
		trials     = 20
	)

	targets, err := NewTargets([]float64{10, 15}, 2)
	require.NoError(t, err)
	detector := NewCCADetector(sampleRate, targets, 2)

	rng := rand.New(rand.NewSource(5))
	lowConfidence := 0
	for trial := 0; trial < trials; trial++ {
		window := twoToneWindow(rng, 3, samples, sampleRate, 10, 15, 2)
		result := detector.Detect(window)
		if result.Confidence < 0.5 {
			lowConfidence++
		}
	}
	assert.GreaterOrEqual(t, lowConfidence, trials*3/4, "equally strong targets must not yield a confident winner, got %d/%d low-confidence trials", lowConfidence, trials)
}

func TestCCADetectorShortWindow(t *testing.T) {
	targets, err := NewTargets([]float64{10, 15}, 2)
	require.NoError(t, err)
	detector := NewCCADetector(250, targets, 2)

	// Fewer samples than the reference length, the window is zero padded.
	rng := rand.New(rand.NewSource(2))
	result := detector.Detect(sineWindow(rng, 2, 300, 250, 15, 2))
	assert.Len(t, result.Scores, 2)
	assert.Contains(t, targets.Frequencies(), result.Frequency)
}

func TestCCADetectorDegenerateWindow(t *testing.T) {
	targets, err := NewTargets([]float64{10, 15}, 2)
	require.NoError(t, err)
	detector := NewCCADetector(250, targets, 2)

	// A constant window has no variance, the correlation is undefined and
	// the scores collapse to zero instead of erroring out.
	window := dsp.NewWindow(8, 4)
	result := detector.Detect(window)
	for _, score := range result.Scores {
		assert.Equal(t, 0.0, score)
	}
}

func TestCCADetectorTrain(t *testing.T) {
	targets, err := NewTargets([]float64{10, 15}, 2)
	require.NoError(t, err)
	detector := NewCCADetector(250, targets, 2)

	rng := rand.New(rand.NewSource(4))
	training := TrainingData{}
	for _, frequency := range targets.Frequencies() {
		for i := 0; i < 4; i++ {
			training[frequency] = append(training[frequency], sineWindow(rng, 2, 500, 250, frequency, 2))
		}
	}
	detector.Train(training)

	for _, frequency := range targets.Frequencies() {
		template, ok := detector.Template(frequency)
		require.True(t, ok)
		assert.Equal(t, 2, template.Channels())
		assert.Equal(t, 500, template.Samples())
	}
}

func TestFBCCADetectorPicksStimulationFrequency(t *testing.T) {
	targets, err := NewTargets([]float64{10, 12, 15}, 2)
	require.NoError(t, err)
	detector, err := NewFBCCADetector(250, targets, 2, 0, 0)
	require.NoError(t, err)
	assert.Greater(t, detector.Subbands(), 0)

	rng := rand.New(rand.NewSource(17))
	for _, frequency := range targets.Frequencies() {
		window := sineWindow(rng, 3, 500, 250, frequency, 2)
		result := detector.Detect(window)
		assert.Equal(t, frequency, result.Frequency)
	}
}

func TestFBCCADetectorNormalization(t *testing.T) {
	targets, err := NewTargets([]float64{10, 15}, 2)
	require.NoError(t, err)
	detector, err := NewFBCCADetector(250, targets, 2, 3, 4)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(6))
	result := detector.Detect(sineWindow(rng, 2, 500, 250, 10, 2))

	best := 0.0
	for _, score := range result.Scores {
		assert.GreaterOrEqual(t, score, 0.0)
		if score > best {
			best = score
		}
	}
	assert.InDelta(t, 1.0, best, 1e-9, "best combined score is normalized to 1")
}

func TestFBCCADetectorLowSampleRate(t *testing.T) {
	targets, err := NewTargets([]float64{10, 15}, 2)
	require.NoError(t, err)

	// At 50Hz only the lowest sub-bands fit below the Nyquist frequency,
	// the bank shrinks instead of failing.
	detector, err := NewFBCCADetector(50, targets, 2, 5, 4)
	require.NoError(t, err)
	assert.Less(t, detector.Subbands(), 5)
	assert.Greater(t, detector.Subbands(), 0)
}

func TestCCADetectorPredictProba(t *testing.T) {
	targets, err := NewTargets([]float64{10, 12, 15}, 2)
	require.NoError(t, err)
	detector := NewCCADetector(250, targets, 2)

	rng := rand.New(rand.NewSource(8))
	probabilities := detector.PredictProba(sineWindow(rng, 2, 500, 250, 12, 2))
	require.Len(t, probabilities, 3)

	sum := 0.0
	for _, p := range probabilities {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	index, score := detector.Predict(sineWindow(rng, 2, 500, 250, 12, 2))
	assert.Equal(t, 1, index)
	assert.Greater(t, score, 0.5)
}
