package detect

import (
	"math"

	"github.com/jmarten/ssvepd/dsp"
)

const (
	// defaultSegmentSeconds is the Welch segment length aimed for when the
	// window provides enough samples.
	defaultSegmentSeconds = 1.5

	defaultNeighborBandwidth = 1.0
	defaultGuardBandwidth    = 0.3

	secondHarmonicWeight = 0.5
	thirdHarmonicWeight  = 0.25
)

// PSDDetector scores each target frequency by its harmonic-weighted
// signal-to-noise ratio in a Welch PSD estimate of the window.
type PSDDetector struct {
	sampleRate float64
	targets    Targets

	// NeighborBandwidth is the half-width in Hz of the band around a target
	// used for the noise estimate.
	NeighborBandwidth float64
	// GuardBandwidth is the half-width in Hz of the exclusion zone
	// immediately around the peak, kept out of the noise estimate so the
	// peak does not contaminate its own noise floor.
	GuardBandwidth float64

	noiseFloor float64
	templates  map[float64]float64
}

// NewPSDDetector creates a PSD/SNR detector for the given target set.
func NewPSDDetector(sampleRate float64, targets Targets) *PSDDetector {
	return &PSDDetector{
		sampleRate:        sampleRate,
		targets:           targets,
		NeighborBandwidth: defaultNeighborBandwidth,
		GuardBandwidth:    defaultGuardBandwidth,
	}
}

// SetNoiseFloor installs a calibrated baseline noise floor. The per-window
// noise estimate never drops below it.
func (d *PSDDetector) SetNoiseFloor(noiseFloor float64) {
	d.noiseFloor = noiseFloor
}

// Detect computes the PSD across all channels and scores each target by the
// ratio of harmonic-weighted signal power to the neighboring noise power.
func (d *PSDDetector) Detect(window dsp.Window) Result {
	segmentLength := int(d.sampleRate * defaultSegmentSeconds)
	frequencies, psd := dsp.WelchMultichannel(window, d.sampleRate, segmentLength)

	scores := make(map[float64]float64, d.targets.Len())
	for _, target := range d.targets.Frequencies() {
		scores[target] = d.score(frequencies, psd, target)
	}
	return newResult(scores)
}

func (d *PSDDetector) Predict(window dsp.Window) (int, float64) {
	return predict(d.targets, d.Detect(window))
}

func (d *PSDDetector) PredictProba(window dsp.Window) []float64 {
	return softmax(d.targets, d.Detect(window).Scores)
}

// Train stores the mean in-class score per frequency as a scalar template.
func (d *PSDDetector) Train(training TrainingData) {
	d.templates = make(map[float64]float64, len(training))
	for frequency, segments := range training {
		if d.targets.Index(frequency) < 0 {
			continue
		}
		var sum float64
		var count int
		for _, segment := range segments {
			sum += d.Detect(segment).Scores[frequency]
			count++
		}
		if count > 0 {
			d.templates[frequency] = sum / float64(count)
		}
	}
}

// Template returns the trained scalar template for the given frequency.
func (d *PSDDetector) Template(frequency float64) (float64, bool) {
	template, ok := d.templates[frequency]
	return template, ok
}

// score sums the PSD at the fundamental and the weighted harmonics, and
// divides by the mean PSD in the neighbor band around the fundamental.
func (d *PSDDetector) score(frequencies []float64, psd []float64, target float64) float64 {
	if len(psd) == 0 {
		return 0
	}

	nyquist := d.sampleRate / 2
	signalPower := psd[dsp.NearestBin(frequencies, target)]
	if d.targets.Harmonics() >= 2 && 2*target < nyquist {
		signalPower += secondHarmonicWeight * psd[dsp.NearestBin(frequencies, 2*target)]
	}
	if d.targets.Harmonics() >= 3 && 3*target < nyquist {
		signalPower += thirdHarmonicWeight * psd[dsp.NearestBin(frequencies, 3*target)]
	}

	noisePower := d.noisePower(frequencies, psd, target)
	if noisePower < d.noiseFloor {
		noisePower = d.noiseFloor
	}
	return signalPower / math.Max(noisePower, dsp.Epsilon)
}

// noisePower is the mean PSD over the neighbor band around the target,
// excluding the guard band immediately around the peak. An empty band yields
// zero, the epsilon floor in score keeps the ratio finite.
func (d *PSDDetector) noisePower(frequencies []float64, psd []float64, target float64) float64 {
	var sum float64
	var count int
	for i, frequency := range frequencies {
		distance := math.Abs(frequency - target)
		if distance <= d.GuardBandwidth {
			continue
		}
		if distance > d.GuardBandwidth+d.NeighborBandwidth {
			continue
		}
		sum += psd[i]
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
