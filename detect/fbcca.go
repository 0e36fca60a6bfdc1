package detect

import (
	"fmt"
	"math"

	"github.com/jmarten/ssvepd/dsp"
)

const (
	defaultSubbands     = 5
	defaultSubbandOrder = 4

	// sub-band layout: 6-14, 14-22, 22-30, ... Hz, capped at 45Hz
	subbandBase  = 6.0
	subbandWidth = 8.0
	subbandCap   = 45.0
)

// FBCCADetector runs CCA independently in several sub-bands and combines
// the per-band scores with linearly decreasing weights, lower sub-bands
// weighted most. The combined scores are normalized so the best target
// scores 1.
type FBCCADetector struct {
	cca     *CCADetector
	bank    []*dsp.FilterSpec
	weights []float64
}

// NewFBCCADetector creates a filter-bank CCA detector with the given number
// of sub-bands. Sub-bands that would collapse above the cap (or the Nyquist
// frequency) are dropped, so the effective bank may be smaller than asked
// for.
func NewFBCCADetector(sampleRate float64, targets Targets, windowSeconds float64, subbands int, order int) (*FBCCADetector, error) {
	if subbands <= 0 {
		subbands = defaultSubbands
	}
	if order <= 0 {
		order = defaultSubbandOrder
	}

	result := &FBCCADetector{
		cca: NewCCADetector(sampleRate, targets, windowSeconds),
	}
	for i := 0; i < subbands; i++ {
		low := subbandBase + float64(i)*subbandWidth
		high := math.Min(subbandBase+subbandWidth+float64(i)*subbandWidth, subbandCap)
		if low >= high || low >= sampleRate/2 {
			break
		}
		spec, err := dsp.NewFilterSpec(sampleRate, low, high, order)
		if err != nil {
			return nil, fmt.Errorf("cannot design sub-band %d (%v-%vHz): %w", i, low, high, err)
		}
		result.bank = append(result.bank, spec)
		result.weights = append(result.weights, float64(subbands-i)/float64(subbands))
	}
	if len(result.bank) == 0 {
		return nil, fmt.Errorf("no usable sub-bands at %vHz sampling rate", sampleRate)
	}
	return result, nil
}

// Subbands is the effective number of sub-bands in the bank.
func (d *FBCCADetector) Subbands() int {
	return len(d.bank)
}

func (d *FBCCADetector) Detect(window dsp.Window) Result {
	return newResult(d.scores(window))
}

func (d *FBCCADetector) Predict(window dsp.Window) (int, float64) {
	return predict(d.cca.targets, d.Detect(window))
}

func (d *FBCCADetector) PredictProba(window dsp.Window) []float64 {
	return softmax(d.cca.targets, d.scores(window))
}

func (d *FBCCADetector) Train(training TrainingData) {
	d.cca.Train(training)
}

// Template returns the trained averaged segment for the given frequency.
func (d *FBCCADetector) Template(frequency float64) (dsp.Window, bool) {
	return d.cca.Template(frequency)
}

func (d *FBCCADetector) scores(window dsp.Window) map[float64]float64 {
	combined := make(map[float64]float64, d.cca.targets.Len())
	for _, frequency := range d.cca.targets.Frequencies() {
		combined[frequency] = 0
	}

	for i, spec := range d.bank {
		filtered := window.Copy()
		spec.ApplyAll(filtered)
		for frequency, score := range d.cca.scores(filtered) {
			combined[frequency] += d.weights[i] * score
		}
	}

	var max float64
	for _, score := range combined {
		if score > max {
			max = score
		}
	}
	if max > 0 {
		for frequency := range combined {
			combined[frequency] /= max
		}
	}
	return combined
}
