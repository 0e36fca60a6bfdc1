// Package detect classifies which of a known set of stimulation frequencies
// dominates a filtered analysis window, and debounces the per-window
// classifications into stable decisions.
package detect

import (
	"fmt"
	"math"
	"sort"

	"github.com/jmarten/ssvepd/dsp"
)

// Kind selects the detection strategy. The strategy is fixed at construction
// time, there is no runtime dispatch on it afterwards.
type Kind string

const (
	PSD   Kind = "psd"
	CCA   Kind = "cca"
	FBCCA Kind = "fbcca"
)

// Targets is the ordered set of distinct stimulation frequencies of one
// session, plus the number of harmonics considered per target.
type Targets struct {
	frequencies []float64
	harmonics   int
}

// NewTargets validates and normalizes the target set: at least two distinct
// frequencies, 1 to 3 harmonics. The frequencies are kept in ascending order.
func NewTargets(frequencies []float64, harmonics int) (Targets, error) {
	if len(frequencies) < 2 {
		return Targets{}, fmt.Errorf("at least two target frequencies required, got %d", len(frequencies))
	}
	if harmonics < 1 || harmonics > 3 {
		return Targets{}, fmt.Errorf("harmonics must be between 1 and 3, got %d", harmonics)
	}

	sorted := make([]float64, len(frequencies))
	copy(sorted, frequencies)
	sort.Float64s(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return Targets{}, fmt.Errorf("duplicate target frequency %v", sorted[i])
		}
	}

	return Targets{frequencies: sorted, harmonics: harmonics}, nil
}

// Frequencies in ascending order. The returned slice must not be modified.
func (t Targets) Frequencies() []float64 {
	return t.frequencies
}

// Harmonics considered per target.
func (t Targets) Harmonics() int {
	return t.harmonics
}

// Len is the number of targets.
func (t Targets) Len() int {
	return len(t.frequencies)
}

// Index of the given frequency, -1 if it is not a target.
func (t Targets) Index(frequency float64) int {
	for i, f := range t.frequencies {
		if f == frequency {
			return i
		}
	}
	return -1
}

// Result is the outcome of classifying one analysis window. It is produced
// fresh per window and never mutated afterwards.
type Result struct {
	// Frequency with the highest score.
	Frequency float64
	// Score of that frequency.
	Score float64
	// Scores per target frequency.
	Scores map[float64]float64
	// Confidence in [0,1], derived from the gap between the best and the
	// second-best score.
	Confidence float64
}

// TrainingData maps each target frequency to the labeled analysis-window
// segments collected for it during calibration.
type TrainingData map[float64][]dsp.Window

// Detector is a frequency classification strategy operating on a filtered
// analysis window.
type Detector interface {
	// Detect scores every target frequency on the window and picks the best.
	Detect(window dsp.Window) Result
	// Predict returns the index of the best target and the raw combined
	// score of that target as confidence.
	Predict(window dsp.Window) (int, float64)
	// PredictProba returns a softmax-normalized distribution over all
	// targets, for diagnostics.
	PredictProba(window dsp.Window) []float64
	// Train derives per-frequency templates from labeled calibration
	// segments.
	Train(training TrainingData)
}

// Options carries the construction parameters shared by all detector kinds.
type Options struct {
	SampleRate    float64
	WindowSeconds float64
	// FilterBank applies to FBCCA only.
	FilterBankSubbands int
	FilterBankOrder    int
}

// New creates a detector of the given kind.
func New(kind Kind, targets Targets, options Options) (Detector, error) {
	if options.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %v", options.SampleRate)
	}
	if options.WindowSeconds <= 0 {
		return nil, fmt.Errorf("window length must be positive, got %v", options.WindowSeconds)
	}

	switch kind {
	case PSD:
		return NewPSDDetector(options.SampleRate, targets), nil
	case CCA:
		return NewCCADetector(options.SampleRate, targets, options.WindowSeconds), nil
	case FBCCA:
		return NewFBCCADetector(options.SampleRate, targets, options.WindowSeconds, options.FilterBankSubbands, options.FilterBankOrder)
	default:
		return nil, fmt.Errorf("unknown detector kind %q", kind)
	}
}

// newResult ranks the scores and derives the gap-based confidence. With a
// positive second-best score the confidence is 1 - second/best, otherwise a
// saturating function of the best score alone.
func newResult(scores map[float64]float64) Result {
	const saturation = 1.5

	best := math.Inf(-1)
	var bestFrequency float64
	for frequency, score := range scores {
		if score > best || (score == best && frequency < bestFrequency) {
			best = score
			bestFrequency = frequency
		}
	}

	second := math.Inf(-1)
	for frequency, score := range scores {
		if frequency == bestFrequency {
			continue
		}
		if score > second {
			second = score
		}
	}

	var confidence float64
	switch {
	case best <= 0:
		confidence = 0
	case second > 0:
		confidence = 1 - second/best
	default:
		confidence = best / saturation
	}

	return Result{
		Frequency:  bestFrequency,
		Score:      best,
		Scores:     scores,
		Confidence: clamp01(confidence),
	}
}

// predict maps a result to (target index, raw best score).
func predict(targets Targets, result Result) (int, float64) {
	index := targets.Index(result.Frequency)
	if index < 0 {
		index = 0
	}
	return index, result.Score
}

// softmax over the per-target scores in target order.
func softmax(targets Targets, scores map[float64]float64) []float64 {
	values := make([]float64, targets.Len())
	max := math.Inf(-1)
	for i, frequency := range targets.Frequencies() {
		values[i] = scores[frequency]
		if values[i] > max {
			max = values[i]
		}
	}

	var sum float64
	for i := range values {
		values[i] = math.Exp(values[i] - max)
		sum += values[i]
	}
	for i := range values {
		values[i] /= sum
	}
	return values
}

func clamp01(value float64) float64 {
	return math.Max(0, math.Min(1, value))
}
