package detect

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/jmarten/ssvepd/dsp"
)

// CCADetector scores each target frequency by the largest canonical
// correlation between the analysis window and the target's sine/cosine
// reference harmonics.
type CCADetector struct {
	sampleRate    float64
	targets       Targets
	windowSamples int

	references map[float64]*mat.Dense
	templates  map[float64]dsp.Window
}

// NewCCADetector creates a plain CCA detector. The reference matrices are
// generated once for exactly the analysis window length.
func NewCCADetector(sampleRate float64, targets Targets, windowSeconds float64) *CCADetector {
	windowSamples := int(math.Round(windowSeconds * sampleRate))

	references := make(map[float64]*mat.Dense, targets.Len())
	for _, frequency := range targets.Frequencies() {
		rows := dsp.Reference(frequency, targets.Harmonics(), windowSamples, sampleRate)
		reference := mat.NewDense(windowSamples, len(rows), nil)
		for column, row := range rows {
			for i, value := range row {
				reference.Set(i, column, value)
			}
		}
		references[frequency] = reference
	}

	return &CCADetector{
		sampleRate:    sampleRate,
		targets:       targets,
		windowSamples: windowSamples,
		references:    references,
	}
}

// Detect computes the canonical correlation against every target's
// reference set and picks the best.
func (d *CCADetector) Detect(window dsp.Window) Result {
	return newResult(d.scores(window))
}

func (d *CCADetector) Predict(window dsp.Window) (int, float64) {
	return predict(d.targets, d.Detect(window))
}

func (d *CCADetector) PredictProba(window dsp.Window) []float64 {
	return softmax(d.targets, d.scores(window))
}

// Train stores the averaged raw segment per frequency as a template. The
// CCA score itself is data driven per window, the templates serve
// diagnostics and alternate template matching.
func (d *CCADetector) Train(training TrainingData) {
	d.templates = make(map[float64]dsp.Window, len(training))
	for frequency, segments := range training {
		if d.targets.Index(frequency) < 0 || len(segments) == 0 {
			continue
		}

		template := dsp.NewWindow(segments[0].Channels(), d.windowSamples)
		for _, segment := range segments {
			for ch := range template {
				if ch >= segment.Channels() {
					break
				}
				for i := 0; i < d.windowSamples && i < len(segment[ch]); i++ {
					template[ch][i] += segment[ch][i]
				}
			}
		}
		for ch := range template {
			for i := range template[ch] {
				template[ch][i] /= float64(len(segments))
			}
		}
		d.templates[frequency] = template
	}
}

// Template returns the trained averaged segment for the given frequency.
func (d *CCADetector) Template(frequency float64) (dsp.Window, bool) {
	template, ok := d.templates[frequency]
	return template, ok
}

func (d *CCADetector) scores(window dsp.Window) map[float64]float64 {
	observed := d.toObservations(window)

	scores := make(map[float64]float64, d.targets.Len())
	for _, frequency := range d.targets.Frequencies() {
		scores[frequency] = canonicalCorrelation(observed, d.references[frequency])
	}
	return scores
}

// toObservations lays the window out as samples × channels, truncated or
// zero-padded to exactly the analysis window length the references were
// generated for.
func (d *CCADetector) toObservations(window dsp.Window) *mat.Dense {
	channels := window.Channels()
	if channels == 0 {
		channels = 1
	}
	observed := mat.NewDense(d.windowSamples, channels, nil)
	for ch, channel := range window {
		for i := 0; i < d.windowSamples && i < len(channel); i++ {
			observed.Set(i, ch, channel[i])
		}
	}
	return observed
}

// canonicalCorrelation returns the absolute value of the largest canonical
// correlation coefficient between x and y, or 0 if the analysis degenerates
// (rank-deficient window, more channels than samples).
func canonicalCorrelation(x *mat.Dense, y *mat.Dense) float64 {
	xr, xc := x.Dims()
	_, yc := y.Dims()
	if xr <= xc || xr <= yc {
		return 0
	}

	var cc stat.CC
	if err := cc.CanonicalCorrelations(x, y, nil); err != nil {
		return 0
	}
	corrs := cc.CorrsTo(nil)
	if len(corrs) == 0 || math.IsNaN(corrs[0]) {
		return 0
	}
	return math.Abs(corrs[0])
}
