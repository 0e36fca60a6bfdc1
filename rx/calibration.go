package rx

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/jmarten/ssvepd/detect"
	"github.com/jmarten/ssvepd/dsp"
	"gonum.org/v1/gonum/stat"
)

const (
	defaultBaselineSeconds  = 5.0
	defaultSecondsPerTarget = 10.0
	defaultTopChannels      = 3

	thresholdFloor      = 1.5
	thresholdPercentile = 0.75
	thresholdScale      = 0.7

	sweepLow       = 5.0
	sweepHigh      = 30.0
	sweepExclusion = 1.0
)

// CalibrationResult holds everything a calibration run derived: the baseline
// noise floor, the channel subset ranked best for the target set, the
// adaptive score threshold, and the labeled training segments. It is built
// once per run and not mutated afterwards.
type CalibrationResult struct {
	NoiseFloor float64
	Channels   []int
	Threshold  float64
	Training   detect.TrainingData
}

// CalibrationController drives the timed calibration phases against a
// session: one baseline phase on unstimulated data, then one phase per
// target frequency while the subject attends to that stimulus. Calibration
// and online detection are mutually exclusive, the session's detection loop
// idles while a run is in progress.
type CalibrationController struct {
	session *Session

	// BaselineSeconds is the duration of the rest phase.
	BaselineSeconds float64
	// SecondsPerTarget is the duration of each stimulated phase.
	SecondsPerTarget float64
	// TopChannels is the size of the selected channel subset.
	TopChannels int
	// OnPhase is called at the start of every phase, if set.
	OnPhase func(label string, duration time.Duration)
}

func NewCalibrationController(session *Session) *CalibrationController {
	return &CalibrationController{
		session:          session,
		BaselineSeconds:  defaultBaselineSeconds,
		SecondsPerTarget: defaultSecondsPerTarget,
		TopChannels:      defaultTopChannels,
	}
}

// Run executes all calibration phases, trains the session's detector, and
// applies the derived channel subset and threshold to the session. The
// producer must keep ingesting data for the whole run.
func (c *CalibrationController) Run(ctx context.Context) (*CalibrationResult, error) {
	s := c.session
	s.setCalibrating(true)
	defer s.setCalibrating(false)

	config := s.config

	c.enterPhase("baseline", c.BaselineSeconds)
	if err := c.collect(ctx, c.BaselineSeconds); err != nil {
		return nil, err
	}
	baseline, ok := s.latestWindow(c.BaselineSeconds)
	if !ok {
		return nil, fmt.Errorf("not enough baseline data after %vs", c.BaselineSeconds)
	}
	s.filter.ApplyAll(baseline)

	noiseFloor := c.baselineNoiseFloor(baseline)
	channels := c.rankChannels(baseline)
	log.Printf("calibration baseline: noise floor %.3f, channels %v", noiseFloor, channels)

	training := make(detect.TrainingData, s.targets.Len())
	windowSamples := int(math.Round(config.WindowSeconds * config.SampleRate))
	for _, frequency := range s.targets.Frequencies() {
		c.enterPhase(fmt.Sprintf("target %vHz", frequency), c.SecondsPerTarget)
		if err := c.collect(ctx, c.SecondsPerTarget); err != nil {
			return nil, err
		}
		phase, ok := s.latestWindow(c.SecondsPerTarget)
		if !ok {
			return nil, fmt.Errorf("not enough data for %vHz after %vs", frequency, c.SecondsPerTarget)
		}
		phase = phase.Select(channels)
		s.filter.ApplyAll(phase)

		segments := segment(phase, windowSamples)
		if len(segments) == 0 {
			return nil, fmt.Errorf("phase for %vHz is shorter than one analysis window", frequency)
		}
		training[frequency] = segments
		log.Printf("calibration %vHz: %d segments", frequency, len(segments))
	}

	s.detector.Train(training)
	if psd, ok := s.detector.(*detect.PSDDetector); ok {
		psd.SetNoiseFloor(noiseFloor)
	}

	threshold := c.deriveThreshold(training)
	s.SetChannels(channels)
	s.SetThreshold(threshold)
	log.Printf("calibration done: threshold %.3f", threshold)

	return &CalibrationResult{
		NoiseFloor: noiseFloor,
		Channels:   channels,
		Threshold:  threshold,
		Training:   training,
	}, nil
}

func (c *CalibrationController) enterPhase(label string, seconds float64) {
	duration := time.Duration(seconds * float64(time.Second))
	log.Printf("calibration phase %q for %v", label, duration)
	if c.OnPhase != nil {
		c.OnPhase(label, duration)
	}
}

// collect waits for one phase duration while the producer fills the buffer.
func (c *CalibrationController) collect(ctx context.Context, seconds float64) error {
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// baselineNoiseFloor sweeps non-target frequencies across the SSVEP band on
// the unstimulated window and takes the median SNR as the noise floor.
func (c *CalibrationController) baselineNoiseFloor(baseline dsp.Window) float64 {
	var sweep []float64
	for frequency := sweepLow; frequency <= sweepHigh; frequency++ {
		if c.nearTarget(frequency) {
			continue
		}
		sweep = append(sweep, frequency)
	}
	if len(sweep) < 2 {
		return 0
	}

	sweepTargets, err := detect.NewTargets(sweep, 1)
	if err != nil {
		return 0
	}
	detector := detect.NewPSDDetector(c.session.config.SampleRate, sweepTargets)
	result := detector.Detect(baseline)

	scores := make([]float64, 0, len(result.Scores))
	for _, score := range result.Scores {
		scores = append(scores, score)
	}
	return median(scores)
}

func (c *CalibrationController) nearTarget(frequency float64) bool {
	for _, target := range c.session.targets.Frequencies() {
		if math.Abs(frequency-target) < sweepExclusion {
			return true
		}
	}
	return false
}

// rankChannels orders the channels by the SNR they achieve summed across all
// target frequencies on the baseline window, and keeps the top subset.
func (c *CalibrationController) rankChannels(baseline dsp.Window) []int {
	detector := detect.NewPSDDetector(c.session.config.SampleRate, c.session.targets)

	type rankedChannel struct {
		index int
		snr   float64
	}
	ranked := make([]rankedChannel, baseline.Channels())
	for ch := range ranked {
		result := detector.Detect(baseline.Select([]int{ch}))
		sum := 0.0
		for _, score := range result.Scores {
			sum += score
		}
		ranked[ch] = rankedChannel{index: ch, snr: sum}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].snr > ranked[j].snr
	})

	count := c.TopChannels
	if count <= 0 || count > len(ranked) {
		count = len(ranked)
	}
	channels := make([]int, count)
	for i := 0; i < count; i++ {
		channels[i] = ranked[i].index
	}
	sort.Ints(channels)
	return channels
}

// deriveThreshold scores every training segment against its own label and
// derives the adaptive threshold from the weakest target's 75th percentile,
// floored at a sane minimum.
func (c *CalibrationController) deriveThreshold(training detect.TrainingData) float64 {
	weakest := math.Inf(1)
	for frequency, segments := range training {
		scores := make([]float64, 0, len(segments))
		for _, window := range segments {
			result := c.session.detector.Detect(window)
			scores = append(scores, result.Scores[frequency])
		}
		p := percentile(scores, thresholdPercentile)
		if p < weakest {
			weakest = p
		}
	}
	if math.IsInf(weakest, 1) {
		return thresholdFloor
	}
	return math.Max(thresholdFloor, thresholdScale*weakest)
}

// latestWindow snapshots the most recent seconds of buffered data.
func (s *Session) latestWindow(seconds float64) (dsp.Window, bool) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return s.buffer.LatestDuration(seconds)
}

// segment cuts a window into non-overlapping chunks of the given length,
// dropping the remainder.
func segment(window dsp.Window, samples int) []dsp.Window {
	if samples <= 0 || window.Samples() < samples {
		return nil
	}
	count := window.Samples() / samples
	segments := make([]dsp.Window, 0, count)
	for i := 0; i < count; i++ {
		chunk := dsp.NewWindow(window.Channels(), samples)
		for ch := range window {
			copy(chunk[ch], window[ch][i*samples:(i+1)*samples])
		}
		segments = append(segments, chunk)
	}
	return segments
}

func median(values []float64) float64 {
	return percentile(values, 0.5)
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

// ITR computes the information transfer rate in bits per minute for the
// given classification accuracy over a target set of the given size, with
// one decision every decisionSeconds.
func ITR(accuracy float64, targets int, decisionSeconds float64) float64 {
	if targets < 2 || decisionSeconds <= 0 {
		return 0
	}
	if accuracy <= 0 {
		return 0
	}

	n := float64(targets)
	bits := math.Log2(n)
	if accuracy < 1 {
		bits += accuracy*math.Log2(accuracy) + (1-accuracy)*math.Log2((1-accuracy)/(n-1))
	}
	if bits < 0 {
		bits = 0
	}
	return bits * 60 / decisionSeconds
}
