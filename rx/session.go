// Package rx runs a detection session: it buffers the incoming multichannel
// sample stream, polls the buffer on a fixed cadence, classifies each
// analysis window, and fans out debounced detection events to subscribers.
package rx

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jmarten/ssvepd/detect"
	"github.com/jmarten/ssvepd/dsp"
	"github.com/jmarten/ssvepd/trace"
)

const (
	traceScores = "scores"
	traceVotes  = "votes"

	eventBufferSize = 16
	tickTimeWindow  = 8
)

// FilterBank configures the sub-band decomposition of the FBCCA detector.
type FilterBank struct {
	Enabled  bool
	Subbands int
	Order    int
}

// Config is the complete parameter set of a session. Zero values are filled
// in by WithDefaults, the remaining fields are validated by the session
// constructor.
type Config struct {
	SampleRate        float64
	ChannelCount      int
	TargetFrequencies []float64
	Harmonics         int

	BandpassLow    float64
	BandpassHigh   float64
	FilterOrder    int
	NotchFrequency float64
	NotchQ         float64

	WindowSeconds     float64
	StepSeconds       float64
	BufferSeconds     float64
	VoteHold          time.Duration
	MinScoreThreshold float64
	MarginRatio       float64
	SmoothingAlpha    float64

	DetectorKind detect.Kind
	FilterBank   FilterBank
}

// WithDefaults returns a copy with all optional fields filled in.
func (c Config) WithDefaults() Config {
	if c.Harmonics == 0 {
		c.Harmonics = 2
	}
	if c.BandpassLow == 0 && c.BandpassHigh == 0 {
		c.BandpassLow = 5
		c.BandpassHigh = 45
	}
	if c.FilterOrder == 0 {
		c.FilterOrder = 4
	}
	if c.NotchQ == 0 {
		c.NotchQ = 30
	}
	if c.WindowSeconds == 0 {
		c.WindowSeconds = 2
	}
	if c.StepSeconds == 0 {
		c.StepSeconds = 0.25
	}
	if c.BufferSeconds == 0 {
		c.BufferSeconds = 10
	}
	if c.VoteHold == 0 {
		c.VoteHold = 500 * time.Millisecond
	}
	if c.MinScoreThreshold == 0 {
		c.MinScoreThreshold = 1.5
	}
	if c.MarginRatio == 0 {
		c.MarginRatio = 1.5
	}
	if c.SmoothingAlpha == 0 {
		c.SmoothingAlpha = 0.3
	}
	if c.DetectorKind == "" {
		c.DetectorKind = detect.PSD
	}
	return c
}

// detectorKind resolves the filter bank switch: an enabled filter bank
// upgrades a plain CCA detector to FBCCA.
func (c Config) detectorKind() detect.Kind {
	if c.FilterBank.Enabled && c.DetectorKind == detect.CCA {
		return detect.FBCCA
	}
	return c.DetectorKind
}

// Session owns the sample buffer, the filter chain, the detector, and the
// vote stabilizer of one acquisition stream. The detection loop runs as its
// own goroutine, configuration changes go through the op channel while the
// loop is running. The buffer has its own mutex because Ingest is called
// from the producer's goroutine.
type Session struct {
	config  Config
	clock   detect.Clock
	targets detect.Targets

	bufMu  sync.Mutex
	buffer *SampleBuffer

	filter     *dsp.FilterSpec
	detector   detect.Detector
	stabilizer *detect.VoteStabilizer

	threshold float64
	selected  []int
	smoothed  map[float64]float64

	tickTimes *dsp.RollingMean[float64]
	slow      bool

	subsMu      sync.Mutex
	subscribers []chan Event

	calibrating bool

	op      chan func()
	stop    chan struct{}
	stopped chan struct{}

	tracer trace.Tracer
}

// NewSession validates the configuration and builds the processing chain.
// A nil clock means wall time.
func NewSession(config Config, clock detect.Clock) (*Session, error) {
	config = config.WithDefaults()
	if clock == nil {
		clock = detect.WallClock
	}

	if config.ChannelCount < 1 {
		return nil, fmt.Errorf("at least one channel required, got %d", config.ChannelCount)
	}
	if config.StepSeconds <= 0 {
		return nil, fmt.Errorf("step length must be positive, got %vs", config.StepSeconds)
	}
	if config.BufferSeconds < config.WindowSeconds {
		return nil, fmt.Errorf("buffer length %vs is shorter than the analysis window %vs", config.BufferSeconds, config.WindowSeconds)
	}

	targets, err := detect.NewTargets(config.TargetFrequencies, config.Harmonics)
	if err != nil {
		return nil, err
	}

	filter, err := dsp.NewFilterSpec(config.SampleRate, config.BandpassLow, config.BandpassHigh, config.FilterOrder)
	if err != nil {
		return nil, err
	}
	if config.NotchFrequency > 0 {
		filter.SetNotch(config.NotchFrequency, config.NotchQ)
	}

	detector, err := detect.New(config.detectorKind(), targets, detect.Options{
		SampleRate:         config.SampleRate,
		WindowSeconds:      config.WindowSeconds,
		FilterBankSubbands: config.FilterBank.Subbands,
		FilterBankOrder:    config.FilterBank.Order,
	})
	if err != nil {
		return nil, err
	}

	buffer, err := NewSampleBuffer(config.ChannelCount, config.SampleRate, config.BufferSeconds)
	if err != nil {
		return nil, err
	}

	return &Session{
		config:     config,
		clock:      clock,
		targets:    targets,
		buffer:     buffer,
		filter:     filter,
		detector:   detector,
		stabilizer: detect.NewVoteStabilizer(config.VoteHold, clock),
		threshold:  config.MinScoreThreshold,
		smoothed:   make(map[float64]float64),
		tickTimes:  dsp.NewRollingMean[float64](tickTimeWindow),
		tracer:     new(trace.NoTracer),
	}, nil
}

// Config returns the effective configuration, with defaults applied.
func (s *Session) Config() Config {
	return s.config
}

// Targets of this session.
func (s *Session) Targets() detect.Targets {
	return s.targets
}

// Ingest validates and appends one sample chunk. It is safe to call from the
// producer's goroutine at any time, also while the session is stopped.
func (s *Session) Ingest(chunk [][]float64, sampleRate float64) error {
	if sampleRate != s.config.SampleRate {
		return fmt.Errorf("%w: got sample rate %v, want %v", ErrShapeMismatch, sampleRate, s.config.SampleRate)
	}

	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return s.buffer.Add(chunk)
}

// Subscribe registers a new event subscriber. Events are dropped for
// subscribers that do not keep up.
func (s *Session) Subscribe() <-chan Event {
	events := make(chan Event, eventBufferSize)
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subscribers = append(s.subscribers, events)
	return events
}

func (s *Session) publish(event Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, subscriber := range s.subscribers {
		select {
		case subscriber <- event:
		default:
		}
	}
}

// Start launches the detection loop. Starting a running session is a no-op.
func (s *Session) Start() {
	if s.op != nil {
		return
	}

	s.op = make(chan func())
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})

	go s.run()
}

// Stop halts the detection loop and blocks until it has terminated.
func (s *Session) Stop() {
	if s.op == nil {
		return
	}

	s.tracer.Stop()

	close(s.stop)
	<-s.stopped
	close(s.op)

	s.op = nil
	s.stop = nil
	s.stopped = nil
}

func (s *Session) do(f func()) {
	if s.op == nil {
		f()
	} else {
		s.op <- f
	}
}

// SetTracer installs a tracer for score and vote diagnostics.
func (s *Session) SetTracer(tracer trace.Tracer) {
	s.do(func() {
		s.tracer = tracer
		s.tracer.Start()
	})
}

// SetThreshold replaces the minimum score threshold, usually with the
// adaptive value derived during calibration.
func (s *Session) SetThreshold(threshold float64) {
	s.do(func() {
		s.threshold = threshold
	})
}

// SetChannels restricts detection to the given channel subset. An empty
// slice selects all channels.
func (s *Session) SetChannels(channels []int) {
	s.do(func() {
		for _, ch := range channels {
			if ch < 0 || ch >= s.config.ChannelCount {
				log.Printf("ignoring channel selection, channel %d is out of range", ch)
				return
			}
		}
		s.selected = channels
	})
}

func (s *Session) setCalibrating(calibrating bool) {
	s.do(func() {
		s.calibrating = calibrating
		if calibrating {
			s.stabilizer.Reset()
			clear(s.smoothed)
		}
	})
}

func (s *Session) run() {
	defer close(s.stopped)

	ticker := time.NewTicker(time.Duration(s.config.StepSeconds * float64(time.Second)))
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case op := <-s.op:
			op()
		case <-ticker.C:
			if s.calibrating {
				continue
			}
			if event, ok := s.detectOnce(); ok {
				s.publish(event)
			}
		}
	}
}

// detectOnce runs one detection tick: snapshot the latest window, filter,
// classify, smooth, gate, debounce. It reports false while the buffer does
// not hold a full analysis window yet.
func (s *Session) detectOnce() (Event, bool) {
	s.bufMu.Lock()
	window, ok := s.buffer.LatestDuration(s.config.WindowSeconds)
	s.bufMu.Unlock()
	if !ok {
		return Event{}, false
	}
	defer s.trackTickTime(s.clock.Now())

	if len(s.selected) > 0 {
		window = window.Select(s.selected)
	}
	s.filter.ApplyAll(window)

	result := s.detector.Detect(window)
	scores := s.smoothScores(result.Scores)

	best, min := bestScore(scores)
	event := Event{
		Scores:     scores,
		Confidence: result.Confidence,
		Timestamp:  s.clock.Now(),
	}

	confident := best.score >= s.threshold &&
		best.score >= min*s.config.MarginRatio &&
		result.Confidence > 0
	if !confident {
		s.stabilizer.Reset()
		s.traceTick(scores, event)
		return event, true
	}

	candidate := best.frequency
	event.Candidate = &candidate
	if stable, ok := s.stabilizer.Update(candidate); ok {
		event.Stable = &stable
	}

	s.traceTick(scores, event)
	return event, true
}

// trackTickTime keeps a rolling mean over the recent tick processing times
// and reports when the detection loop starts or stops overrunning its step
// interval.
func (s *Session) trackTickTime(started time.Time) {
	elapsed := s.clock.Now().Sub(started).Seconds()
	mean := s.tickTimes.Put(elapsed)
	overrun := mean > s.config.StepSeconds
	if overrun == s.slow {
		return
	}
	s.slow = overrun
	if overrun {
		log.Printf("detection is falling behind: mean tick time %.0fms exceeds the %.0fms step", mean*1000, s.config.StepSeconds*1000)
	} else {
		log.Printf("detection caught up, mean tick time %.0fms", mean*1000)
	}
}

// smoothScores folds the per-window scores into the exponential moving
// average kept across ticks.
func (s *Session) smoothScores(scores map[float64]float64) map[float64]float64 {
	alpha := s.config.SmoothingAlpha
	smoothed := make(map[float64]float64, len(scores))
	for frequency, score := range scores {
		previous, ok := s.smoothed[frequency]
		if !ok {
			previous = score
		}
		value := alpha*score + (1-alpha)*previous
		s.smoothed[frequency] = value
		smoothed[frequency] = value
	}
	return smoothed
}

type scoredFrequency struct {
	frequency float64
	score     float64
}

func bestScore(scores map[float64]float64) (best scoredFrequency, min float64) {
	first := true
	for frequency, score := range scores {
		if first || score > best.score {
			best = scoredFrequency{frequency: frequency, score: score}
		}
		if first || score < min {
			min = score
		}
		first = false
	}
	return best, min
}

func (s *Session) traceTick(scores map[float64]float64, event Event) {
	if s.tracer.Context() == traceScores {
		values := make([]any, 0, s.targets.Len())
		for _, frequency := range s.targets.Frequencies() {
			values = append(values, scores[frequency])
		}
		trace.TraceValues(s.tracer, traceScores, "scores", values...)
	}
	if s.tracer.Context() == traceVotes {
		candidate := 0.0
		if event.Candidate != nil {
			candidate = *event.Candidate
		}
		stable := 0.0
		if event.Stable != nil {
			stable = *event.Stable
		}
		trace.TraceValues(s.tracer, traceVotes, "vote", candidate, stable, event.Confidence)
	}
}
