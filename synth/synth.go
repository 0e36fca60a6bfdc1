// Package synth produces a synthetic multichannel SSVEP stream: background
// brain activity in the alpha and beta bands plus a stimulation frequency
// with its second harmonic, strongest on the occipital-like channels. Used
// for end-to-end simulation and for exercising the pipeline without an
// acquisition device.
package synth

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	secondHarmonicAmplitude = 0.3
	alphaFrequency          = 10.5
	betaFrequency           = 20.3
	backgroundAmplitude     = 0.4
	noiseAmplitude          = 1.0

	occipitalWeight  = 1.5
	peripheralWeight = 0.7
)

// Generator produces sample chunks with a controllable stimulation
// frequency. The per-channel phase offsets and amplitude factors are drawn
// once at construction from the seeded source, so a seed fully determines
// the stream.
type Generator struct {
	sampleRate float64
	channels   int
	amplitude  float64

	mu        sync.Mutex
	rng       *rand.Rand
	frequency float64
	sample    int

	phases  []float64
	gains   []float64
	spatial []float64
}

// NewGenerator creates a generator for the given channel layout. Amplitude
// scales the stimulation signal relative to the unit background noise.
func NewGenerator(sampleRate float64, channels int, amplitude float64, seed int64) (*Generator, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %v", sampleRate)
	}
	if channels < 1 {
		return nil, fmt.Errorf("at least one channel required, got %d", channels)
	}

	rng := rand.New(rand.NewSource(seed))
	g := &Generator{
		sampleRate: sampleRate,
		channels:   channels,
		amplitude:  amplitude,
		rng:        rng,
		phases:     make([]float64, channels),
		gains:      make([]float64, channels),
		spatial:    make([]float64, channels),
	}
	for ch := 0; ch < channels; ch++ {
		g.phases[ch] = rng.Float64() * 2 * math.Pi
		g.gains[ch] = 0.8 + 0.4*rng.Float64()
		// The first half of the channels sits over visual cortex and picks
		// up the stimulation stronger than the rest.
		if ch < (channels+1)/2 {
			g.spatial[ch] = occipitalWeight
		} else {
			g.spatial[ch] = peripheralWeight
		}
	}
	return g, nil
}

// SetFrequency switches the stimulation frequency. Zero turns the
// stimulation off, leaving background activity and noise.
func (g *Generator) SetFrequency(frequency float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.frequency = frequency
}

// Frequency returns the current stimulation frequency.
func (g *Generator) Frequency() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frequency
}

// Generate produces the next chunk of channels x samples, continuing the
// phase of the previous chunk.
func (g *Generator) Generate(samples int) [][]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	chunk := make([][]float64, g.channels)
	for ch := range chunk {
		chunk[ch] = make([]float64, samples)
	}

	for i := 0; i < samples; i++ {
		t := float64(g.sample+i) / g.sampleRate
		for ch := 0; ch < g.channels; ch++ {
			value := noiseAmplitude * g.rng.NormFloat64()
			value += backgroundAmplitude * math.Sin(2*math.Pi*alphaFrequency*t+g.phases[ch])
			value += backgroundAmplitude * 0.5 * math.Sin(2*math.Pi*betaFrequency*t+2*g.phases[ch])

			if g.frequency > 0 {
				stimulation := math.Sin(2*math.Pi*g.frequency*t+g.phases[ch]) +
					secondHarmonicAmplitude*math.Sin(2*math.Pi*2*g.frequency*t+g.phases[ch])
				value += g.amplitude * g.gains[ch] * g.spatial[ch] * stimulation
			}

			chunk[ch][i] = value
		}
	}
	g.sample += samples

	return chunk
}

// Ingestor consumes generated chunks, usually a session.
type Ingestor interface {
	Ingest(chunk [][]float64, sampleRate float64) error
}

// Stream pushes chunks into the ingestor at the nominal acquisition cadence
// until the context is cancelled.
func (g *Generator) Stream(ctx context.Context, ingestor Ingestor, chunkInterval time.Duration) error {
	if chunkInterval <= 0 {
		chunkInterval = 40 * time.Millisecond
	}
	samples := int(math.Round(chunkInterval.Seconds() * g.sampleRate))
	if samples < 1 {
		samples = 1
	}

	ticker := time.NewTicker(chunkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := ingestor.Ingest(g.Generate(samples), g.sampleRate); err != nil {
				return fmt.Errorf("cannot ingest synthetic chunk: %w", err)
			}
		}
	}
}
