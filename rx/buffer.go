package rx

import (
	"errors"
	"fmt"
	"math"

	"github.com/jmarten/ssvepd/dsp"
)

// ErrShapeMismatch indicates that an incoming chunk does not match the
// channel layout of the session.
var ErrShapeMismatch = errors.New("chunk shape does not match")

// SampleBuffer is a multichannel ring buffer holding the most recent samples
// of an acquisition stream. It is not synchronized, the session guards all
// access with its own mutex.
type SampleBuffer struct {
	channels   int
	capacity   int
	sampleRate float64

	data    [][]float64
	cursor  int
	full    bool
	written int
}

// NewSampleBuffer creates a buffer holding bufferSeconds of data per channel.
func NewSampleBuffer(channels int, sampleRate float64, bufferSeconds float64) (*SampleBuffer, error) {
	if channels < 1 {
		return nil, fmt.Errorf("at least one channel required, got %d", channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %v", sampleRate)
	}
	if bufferSeconds <= 0 {
		return nil, fmt.Errorf("buffer length must be positive, got %vs", bufferSeconds)
	}

	capacity := int(math.Ceil(bufferSeconds * sampleRate))
	data := make([][]float64, channels)
	for ch := range data {
		data[ch] = make([]float64, capacity)
	}

	return &SampleBuffer{
		channels:   channels,
		capacity:   capacity,
		sampleRate: sampleRate,
		data:       data,
	}, nil
}

// Channels per sample chunk.
func (b *SampleBuffer) Channels() int {
	return b.channels
}

// Capacity in samples per channel.
func (b *SampleBuffer) Capacity() int {
	return b.capacity
}

// Available is the number of samples that can currently be read back.
func (b *SampleBuffer) Available() int {
	if b.full {
		return b.capacity
	}
	return b.cursor
}

// Add appends a chunk of channels x samples. A chunk larger than the whole
// buffer overwrites it with the chunk's most recent samples. Writes crossing
// the wrap boundary are split into a pre-wrap and a post-wrap part.
func (b *SampleBuffer) Add(chunk [][]float64) error {
	if len(chunk) != b.channels {
		return fmt.Errorf("%w: got %d channels, want %d", ErrShapeMismatch, len(chunk), b.channels)
	}
	samples := len(chunk[0])
	for ch := 1; ch < len(chunk); ch++ {
		if len(chunk[ch]) != samples {
			return fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d", ErrShapeMismatch, ch, len(chunk[ch]), samples)
		}
	}
	if samples == 0 {
		return nil
	}

	offset := 0
	if samples >= b.capacity {
		offset = samples - b.capacity
		samples = b.capacity
	}

	head := samples
	if b.cursor+samples > b.capacity {
		head = b.capacity - b.cursor
	}
	for ch := range b.data {
		copy(b.data[ch][b.cursor:], chunk[ch][offset:offset+head])
		copy(b.data[ch], chunk[ch][offset+head:offset+samples])
	}

	b.cursor += samples
	if b.cursor >= b.capacity {
		b.cursor -= b.capacity
		b.full = true
	}
	b.written += samples

	return nil
}

// Latest returns a fresh copy of the most recent n samples per channel in
// chronological order. It reports false while fewer than n samples have been
// written.
func (b *SampleBuffer) Latest(n int) (dsp.Window, bool) {
	if n <= 0 || n > b.capacity || n > b.Available() {
		return nil, false
	}

	window := dsp.NewWindow(b.channels, n)
	start := b.cursor - n
	if start < 0 {
		start += b.capacity
	}
	head := n
	if start+n > b.capacity {
		head = b.capacity - start
	}
	for ch := range b.data {
		copy(window[ch], b.data[ch][start:start+head])
		copy(window[ch][head:], b.data[ch][:n-head])
	}

	return window, true
}

// LatestDuration returns the most recent seconds of data, see Latest.
func (b *SampleBuffer) LatestDuration(seconds float64) (dsp.Window, bool) {
	return b.Latest(int(math.Round(seconds * b.sampleRate)))
}
