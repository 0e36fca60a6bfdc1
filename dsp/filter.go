package dsp

import (
	"fmt"
	"log"
	"math"
	"math/cmplx"
)

// biquad is one second-order section of an IIR filter cascade, normalized so
// that a0 == 1.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// biquadState is the delay line of one biquad for one channel, in direct
// form II transposed.
type biquadState struct {
	z1, z2 float64
}

func (s *biquad) processInPlace(x []float64, state *biquadState) {
	for i, sample := range x {
		y := s.b0*sample + state.z1
		state.z1 = s.b1*sample - s.a1*y + state.z2
		state.z2 = s.b2*sample - s.a2*y
		x[i] = y
	}
}

// FilterSpec holds the immutable coefficient sets for one session's filter
// chain: a Butterworth bandpass and an optional powerline notch. A FilterSpec
// carries no mutable state, the streaming state lives in FilterState and is
// threaded explicitly by the caller.
type FilterSpec struct {
	sampleRate float64
	lowCut     float64
	highCut    float64

	bandpass []biquad
	notch    *biquad
}

// NewFilterSpec designs a zero-phase capable Butterworth bandpass of the
// given order. Cutoffs outside (0, nyquist) are clamped with a logged
// warning instead of failing, a misconfigured cutoff must not take down a
// running session.
func NewFilterSpec(sampleRate float64, lowCut float64, highCut float64, order int) (*FilterSpec, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %v", sampleRate)
	}
	if order < 1 {
		return nil, fmt.Errorf("filter order must be at least 1, got %d", order)
	}

	nyquist := sampleRate / 2
	clampedLow := lowCut
	clampedHigh := highCut
	if clampedLow <= 0 {
		clampedLow = 0.01 * nyquist
	}
	if clampedHigh >= nyquist {
		clampedHigh = 0.99 * nyquist
	}
	if clampedLow != lowCut || clampedHigh != highCut {
		log.Printf("bandpass cutoffs out of range: %v-%vHz at %vHz, clamped to %.2f-%.2fHz", lowCut, highCut, sampleRate, clampedLow, clampedHigh)
	}
	if clampedLow >= clampedHigh {
		return nil, fmt.Errorf("bandpass cutoffs invalid: low %vHz must be below high %vHz", lowCut, highCut)
	}

	return &FilterSpec{
		sampleRate: sampleRate,
		lowCut:     clampedLow,
		highCut:    clampedHigh,
		bandpass:   butterworthBandpass(order, clampedLow, clampedHigh, sampleRate),
	}, nil
}

// SetNotch adds an IIR notch at the given line frequency with the given
// quality factor. An out-of-range frequency leaves the notch disabled with a
// logged warning.
func (f *FilterSpec) SetNotch(frequency float64, q float64) {
	nyquist := f.sampleRate / 2
	if frequency <= 0 || frequency >= nyquist {
		log.Printf("notch frequency out of range: %vHz at %vHz, notch disabled", frequency, f.sampleRate)
		f.notch = nil
		return
	}
	if q <= 0 {
		q = 30
	}
	notch := iirNotch(frequency, q, f.sampleRate)
	f.notch = &notch
}

// SampleRate this filter chain was designed for.
func (f *FilterSpec) SampleRate() float64 {
	return f.sampleRate
}

// Band returns the effective (possibly clamped) bandpass cutoffs.
func (f *FilterSpec) Band() (float64, float64) {
	return f.lowCut, f.highCut
}

// HasNotch indicates whether the notch stage is enabled.
func (f *FilterSpec) HasNotch() bool {
	return f.notch != nil
}

// ApplyBandpass filters the window in place with the zero-phase bandpass.
func (f *FilterSpec) ApplyBandpass(window Window) {
	for _, channel := range window {
		filtfilt(f.bandpass, channel)
	}
}

// ApplyNotch filters the window in place with the zero-phase notch. Without
// a configured notch this is a no-op.
func (f *FilterSpec) ApplyNotch(window Window) {
	if f.notch == nil {
		return
	}
	sections := []biquad{*f.notch}
	for _, channel := range window {
		filtfilt(sections, channel)
	}
}

// ApplyAll runs bandpass and notch in batch mode, zero-phase, in place. This
// is the path the detectors use on each analysis window.
func (f *FilterSpec) ApplyAll(window Window) {
	f.ApplyBandpass(window)
	f.ApplyNotch(window)
}

// FilterState owns the per-channel delay lines for streaming, chunk-wise
// filtering. It is created by FilterChunk on first use and must be threaded
// explicitly between calls, sharing a state between sessions corrupts both.
type FilterState struct {
	bandpass [][]biquadState
	notch    []biquadState
}

func newFilterState(channels int, bandpassSections int, hasNotch bool) *FilterState {
	result := &FilterState{
		bandpass: make([][]biquadState, channels),
	}
	for i := range result.bandpass {
		result.bandpass[i] = make([]biquadState, bandpassSections)
	}
	if hasNotch {
		result.notch = make([]biquadState, channels)
	}
	return result
}

// FilterChunk applies the same coefficients causally (single pass, no
// backward run) to a chunk, preserving filter memory across chunks. Pass nil
// as state for the first chunk of a stream. The returned window is a filtered
// copy, the input chunk is left untouched.
func (f *FilterSpec) FilterChunk(chunk Window, state *FilterState) (Window, *FilterState) {
	if state == nil || len(state.bandpass) != len(chunk) {
		state = newFilterState(len(chunk), len(f.bandpass), f.notch != nil)
	}

	filtered := chunk.Copy()
	for ch, channel := range filtered {
		for i := range f.bandpass {
			f.bandpass[i].processInPlace(channel, &state.bandpass[ch][i])
		}
		if f.notch != nil {
			f.notch.processInPlace(channel, &state.notch[ch])
		}
	}
	return filtered, state
}

// filtfilt applies the cascade forward and backward over the signal, in
// place. The signal is extended with an odd reflection on both ends to damp
// the startup transients of the two passes.
func filtfilt(sections []biquad, x []float64) {
	n := len(x)
	if n < 2 {
		return
	}

	padlen := 3 * (2*len(sections) + 1)
	if padlen >= n {
		padlen = n - 1
	}

	ext := make([]float64, 0, n+2*padlen)
	for i := padlen; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := n - 2; i >= n-1-padlen; i-- {
		ext = append(ext, 2*x[n-1]-x[i])
	}

	forward(sections, ext)
	reverse(ext)
	forward(sections, ext)
	reverse(ext)

	copy(x, ext[padlen:padlen+n])
}

func forward(sections []biquad, x []float64) {
	for i := range sections {
		var state biquadState
		sections[i].processInPlace(x, &state)
	}
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

// butterworthBandpass designs an analog Butterworth lowpass prototype of the
// given order, transforms it to a bandpass, and discretizes it with the
// bilinear transform into a cascade of second-order sections.
func butterworthBandpass(order int, lowHz float64, highHz float64, sampleRate float64) []biquad {
	fs2 := 2 * sampleRate

	// pre-warped band edges
	w1 := fs2 * math.Tan(math.Pi*lowHz/sampleRate)
	w2 := fs2 * math.Tan(math.Pi*highHz/sampleRate)
	bw := w2 - w1
	w0 := math.Sqrt(w1 * w2)

	// analog lowpass prototype poles on the left unit half-circle
	prototype := make([]complex128, 0, order)
	for k := 0; k < order; k++ {
		theta := math.Pi * float64(2*k+1) / float64(2*order)
		prototype = append(prototype, complex(-math.Sin(theta), math.Cos(theta)))
	}

	// lowpass to bandpass: each prototype pole splits into a pair
	poles := make([]complex128, 0, 2*order)
	for _, p := range prototype {
		pb := p * complex(bw/2, 0)
		d := cmplx.Sqrt(pb*pb - complex(w0*w0, 0))
		poles = append(poles, pb+d, pb-d)
	}

	// bilinear transform; the analog zeros are `order` zeros at s=0, which
	// map to z=1, the remaining zeros at infinity map to z=-1
	gainNum := complex(1, 0)
	gainDen := complex(1, 0)
	digital := make([]complex128, len(poles))
	for i, p := range poles {
		digital[i] = (complex(fs2, 0) + p) / (complex(fs2, 0) - p)
		gainDen *= complex(fs2, 0) - p
	}
	for i := 0; i < order; i++ {
		gainNum *= complex(fs2, 0)
	}
	gain := math.Pow(bw, float64(order)) * real(gainNum/gainDen)

	sections := pairIntoSections(digital)
	if len(sections) > 0 {
		sections[0].b0 *= gain
		sections[0].b1 *= gain
		sections[0].b2 *= gain
	}
	return sections
}

// pairIntoSections groups the digital poles into biquads. Complex poles are
// paired with their conjugates, leftover real poles are paired among
// themselves. Every section gets one zero at z=1 and one at z=-1.
func pairIntoSections(poles []complex128) []biquad {
	const tolerance = 1e-10

	var reals []float64
	var sections []biquad
	for _, p := range poles {
		if math.Abs(imag(p)) < tolerance {
			reals = append(reals, real(p))
			continue
		}
		if imag(p) < 0 {
			// the conjugate partner builds the section
			continue
		}
		sections = append(sections, biquad{
			b0: 1, b1: 0, b2: -1,
			a1: -2 * real(p),
			a2: real(p)*real(p) + imag(p)*imag(p),
		})
	}
	for i := 0; i+1 < len(reals); i += 2 {
		sections = append(sections, biquad{
			b0: 1, b1: 0, b2: -1,
			a1: -(reals[i] + reals[i+1]),
			a2: reals[i] * reals[i+1],
		})
	}
	return sections
}

// iirNotch designs a single-section notch at the given frequency, using the
// audio EQ cookbook formula.
func iirNotch(frequency float64, q float64, sampleRate float64) biquad {
	w0 := 2 * math.Pi * frequency / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosW0 := math.Cos(w0)
	a0 := 1 + alpha

	return biquad{
		b0: 1 / a0,
		b1: -2 * cosW0 / a0,
		b2: 1 / a0,
		a1: -2 * cosW0 / a0,
		a2: (1 - alpha) / a0,
	}
}
