package dsp

import (
	"github.com/mjibson/go-dsp/spectral"
	"github.com/mjibson/go-dsp/window"
)

// Welch estimates the one-sided power spectral density of a single channel
// using Welch's averaged-periodogram method with a Hann window and 50%
// segment overlap. A segment length larger than the available samples is
// shrunk to the signal length, so a short window degrades the frequency
// resolution instead of failing.
func Welch(samples []float64, sampleRate float64, segmentLength int) (frequencies []float64, psd []float64) {
	if len(samples) == 0 {
		return nil, nil
	}
	if segmentLength <= 0 || segmentLength > len(samples) {
		segmentLength = len(samples)
	}
	// go-dsp requires an even segment length
	segmentLength &^= 1
	if segmentLength < 2 {
		segmentLength = 2
	}

	options := &spectral.PwelchOptions{
		NFFT:     segmentLength,
		Window:   window.Hann,
		Noverlap: segmentLength / 2,
	}
	psd, frequencies = spectral.Pwelch(samples, sampleRate, options)
	return frequencies, psd
}

// WelchMultichannel computes each channel's PSD independently and averages
// the estimates. Channels are never averaged in the time domain before the
// spectral estimation, that would cancel out-of-phase signal energy.
func WelchMultichannel(w Window, sampleRate float64, segmentLength int) (frequencies []float64, psd []float64) {
	for _, channel := range w {
		f, p := Welch(channel, sampleRate, segmentLength)
		if psd == nil {
			frequencies = f
			psd = make([]float64, len(p))
		}
		for i := range p {
			psd[i] += p[i]
		}
	}
	if psd == nil {
		return nil, nil
	}
	for i := range psd {
		psd[i] /= float64(len(w))
	}
	return frequencies, psd
}
