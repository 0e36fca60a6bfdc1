// Package dsp provides the signal processing building blocks for SSVEP
// detection: filter design and application, Welch PSD estimation, and
// reference signal generation.
package dsp

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Epsilon is the floor used to keep ratios finite when a noise estimate
// degenerates to zero.
const Epsilon = 1e-10

type Number interface {
	constraints.Integer | constraints.Float
}

// RollingMean calculates the mean over n values.
type RollingMean[T Number] struct {
	values []T
	n      T
	next   int

	sumForMean T
	mean       T
}

// NewRollingMean with size n.
func NewRollingMean[T Number](n int) *RollingMean[T] {
	return &RollingMean[T]{
		values: make([]T, n),
		n:      T(n),
	}
}

// Put a new value into the rolling window and get the new mean back.
func (v *RollingMean[T]) Put(value T) T {
	v.sumForMean -= v.values[v.next]

	v.values[v.next] = value

	v.sumForMean += v.values[v.next]
	v.mean = v.sumForMean / v.n

	v.next = (v.next + 1) % len(v.values)

	return v.mean
}

// Get the current mean value.
func (v *RollingMean[T]) Get() T {
	return v.mean
}

// Reset the rolling window.
func (v *RollingMean[T]) Reset() {
	clear(v.values)
	v.next = 0
	v.sumForMean = 0
	v.mean = 0
}

// Window is a multichannel analysis window, channels × samples. All channels
// have the same length.
type Window [][]float64

// NewWindow allocates a window with the given number of channels and samples.
func NewWindow(channels int, samples int) Window {
	result := make(Window, channels)
	for i := range result {
		result[i] = make([]float64, samples)
	}
	return result
}

// Channels in this window.
func (w Window) Channels() int {
	return len(w)
}

// Samples per channel, 0 for an empty window.
func (w Window) Samples() int {
	if len(w) == 0 {
		return 0
	}
	return len(w[0])
}

// Copy returns a deep copy of this window that does not alias its storage.
func (w Window) Copy() Window {
	result := make(Window, len(w))
	for i, channel := range w {
		result[i] = make([]float64, len(channel))
		copy(result[i], channel)
	}
	return result
}

// Select returns a new window containing only the given channels, in the
// given order. Indexes out of range are ignored.
func (w Window) Select(channels []int) Window {
	result := make(Window, 0, len(channels))
	for _, index := range channels {
		if index < 0 || index >= len(w) {
			continue
		}
		result = append(result, w[index])
	}
	return result
}

// NearestBin returns the index of the frequency bin closest to the given
// frequency. The bins must be sorted in ascending order.
func NearestBin(bins []float64, frequency float64) int {
	bestIndex := 0
	bestDistance := math.Inf(1)
	for i, bin := range bins {
		distance := math.Abs(bin - frequency)
		if distance < bestDistance {
			bestDistance = distance
			bestIndex = i
		}
	}
	return bestIndex
}
