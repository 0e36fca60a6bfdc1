package dsp

import "math"

// Reference generates the sine/cosine reference set for one target
// frequency: a pair of rows per harmonic up to harmonics, each sampled over
// exactly `samples` points at the given rate. Row order is sin(f), cos(f),
// sin(2f), cos(2f), ...
func Reference(frequency float64, harmonics int, samples int, sampleRate float64) [][]float64 {
	result := make([][]float64, 0, 2*harmonics)
	for harmonic := 1; harmonic <= harmonics; harmonic++ {
		sin := make([]float64, samples)
		cos := make([]float64, samples)
		omega := 2 * math.Pi * frequency * float64(harmonic)
		for i := 0; i < samples; i++ {
			t := float64(i) / sampleRate
			sin[i] = math.Sin(omega * t)
			cos[i] = math.Cos(omega * t)
		}
		result = append(result, sin, cos)
	}
	return result
}
