package rx

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferLatestAfterWrap(t *testing.T) {
	const capacity = 100
	buffer, err := NewSampleBuffer(2, 10, 10)
	require.NoError(t, err)
	require.Equal(t, capacity, buffer.Capacity())

	// Write capacity+k samples in arbitrary chunk sizes, the buffer must
	// return the literal last capacity samples in order.
	rng := rand.New(rand.NewSource(13))
	var written [2][]float64
	total := 0
	for total < capacity+37 {
		samples := 1 + rng.Intn(17)
		chunk := make([][]float64, 2)
		for ch := range chunk {
			chunk[ch] = make([]float64, samples)
			for i := range chunk[ch] {
				chunk[ch][i] = float64(ch*100000) + float64(total+i)
			}
			written[ch] = append(written[ch], chunk[ch]...)
		}
		require.NoError(t, buffer.Add(chunk))
		total += samples
	}

	latest, ok := buffer.Latest(capacity)
	require.True(t, ok)
	for ch := range written {
		assert.Equal(t, written[ch][total-capacity:], latest[ch], "channel %d", ch)
	}
}

func TestBufferInsufficientData(t *testing.T) {
	buffer, err := NewSampleBuffer(1, 10, 10)
	require.NoError(t, err)

	_, ok := buffer.Latest(1)
	assert.False(t, ok)

	require.NoError(t, buffer.Add([][]float64{{1, 2, 3}}))
	for n := 1; n <= 3; n++ {
		_, ok := buffer.Latest(n)
		assert.True(t, ok, "n=%d", n)
	}
	_, ok = buffer.Latest(4)
	assert.False(t, ok)
	_, ok = buffer.Latest(buffer.Capacity() + 1)
	assert.False(t, ok)
	_, ok = buffer.Latest(0)
	assert.False(t, ok)
}

func TestBufferShapeMismatch(t *testing.T) {
	buffer, err := NewSampleBuffer(2, 10, 1)
	require.NoError(t, err)

	err = buffer.Add([][]float64{{1, 2}})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	err = buffer.Add([][]float64{{1, 2}, {1}})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	assert.NoError(t, buffer.Add([][]float64{{}, {}}))
	assert.Equal(t, 0, buffer.Available())
}

func TestBufferOversizeChunk(t *testing.T) {
	buffer, err := NewSampleBuffer(1, 10, 1)
	require.NoError(t, err)
	require.Equal(t, 10, buffer.Capacity())

	chunk := make([]float64, 25)
	for i := range chunk {
		chunk[i] = float64(i)
	}
	require.NoError(t, buffer.Add([][]float64{chunk}))

	latest, ok := buffer.Latest(10)
	require.True(t, ok)
	assert.Equal(t, chunk[15:], latest[0])
}

func TestBufferLatestDoesNotAlias(t *testing.T) {
	buffer, err := NewSampleBuffer(1, 10, 1)
	require.NoError(t, err)
	require.NoError(t, buffer.Add([][]float64{{1, 2, 3, 4, 5}}))

	latest, ok := buffer.Latest(3)
	require.True(t, ok)
	latest[0][0] = 99

	again, ok := buffer.Latest(3)
	require.True(t, ok)
	assert.Equal(t, []float64{3, 4, 5}, again[0])
}

func TestBufferLatestDuration(t *testing.T) {
	buffer, err := NewSampleBuffer(1, 100, 2)
	require.NoError(t, err)

	chunk := make([]float64, 150)
	require.NoError(t, buffer.Add([][]float64{chunk}))

	window, ok := buffer.LatestDuration(1.5)
	require.True(t, ok)
	assert.Equal(t, 150, window.Samples())

	_, ok = buffer.LatestDuration(1.6)
	assert.False(t, ok)
}

func TestBufferInvalidConstruction(t *testing.T) {
	_, err := NewSampleBuffer(0, 10, 1)
	assert.Error(t, err)
	_, err = NewSampleBuffer(1, 0, 1)
	assert.Error(t, err)
	_, err = NewSampleBuffer(1, 10, 0)
	assert.Error(t, err)
}
