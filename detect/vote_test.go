package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time {
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func TestVoteStabilizerHold(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	stabilizer := NewVoteStabilizer(200*time.Millisecond, clock)

	votes := []float64{10, 10, 12, 12, 12, 12, 12, 10, 10, 10, 10, 10}
	var decisions []float64
	for _, vote := range votes {
		if decision, ok := stabilizer.Update(vote); ok {
			decisions = append(decisions, decision)
		}
		clock.Advance(50 * time.Millisecond)
	}

	// 10Hz is interrupted before its hold elapses, 12Hz confirms once it
	// has been held for 200ms, then 10Hz takes over after its own hold.
	assert.Equal(t, []float64{12, 10}, decisions)

	stable, ok := stabilizer.Stable()
	require.True(t, ok)
	assert.Equal(t, 10.0, stable)
}

func TestVoteStabilizerInterruptionRestartsTimer(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	stabilizer := NewVoteStabilizer(100*time.Millisecond, clock)

	_, ok := stabilizer.Update(15)
	assert.False(t, ok)
	clock.Advance(90 * time.Millisecond)

	_, ok = stabilizer.Update(12)
	assert.False(t, ok)
	clock.Advance(90 * time.Millisecond)

	// 15Hz would have been held for 180ms total, but the 12Hz vote in
	// between restarted its timer.
	_, ok = stabilizer.Update(15)
	assert.False(t, ok)
	clock.Advance(110 * time.Millisecond)

	decision, ok := stabilizer.Update(15)
	require.True(t, ok)
	assert.Equal(t, 15.0, decision)
}

func TestVoteStabilizerReset(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	stabilizer := NewVoteStabilizer(100*time.Millisecond, clock)

	stabilizer.Update(10)
	clock.Advance(150 * time.Millisecond)
	_, ok := stabilizer.Update(10)
	require.True(t, ok)

	stabilizer.Reset()
	_, ok = stabilizer.Stable()
	assert.False(t, ok)

	// After a reset the hold starts over.
	_, ok = stabilizer.Update(10)
	assert.False(t, ok)
	clock.Advance(150 * time.Millisecond)
	_, ok = stabilizer.Update(10)
	assert.True(t, ok)
}

func TestVoteStabilizerDefaults(t *testing.T) {
	stabilizer := NewVoteStabilizer(0, nil)
	assert.Equal(t, defaultHoldDuration, stabilizer.holdDuration)
	assert.NotNil(t, stabilizer.clock)
}
