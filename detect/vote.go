package detect

import (
	"log"
	"time"
)

// Clock provides the current time, so the debouncing can be tested with a
// manual clock.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// WallClock is the real time.
var WallClock = ClockFunc(time.Now)

const defaultHoldDuration = 500 * time.Millisecond

// VoteStabilizer converts the stream of per-window classifications into
// debounced, hold-confirmed decisions. A vote must be continuously the same
// for the full hold duration before it becomes the stable decision, any
// interruption restarts the clock.
type VoteStabilizer struct {
	clock        Clock
	holdDuration time.Duration

	currentVote float64
	tracking    bool
	voteStart   time.Time

	stableDecision float64
	hasStable      bool
}

// NewVoteStabilizer creates a stabilizer with the given hold duration. A
// nil clock means wall time.
func NewVoteStabilizer(holdDuration time.Duration, clock Clock) *VoteStabilizer {
	if holdDuration <= 0 {
		holdDuration = defaultHoldDuration
	}
	if clock == nil {
		clock = WallClock
	}
	return &VoteStabilizer{
		clock:        clock,
		holdDuration: holdDuration,
	}
}

// Update feeds the next raw vote. It returns the vote and true once the
// vote has been held continuously for at least the hold duration, otherwise
// it returns false.
func (s *VoteStabilizer) Update(vote float64) (float64, bool) {
	now := s.clock.Now()

	if !s.tracking || vote != s.currentVote {
		s.currentVote = vote
		s.voteStart = now
		s.tracking = true
		return 0, false
	}

	holdTime := now.Sub(s.voteStart)
	if holdTime < s.holdDuration {
		return 0, false
	}

	if !s.hasStable || s.stableDecision != vote {
		log.Printf("stable decision: %vHz (held for %v)", vote, holdTime)
		s.stableDecision = vote
		s.hasStable = true
	}
	return vote, true
}

// Reset clears the tracked vote, the timer, and the stable decision. The
// caller resets on every low-confidence or tied window, so noise cannot
// accumulate hold time across unrelated candidates.
func (s *VoteStabilizer) Reset() {
	s.tracking = false
	s.currentVote = 0
	s.voteStart = time.Time{}
	s.stableDecision = 0
	s.hasStable = false
}

// Stable returns the last hold-confirmed decision, if any.
func (s *VoteStabilizer) Stable() (float64, bool) {
	return s.stableDecision, s.hasStable
}
