package telemetry

import (
	"math/rand/v2"
	"time"
)

// StepDuration is one eighth note at 120 BPM.
const StepDuration = 250 * time.Millisecond

// DemoPattern is the mask the fallback sequencer plays.
const DemoPattern uint16 = 0xEEEE

// Level bands of the fallback sequencer.
const (
	onGateFloor   = 0.8
	onOutputFloor = 0.6
	jitterSpan    = 0.2
	offLevel      = 0.1
)

// Clock is the simulated sequencer used when no host is attached. It is not
// safe for concurrent use; the consumer drives it from one goroutine.
type Clock struct {
	elapsed time.Duration
	step    int
	rng     *rand.Rand
}

// NewClock returns a clock at step 0 whose level jitter comes from seed.
func NewClock(seed uint64) *Clock {
	return &Clock{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Step returns the current step.
func (c *Clock) Step() int {
	return c.step
}

// Advance moves simulated time forward by dt and returns the frame for the
// new position. The step moves once per StepDuration and wraps after 15.
func (c *Clock) Advance(dt time.Duration) Snapshot {
	if dt > 0 {
		c.elapsed += dt
	}
	for c.elapsed >= StepDuration {
		c.elapsed -= StepDuration
		c.step = (c.step + 1) % Steps
	}
	return c.frame()
}

func (c *Clock) frame() Snapshot {
	s := Snapshot{CurrentStep: c.step, StepPattern: DemoPattern}
	if s.StepOn(c.step) {
		s.GateLevel = onGateFloor + c.rng.Float64()*jitterSpan
		s.OutputLevel = onOutputFloor + c.rng.Float64()*jitterSpan
	} else {
		s.GateLevel = offLevel
		s.OutputLevel = offLevel
	}
	return s
}
