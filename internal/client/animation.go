package client

import (
	"errors"
	"math"
	"sync"
	"time"
)

const (
	// fullRotations is the number of visible extra turns before the wheel
	// settles.
	fullRotations = 5
	// spinDuration is the fixed length of the reveal animation.
	spinDuration = 4000 * time.Millisecond
	// pointerAngle is where the fixed pointer sits on the wheel.
	pointerAngle = -math.Pi / 2
	// audioPulseCount is the number of tick sounds scheduled per spin.
	audioPulseCount = 24
)

var (
	errInvalidSegments = errors.New("client: segment count must be positive")
	errInvalidTarget   = errors.New("client: target index out of range")
)

// AnimationPlan is a fully decided reveal: the outcome is fixed before the
// animation starts, the timer only chooses when to show it. The reported
// goal id is the planned one, never re-derived from the rendered angle.
type AnimationPlan struct {
	GoalID       int
	TargetIndex  int
	SegmentCount int
	Rotation     float64
	Duration     time.Duration
	AudioPulses  []time.Duration
}

// TimerFactory schedules a single callback after a delay and returns a stop
// function. Injected so tests control time.
type TimerFactory func(d time.Duration, fn func()) (stop func())

func defaultTimerFactory(d time.Duration, fn func()) func() {
	timer := time.AfterFunc(d, fn)
	return func() { timer.Stop() }
}

// AnimationSynchronizer converts an authoritative outcome into a
// deterministic rotation and reveal schedule.
type AnimationSynchronizer struct {
	newTimer TimerFactory
}

// NewAnimationSynchronizer constructs a synchronizer; a nil factory uses
// real timers.
func NewAnimationSynchronizer(newTimer TimerFactory) *AnimationSynchronizer {
	if newTimer == nil {
		newTimer = defaultTimerFactory
	}
	return &AnimationSynchronizer{newTimer: newTimer}
}

// Plan computes the rotation that lands segment targetIndex under the
// pointer after the fixed number of full turns. The audio pulse offsets are
// pure functions of elapsed-time fractions of the same duration and feed
// nothing back into the rotation.
func (s *AnimationSynchronizer) Plan(segmentCount, targetIndex, goalID int) (AnimationPlan, error) {
	if segmentCount <= 0 {
		return AnimationPlan{}, errInvalidSegments
	}
	if targetIndex < 0 || targetIndex >= segmentCount {
		return AnimationPlan{}, errInvalidTarget
	}

	rotation := pointerAngle - segmentCenter(segmentCount, targetIndex) - fullRotations*2*math.Pi

	pulses := make([]time.Duration, 0, audioPulseCount)
	for i := 1; i <= audioPulseCount; i++ {
		// Quadratic spacing: pulses cluster early and thin out as the
		// wheel decelerates.
		fraction := float64(i) / float64(audioPulseCount)
		pulses = append(pulses, time.Duration(fraction*fraction*float64(spinDuration)))
	}

	return AnimationPlan{
		GoalID:       goalID,
		TargetIndex:  targetIndex,
		SegmentCount: segmentCount,
		Rotation:     rotation,
		Duration:     spinDuration,
		AudioPulses:  pulses,
	}, nil
}

// RunningAnimation is one started reveal.
type RunningAnimation struct {
	stop func()
	once sync.Once
}

// Stop cancels a pending completion. A completion that already fired stays
// fired.
func (r *RunningAnimation) Stop() {
	if r.stop != nil {
		r.stop()
	}
}

// Start schedules the completion callback at the plan's duration. It fires
// exactly once and reports the planned goal id.
func (s *AnimationSynchronizer) Start(plan AnimationPlan, onComplete func(goalID int)) *RunningAnimation {
	running := &RunningAnimation{}
	running.stop = s.newTimer(plan.Duration, func() {
		running.once.Do(func() {
			onComplete(plan.GoalID)
		})
	})
	return running
}

// segmentCenter returns the center angle of segment index on a wheel of n
// equal segments, measured from angle zero.
func segmentCenter(n, index int) float64 {
	segmentArc := 2 * math.Pi / float64(n)
	return (float64(index) + 0.5) * segmentArc
}
