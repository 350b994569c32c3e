package client

import (
	"math"
	"testing"
	"time"
)

// normalize maps an angle into [0, 2π).
func normalize(angle float64) float64 {
	twoPi := 2 * math.Pi
	angle = math.Mod(angle, twoPi)
	if angle < 0 {
		angle += twoPi
	}
	return angle
}

func TestPlanLandsTargetSegmentUnderPointer(t *testing.T) {
	synchronizer := NewAnimationSynchronizer(nil)

	for segments := 1; segments <= 32; segments++ {
		for target := 0; target < segments; target++ {
			plan, err := synchronizer.Plan(segments, target, target+1)
			if err != nil {
				t.Fatalf("unexpected plan error for n=%d k=%d: %v", segments, target, err)
			}

			// After the rotation, the target segment's center must sit at
			// the pointer angle.
			settled := normalize(segmentCenter(segments, target) + plan.Rotation)
			pointer := normalize(pointerAngle)
			if diff := math.Abs(settled - pointer); diff > 1e-9 && math.Abs(diff-2*math.Pi) > 1e-9 {
				t.Fatalf("n=%d k=%d: settled %f, pointer %f", segments, target, settled, pointer)
			}

			// The extra turns are exactly the fixed visible spin count.
			total := pointerAngle - segmentCenter(segments, target) - plan.Rotation
			turns := total / (2 * math.Pi)
			if math.Abs(turns-fullRotations) > 1e-9 {
				t.Fatalf("n=%d k=%d: expected %d full turns, got %f", segments, target, fullRotations, turns)
			}
		}
	}
}

func TestPlanValidatesInputs(t *testing.T) {
	synchronizer := NewAnimationSynchronizer(nil)

	if _, err := synchronizer.Plan(0, 0, 1); err == nil {
		t.Fatalf("expected error for zero segments")
	}
	if _, err := synchronizer.Plan(17, 17, 1); err == nil {
		t.Fatalf("expected error for out-of-range target")
	}
	if _, err := synchronizer.Plan(17, -1, 1); err == nil {
		t.Fatalf("expected error for negative target")
	}
}

func TestPlanDurationAndPulseSchedule(t *testing.T) {
	synchronizer := NewAnimationSynchronizer(nil)

	plan, err := synchronizer.Plan(17, 12, 13)
	if err != nil {
		t.Fatalf("unexpected plan error: %v", err)
	}
	if plan.Duration != 4000*time.Millisecond {
		t.Fatalf("unexpected duration %s", plan.Duration)
	}
	if len(plan.AudioPulses) == 0 {
		t.Fatalf("expected a pulse schedule")
	}

	// Offsets grow monotonically, stay within the duration, and the gaps
	// widen as the wheel decelerates.
	previousOffset := time.Duration(0)
	previousGap := time.Duration(0)
	for i, offset := range plan.AudioPulses {
		if offset <= previousOffset {
			t.Fatalf("pulse %d does not advance: %s after %s", i, offset, previousOffset)
		}
		if offset > plan.Duration {
			t.Fatalf("pulse %d beyond duration: %s", i, offset)
		}
		gap := offset - previousOffset
		if gap < previousGap {
			t.Fatalf("pulse %d gap shrank: %s after %s", i, gap, previousGap)
		}
		previousOffset = offset
		previousGap = gap
	}
}

func TestStartFiresCompletionOnceWithPlannedGoal(t *testing.T) {
	var scheduled func()
	var scheduledDelay time.Duration
	synchronizer := NewAnimationSynchronizer(func(d time.Duration, fn func()) func() {
		scheduledDelay = d
		scheduled = fn
		return func() {}
	})

	plan, err := synchronizer.Plan(17, 12, 13)
	if err != nil {
		t.Fatalf("unexpected plan error: %v", err)
	}

	var reported []int
	synchronizer.Start(plan, func(goalID int) {
		reported = append(reported, goalID)
	})

	if scheduledDelay != plan.Duration {
		t.Fatalf("completion scheduled at %s, want %s", scheduledDelay, plan.Duration)
	}
	if len(reported) != 0 {
		t.Fatalf("completion fired before the timer")
	}

	scheduled()
	scheduled()

	if len(reported) != 1 {
		t.Fatalf("expected exactly one completion, got %d", len(reported))
	}
	if reported[0] != 13 {
		t.Fatalf("completion must report the planned goal, got %d", reported[0])
	}
}

func TestStopPreventsPendingCompletion(t *testing.T) {
	stopped := false
	synchronizer := NewAnimationSynchronizer(func(_ time.Duration, _ func()) func() {
		return func() { stopped = true }
	})

	plan, err := synchronizer.Plan(17, 0, 1)
	if err != nil {
		t.Fatalf("unexpected plan error: %v", err)
	}
	running := synchronizer.Start(plan, func(int) {})
	running.Stop()

	if !stopped {
		t.Fatalf("expected the timer to be stopped")
	}
}
