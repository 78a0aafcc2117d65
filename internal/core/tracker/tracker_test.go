package tracker

import (
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/viam-modules/falling-object-detection/internal/core/boxtrack"
	"github.com/viam-modules/falling-object-detection/internal/core/trajectory"
)

func frame() []byte { return []byte{1, 2, 3} }

// Scenario A: a single falling rectangle should produce exactly one
// end-of-trajectory callback with a qualifying sample count and fall
// distance.
func TestSingleFallingRectangleFiresOneCallback(t *testing.T) {
	var ended []*trajectory.Trajectory
	tr := New(DefaultParams(), func(tag int, traj *trajectory.Trajectory) {
		ended = append(ended, traj)
	})

	base := time.Unix(0, 0)
	for k := 0; k < 30; k++ {
		r := boxtrack.Rect{X: 500, Y: 50 + float64(10*k), W: 40, H: 60}
		ts := base.Add(time.Duration(k) * 33 * time.Millisecond)
		tr.Update([]boxtrack.Rect{r}, frame(), ts)
	}
	// Drain the track so its trajectory force-ends.
	for k := 0; k < DefaultMaxBBoxAge+2; k++ {
		tr.Update(nil, frame(), base)
	}

	test.That(t, len(ended), test.ShouldEqual, 1)
	test.That(t, ended[0].GetNumSamples() >= DefaultMinTrajectoryNumSamples, test.ShouldBeTrue)
	test.That(t, ended[0].GetRangeY() >= DefaultMinTrajectoryFallDistance, test.ShouldBeTrue)
}

// Scenario C: a single-frame noise blob should never reach the hit-streak
// threshold and should be removed by maxBBoxAge+1 frames later.
func TestTransientNoiseNeverPromotes(t *testing.T) {
	var ended []*trajectory.Trajectory
	tr := New(DefaultParams(), func(tag int, traj *trajectory.Trajectory) {
		ended = append(ended, traj)
	})

	base := time.Unix(0, 0)
	tr.Update([]boxtrack.Rect{{X: 10, Y: 10, W: 5, H: 5}}, frame(), base) // bootstrap
	tr.Update(nil, frame(), base)                                        // blob vanishes

	for k := 0; k < DefaultMaxBBoxAge+1; k++ {
		tr.Update(nil, frame(), base)
	}

	test.That(t, tr.NumTracks(), test.ShouldEqual, 0)
	test.That(t, len(ended), test.ShouldEqual, 0)
}

// Scenario 11: empty detections never create tracks.
func TestEmptyDetectionsCreateNoTracks(t *testing.T) {
	tr := New(DefaultParams(), nil)
	tr.Update(nil, frame(), time.Unix(0, 0))
	test.That(t, tr.NumTracks(), test.ShouldEqual, 0)
}

// Bootstrap: the first call with detections seeds one track per detection.
func TestBootstrapCreatesOneTrackPerDetection(t *testing.T) {
	tr := New(DefaultParams(), nil)
	dets := []boxtrack.Rect{{X: 0, Y: 0, W: 10, H: 10}, {X: 100, Y: 100, W: 10, H: 10}}
	tr.Update(dets, frame(), time.Unix(0, 0))
	test.That(t, tr.NumTracks(), test.ShouldEqual, 2)
}

// Tags must never repeat across a run, even as tracks are created and
// removed.
func TestTagsAreMonotonicAndNeverReused(t *testing.T) {
	tr := New(DefaultParams(), nil)
	base := time.Unix(0, 0)
	tr.Update([]boxtrack.Rect{{X: 0, Y: 0, W: 10, H: 10}}, frame(), base)
	test.That(t, tr.nextTag, test.ShouldEqual, 1)

	for k := 0; k < DefaultMaxBBoxAge+2; k++ {
		tr.Update(nil, frame(), base) // let it expire
	}
	test.That(t, tr.NumTracks(), test.ShouldEqual, 0)

	tr.Update([]boxtrack.Rect{{X: 0, Y: 0, W: 10, H: 10}}, frame(), base)
	var newTag int
	for tag := range tr.tracks {
		newTag = tag
	}
	test.That(t, newTag, test.ShouldEqual, 1)
	test.That(t, tr.nextTag, test.ShouldEqual, 2)
}

// Crossing rectangles: tags assigned at frame 0 should persist through a
// close pass as long as each prediction keeps its own detection's IoU
// above threshold.
func TestCrossingRectanglesKeepTags(t *testing.T) {
	tr := New(DefaultParams(), nil)
	base := time.Unix(0, 0)

	a := boxtrack.Rect{X: 0, Y: 50, W: 20, H: 20}
	b := boxtrack.Rect{X: 100, Y: 50, W: 20, H: 20}
	tr.Update([]boxtrack.Rect{a, b}, frame(), base)
	test.That(t, tr.NumTracks(), test.ShouldEqual, 2)

	var tagA, tagB int
	for tag, box := range tr.tracks {
		r := box.CurrentRect()
		if r.X < 50 {
			tagA = tag
		} else {
			tagB = tag
		}
	}

	// Small per-frame steps keep consecutive-frame IoU high even before the
	// filter's velocity estimate converges, so the two tracks cross paths
	// around frame 10 without ever going fully unmatched.
	for k := 1; k <= 20; k++ {
		a.X += 5
		b.X -= 5
		tr.Update([]boxtrack.Rect{a, b}, frame(), base)
	}

	test.That(t, tr.NumTracks(), test.ShouldEqual, 2)
	_, okA := tr.tracks[tagA]
	_, okB := tr.tracks[tagB]
	test.That(t, okA, test.ShouldBeTrue)
	test.That(t, okB, test.ShouldBeTrue)
}

func TestActiveBoxesReflectsCurrentTracks(t *testing.T) {
	tr := New(DefaultParams(), nil)
	tr.Update([]boxtrack.Rect{{X: 0, Y: 0, W: 10, H: 10}}, frame(), time.Unix(0, 0))
	boxes := tr.ActiveBoxes()
	test.That(t, len(boxes), test.ShouldEqual, 1)
}

func TestClearDropsStateWithoutCallbacks(t *testing.T) {
	var ended int
	tr := New(DefaultParams(), func(tag int, traj *trajectory.Trajectory) { ended++ })
	tr.Update([]boxtrack.Rect{{X: 0, Y: 0, W: 10, H: 10}}, frame(), time.Unix(0, 0))
	tr.Clear()
	test.That(t, tr.NumTracks(), test.ShouldEqual, 0)
	test.That(t, ended, test.ShouldEqual, 0)
}
