// Package tracker implements the multi-object tracker described in
// spec.md §4.5: constant-velocity box prediction, IoU-based Hungarian
// association, and promotion of confirmed tracks into trajectories.
package tracker

import (
	"time"

	"github.com/viam-modules/falling-object-detection/internal/core/assign"
	"github.com/viam-modules/falling-object-detection/internal/core/boxtrack"
	"github.com/viam-modules/falling-object-detection/internal/core/trajectory"
)

// Defaults mirror spec.md §4.5.
const (
	DefaultMaxBBoxAge               = 2
	DefaultMinBBoxHitStreak         = 3
	DefaultMaxTrajectoryAge         = 15
	DefaultMinTrajectoryNumSamples  = 16
	DefaultMinTrajectoryFallDistance = 128
	DefaultIOUThreshold              = 0.25
)

// gravityBias is the constant-bias control applied to every track
// prediction: mild downward acceleration plus a touch of x-drift.
var gravityBias = [2]float64{0.05, 0.7}

// Params configures tracker thresholds. DefaultParams returns the spec
// defaults; New replaces only a zero DT (with 1/30 s) and uses every other
// field as given.
type Params struct {
	MaxBBoxAge                int
	MinBBoxHitStreak          int
	MaxTrajectoryAge          int
	MinTrajectoryNumSamples   int
	MinTrajectoryFallDistance float64
	IOUThreshold              float64
	DT                        float64 // seconds per frame step, for the Kalman transition
}

// DefaultParams returns spec.md's default tuning.
func DefaultParams() Params {
	return Params{
		MaxBBoxAge:                DefaultMaxBBoxAge,
		MinBBoxHitStreak:          DefaultMinBBoxHitStreak,
		MaxTrajectoryAge:          DefaultMaxTrajectoryAge,
		MinTrajectoryNumSamples:   DefaultMinTrajectoryNumSamples,
		MinTrajectoryFallDistance: DefaultMinTrajectoryFallDistance,
		IOUThreshold:              DefaultIOUThreshold,
		DT:                        1.0 / 30,
	}
}

// Tracker owns every TrackedBox and Trajectory for the lifetime of a run,
// keyed by a monotonically increasing tag (spec.md §3).
type Tracker struct {
	params Params
	nextTag int

	tracks map[int]*boxtrack.Box
	trajs  *trajectory.Store

	onEnd trajectory.EndCallback
}

// New constructs an empty Tracker. onEnd, if non-nil, is invoked
// synchronously from within Update at most once per tag.
func New(params Params, onEnd trajectory.EndCallback) *Tracker {
	if params.DT == 0 {
		params.DT = 1.0 / 30
	}
	return &Tracker{
		params: params,
		tracks: make(map[int]*boxtrack.Box),
		trajs:  trajectory.NewStore(),
		onEnd:  onEnd,
	}
}

func (t *Tracker) newTag() int {
	tag := t.nextTag
	t.nextTag++
	return tag
}

// Clear drops all tracks and trajectories without firing callbacks.
func (t *Tracker) Clear() {
	t.tracks = make(map[int]*boxtrack.Box)
	t.trajs.Clear()
}

// NumTracks reports the number of live tracks (for tests/diagnostics).
func (t *Tracker) NumTracks() int { return len(t.tracks) }

// ActiveBoxes returns the current rectangle of every live track, keyed by
// tag, without advancing any filter. Callers that need to surface the
// tracker's state (a vision-service wrapper reporting detections, a
// visualizer) use this instead of reaching into Tracker's internals.
func (t *Tracker) ActiveBoxes() map[int]boxtrack.Rect {
	out := make(map[int]boxtrack.Rect, len(t.tracks))
	for tag, box := range t.tracks {
		out[tag] = box.CurrentRect()
	}
	return out
}

// Update runs one full tracking step over a frame's detections, per the
// ordered algorithm in spec.md §4.5.
func (t *Tracker) Update(detections []boxtrack.Rect, frame []byte, ts time.Time) {
	// Step 1: bootstrap.
	if len(t.tracks) == 0 {
		for _, d := range detections {
			tag := t.newTag()
			t.tracks[tag] = boxtrack.New(tag, d, t.params.DT)
		}
		return
	}

	// Step 2: predict.
	tags := make([]int, 0, len(t.tracks))
	preds := make([]boxtrack.Rect, 0, len(t.tracks))
	for tag, box := range t.tracks {
		tags = append(tags, tag)
		preds = append(preds, box.Predict(gravityBias))
	}

	// Step 3: cost matrix of IoU.
	cost := make([][]float64, len(preds))
	for i, p := range preds {
		row := make([]float64, len(detections))
		for j, d := range detections {
			row[j] = boxtrack.IOU(p, d)
		}
		cost[i] = row
	}

	// Step 4: solve in maximize mode.
	result, err := assign.Solve(cost, true)
	if err != nil {
		// Assignment cost is always finite IoU in [0,1]; a solver failure
		// here indicates a programmer error (spec.md §7).
		panic(err)
	}

	// Step 5: apply matches.
	matchedDet := make(map[int]bool, len(detections))
	for i, tag := range tags {
		j := -1
		if result.Assign != nil {
			j = result.Assign[i]
		}
		if j == -1 {
			continue
		}
		if cost[i][j] > t.params.IOUThreshold {
			if _, err := t.tracks[tag].Update(detections[j]); err != nil {
				panic(err)
			}
			matchedDet[j] = true
		}
		// else: left unmatched on both sides. The track is not updated, and
		// detection j stays out of matchedDet, so step 7 spawns a track for it.
	}

	// Step 6: expire stale tracks, force-ending their trajectories.
	for tag, box := range t.tracks {
		if box.Age > t.params.MaxBBoxAge {
			delete(t.tracks, tag)
			if traj, ok := t.trajs.Get(tag); ok {
				traj.ForceExpire()
			}
		}
	}

	// Step 7: spawn new tracks for unmatched detections.
	for j, d := range detections {
		if matchedDet[j] {
			continue
		}
		tag := t.newTag()
		t.tracks[tag] = boxtrack.New(tag, d, t.params.DT)
	}

	// Step 8: promote qualifying tracks to trajectories.
	touched := make(map[int]bool)
	for tag, box := range t.tracks {
		if box.HitStreak < t.params.MinBBoxHitStreak {
			continue
		}
		traj := t.trajs.GetOrCreate(tag, frame)
		vx, vy := box.Velocity()
		traj.Add(box.CurrentRect(), vx, vy, ts)
		touched[tag] = true
	}

	// Step 9: age and sweep trajectories, firing callbacks for qualifiers.
	t.trajs.SweepExpired(t.params.MaxTrajectoryAge, t.params.MinTrajectoryNumSamples, t.params.MinTrajectoryFallDistance, touched, t.onEnd)
}
