// Package trajectory accumulates confirmed track samples into fall paths
// and decides when a trajectory has ended and whether it qualifies as a
// falling object (spec.md §4.6).
package trajectory

import (
	"time"

	"github.com/viam-modules/falling-object-detection/internal/core/boxtrack"
)

// SamplePoint is one observation of a tracked box along its trajectory.
type SamplePoint struct {
	Rect      boxtrack.Rect
	VX, VY    float64
	Timestamp time.Time
}

// CenterX and CenterY report the sample's bounding-box center.
func (s SamplePoint) CenterX() float64 { x, _ := s.Rect.Center(); return x }
func (s SamplePoint) CenterY() float64 { _, y := s.Rect.Center(); return y }

// Trajectory is an ordered, timestamped sequence of samples for a single
// tracked identity, plus a reference copy of the frame captured at
// creation.
type Trajectory struct {
	Tag     int
	Frame   []byte // owned copy, captured once at creation
	Samples []SamplePoint
	Age     int
}

// New creates a Trajectory for tag, copying frame so later mutation by the
// caller cannot affect the stored reference (spec.md §3 Ownership).
func New(tag int, frame []byte) *Trajectory {
	owned := make([]byte, len(frame))
	copy(owned, frame)
	return &Trajectory{Tag: tag, Frame: owned}
}

// Add appends a sample and resets Age to zero.
func (t *Trajectory) Add(r boxtrack.Rect, vx, vy float64, ts time.Time) {
	t.Samples = append(t.Samples, SamplePoint{Rect: r, VX: vx, VY: vy, Timestamp: ts})
	t.Age = 0
}

// IncrementAge advances Age by one frame without a new sample.
func (t *Trajectory) IncrementAge() { t.Age++ }

// ForceExpire sets Age past any plausible maxTrajectoryAge so the next
// sweep ends this trajectory immediately, per spec.md §4.5 step 6.
func (t *Trajectory) ForceExpire() {
	t.Age = len(t.Samples) + 1<<30
}

// GetStartTime returns the timestamp of the first sample, or the zero time
// if there are no samples.
func (t *Trajectory) GetStartTime() time.Time {
	if len(t.Samples) == 0 {
		return time.Time{}
	}
	return t.Samples[0].Timestamp
}

// GetRangeY returns the absolute vertical displacement between the first
// and last sample.
func (t *Trajectory) GetRangeY() float64 {
	if len(t.Samples) < 2 {
		return 0
	}
	first := t.Samples[0].CenterY()
	last := t.Samples[len(t.Samples)-1].CenterY()
	d := last - first
	if d < 0 {
		d = -d
	}
	return d
}

// GetNumSamples returns the number of recorded samples.
func (t *Trajectory) GetNumSamples() int { return len(t.Samples) }

// Qualifies reports whether the trajectory meets the falling-object
// criteria from spec.md §4.5 step 9.
func (t *Trajectory) Qualifies(minSamples int, minFallDistance float64) bool {
	return t.GetNumSamples() >= minSamples && t.GetRangeY() >= minFallDistance
}

// EndCallback is invoked synchronously when a qualifying trajectory ends, at
// most once per tag, from within Tracker.Update (spec.md §6, §9). A
// trajectory that ends without qualifying is dropped silently. Implementations
// MUST NOT retain traj beyond the call.
type EndCallback func(tag int, traj *Trajectory)

// Store owns the set of in-flight trajectories keyed by tag.
type Store struct {
	byTag map[int]*Trajectory
}

// NewStore constructs an empty trajectory store.
func NewStore() *Store {
	return &Store{byTag: make(map[int]*Trajectory)}
}

// GetOrCreate returns the trajectory for tag, creating one from frame if
// absent.
func (s *Store) GetOrCreate(tag int, frame []byte) *Trajectory {
	if traj, ok := s.byTag[tag]; ok {
		return traj
	}
	traj := New(tag, frame)
	s.byTag[tag] = traj
	return traj
}

// Get returns the trajectory for tag, if any.
func (s *Store) Get(tag int) (*Trajectory, bool) {
	traj, ok := s.byTag[tag]
	return traj, ok
}

// Delete drops the trajectory for tag without firing a callback.
func (s *Store) Delete(tag int) { delete(s.byTag, tag) }

// Clear drops every trajectory without firing callbacks.
func (s *Store) Clear() { s.byTag = make(map[int]*Trajectory) }

// SweepExpired ages every trajectory not touched this frame (those present
// in touched get left alone), removing and reporting the ones that have
// exceeded maxAge, per spec.md §4.5 step 9.
func (s *Store) SweepExpired(maxAge, minSamples int, minFallDistance float64, touched map[int]bool, onEnd EndCallback) {
	for tag, traj := range s.byTag {
		if touched[tag] {
			continue
		}
		if traj.Age > maxAge {
			delete(s.byTag, tag)
			if traj.Qualifies(minSamples, minFallDistance) && onEnd != nil {
				onEnd(tag, traj)
			}
			continue
		}
		traj.IncrementAge()
	}
}
