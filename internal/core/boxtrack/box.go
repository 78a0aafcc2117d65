// Package boxtrack implements TrackedBox, a constant-velocity bounding-box
// state estimator built on the kalman package (spec.md §4.3).
package boxtrack

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/viam-modules/falling-object-detection/internal/core/kalman"
)

// Rect is an axis-aligned box in float pixel coordinates. Unlike
// image.Rectangle it MAY be negative or degenerate: detections are accepted
// as-is (spec.md §6).
type Rect struct {
	X, Y, W, H float64
}

// Center returns the rectangle's center point.
func (r Rect) Center() (cx, cy float64) {
	return r.X + r.W/2, r.Y + r.H/2
}

const (
	stateDim = 7 // cx, cy, s, r, vx, vy, vs
	measDim  = 4 // cx, cy, s, r
	ctrlDim  = 2 // ax, ay
)

// RectToMeasurement encodes a rect as (cx, cy, area, aspect-ratio).
func RectToMeasurement(r Rect) *mat.VecDense {
	cx, cy := r.Center()
	s := r.W * r.H
	ratio := 0.0
	if r.H != 0 {
		ratio = r.W / r.H
	}
	return mat.NewVecDense(measDim, []float64{cx, cy, s, ratio})
}

// MeasurementToRect decodes (cx, cy, s, r) back into a rectangle. If s or r
// is negative the zero rectangle is returned, per spec.md §4.3.
func MeasurementToRect(cx, cy, s, r float64) Rect {
	if s < 0 || r < 0 {
		return Rect{}
	}
	w := math.Sqrt(s * r)
	h := 0.0
	if w != 0 {
		h = s / w
	}
	return Rect{X: cx - w/2, Y: cy - h/2, W: w, H: h}
}

// Box is a tracked bounding box: a StateEstimator with the bbox-specific
// measurement encoding and SORT-style lifecycle bookkeeping.
type Box struct {
	Tag int

	filter *kalman.Filter
	dt     float64

	Age       int
	Hits      int
	HitStreak int
}

// New creates a Box from an initial detection rect, seeding position from
// the measurement and velocities at zero, per spec.md §4.3's initial
// conditions.
func New(tag int, r Rect, dt float64) *Box {
	f := kalman.New(stateDim, measDim, ctrlDim)
	z := RectToMeasurement(r)
	for i := 0; i < measDim; i++ {
		f.X.SetVec(i, z.AtVec(i))
	}

	for i, v := range []float64{10, 10, 10, 10, 1e4, 1e4, 1e4} {
		f.P.Set(i, i, v)
	}

	f.F = identity(stateDim)
	f.F.Set(0, 4, dt)
	f.F.Set(1, 5, dt)
	f.F.Set(2, 6, dt)

	for i, v := range []float64{1, 1, 1, 1e-2, 1e-2, 1e-2, 1e-4} {
		f.Q.Set(i, i, v)
	}

	for i, v := range []float64{1, 1, 10, 10} {
		f.R.Set(i, i, v)
	}

	for i := 0; i < 4; i++ {
		f.H.Set(i, i, 1)
	}

	// Constant-acceleration kinematics: positions get 1/2*dt^2, velocities dt.
	half := 0.5 * dt * dt
	f.B.Set(0, 0, half)
	f.B.Set(1, 1, half)
	f.B.Set(4, 0, dt)
	f.B.Set(5, 1, dt)

	return &Box{Tag: tag, filter: f, dt: dt}
}

func identity(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

// Predict advances the box one frame under constant bias control a and
// returns the predicted rectangle.
func (b *Box) Predict(a [2]float64) Rect {
	b.Age++
	u := mat.NewVecDense(ctrlDim, a[:])
	x := b.filter.Predict(u)
	return MeasurementToRect(x.AtVec(0), x.AtVec(1), x.AtVec(2), x.AtVec(3))
}

// Update incorporates a matched detection rect and returns the corrected
// rectangle, per spec.md §4.3.
func (b *Box) Update(r Rect) (Rect, error) {
	b.Hits++
	if b.Age == 1 {
		b.HitStreak++
	} else {
		b.HitStreak = 0
	}
	b.Age = 0

	z := RectToMeasurement(r)
	x, err := b.filter.Update(z)
	if err != nil {
		return Rect{}, err
	}
	return MeasurementToRect(x.AtVec(0), x.AtVec(1), x.AtVec(2), x.AtVec(3)), nil
}

// CurrentRect returns the box's current state decoded back into a
// rectangle, without advancing the filter.
func (b *Box) CurrentRect() Rect {
	x := b.filter.X
	return MeasurementToRect(x.AtVec(0), x.AtVec(1), x.AtVec(2), x.AtVec(3))
}

// Velocity returns the box's current (vx, vy) state components.
func (b *Box) Velocity() (vx, vy float64) {
	x := b.filter.X
	return x.AtVec(4), x.AtVec(5)
}

// IOU returns the intersection-over-union of two rectangles, 0 when
// disjoint or degenerate.
func IOU(a, b Rect) float64 {
	ax0, ay0, ax1, ay1 := a.X, a.Y, a.X+a.W, a.Y+a.H
	bx0, by0, bx1, by1 := b.X, b.Y, b.X+b.W, b.Y+b.H

	ix0, iy0 := math.Max(ax0, bx0), math.Max(ay0, by0)
	ix1, iy1 := math.Min(ax1, bx1), math.Min(ay1, by1)
	iw, ih := ix1-ix0, iy1-iy0
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	areaA := math.Abs(a.W * a.H)
	areaB := math.Abs(b.W * b.H)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
