// Package visualize renders a trajectory's recorded samples and fitted
// parabola to a PNG for operator review (spec.md §4.6). It has no role in
// detection; it is a read-only reporting aid over the core's output.
package visualize

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/viam-modules/falling-object-detection/internal/core/trajectory"
)

// curveSteps is the number of points used to draw the fitted parabola
// between the trajectory's first and last horizontal sample positions.
const curveSteps = 64

// TrajectoryPlot renders one trajectory's sample track and fitted fall path.
// title is used as the plot's heading; outputPath is the PNG file to write
// (parent directories are not created by RenderTrajectory).
type TrajectoryPlot struct {
	Title  string
	Width  vg.Length
	Height vg.Length
}

// NewTrajectoryPlot returns a TrajectoryPlot sized for a single-panel PNG.
func NewTrajectoryPlot(title string) TrajectoryPlot {
	return TrajectoryPlot{Title: title, Width: 8 * vg.Inch, Height: 6 * vg.Inch}
}

// RenderTrajectory fits a parabola to traj's samples and writes a PNG to
// outputPath showing the recorded centers as points and the fit as a line.
// It returns an error if the trajectory has too few samples to fit
// (see trajectory.FitParabola).
func (tp TrajectoryPlot) RenderTrajectory(traj *trajectory.Trajectory, outputPath string) error {
	parabola, err := trajectory.FitParabola(traj.Samples)
	if err != nil {
		return errors.Wrapf(err, "rendering trajectory for tag %d", traj.Tag)
	}

	p := plot.New()
	title := tp.Title
	if title == "" {
		title = fmt.Sprintf("Trajectory %d", traj.Tag)
	}
	p.Title.Text = title
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"

	samplePts := make(plotter.XYs, len(traj.Samples))
	minX, maxX := traj.Samples[0].CenterX(), traj.Samples[0].CenterX()
	for i, s := range traj.Samples {
		x, y := s.CenterX(), s.CenterY()
		samplePts[i] = plotter.XY{X: x, Y: y}
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
	}

	scatter, err := plotter.NewScatter(samplePts)
	if err != nil {
		return errors.Wrap(err, "building sample scatter")
	}
	scatter.GlyphStyle.Radius = vg.Points(2)
	p.Add(scatter)
	p.Legend.Add("samples", scatter)

	fitPts := make(plotter.XYs, curveSteps)
	span := maxX - minX
	for i := 0; i < curveSteps; i++ {
		x := minX + span*float64(i)/float64(curveSteps-1)
		fitPts[i] = plotter.XY{X: x, Y: parabola.Eval(x)}
	}
	fitLine, err := plotter.NewLine(fitPts)
	if err != nil {
		return errors.Wrap(err, "building fit line")
	}
	fitLine.Width = vg.Points(1.5)
	p.Add(fitLine)
	p.Legend.Add("fit", fitLine)

	// Image y grows downward; match that so the rendered fall path points
	// the same direction it does on the source frame.
	p.Y.Min, p.Y.Max = invertRange(traj.Samples)

	if err := p.Save(tp.Width, tp.Height, outputPath); err != nil {
		return errors.Wrapf(err, "saving plot to %s", outputPath)
	}
	return nil
}

func invertRange(samples []trajectory.SamplePoint) (min, max float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	min, max = samples[0].CenterY(), samples[0].CenterY()
	for _, s := range samples {
		y := s.CenterY()
		if y < min {
			min = y
		}
		if y > max {
			max = y
		}
	}
	// Invert: the axis max becomes the smallest y (top of frame) and vice
	// versa, so increasing fall distance plots downward like the source.
	return max, min
}

// RenderVelocityHistory plots vertical velocity against sample index, so an
// operator can see acceleration trends across a run without re-deriving
// them from the raw sample list.
func RenderVelocityHistory(traj *trajectory.Trajectory, outputPath string) error {
	if len(traj.Samples) == 0 {
		return errors.New("visualize: trajectory has no samples")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Trajectory %d - Vertical Velocity", traj.Tag)
	p.X.Label.Text = "sample index"
	p.Y.Label.Text = "vy (px/s)"

	pts := make(plotter.XYs, len(traj.Samples))
	for i, s := range traj.Samples {
		pts[i] = plotter.XY{X: float64(i), Y: s.VY}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrap(err, "building velocity line")
	}
	p.Add(line)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, outputPath); err != nil {
		return errors.Wrapf(err, "saving plot to %s", outputPath)
	}
	return nil
}

// BatchRender writes one trajectory plot and one velocity-history plot per
// ended trajectory into outputDir, named by tag and start timestamp so
// repeated runs over the same tag don't collide.
func BatchRender(outputDir string, trajs []*trajectory.Trajectory) (int, error) {
	if len(trajs) == 0 {
		return 0, nil
	}

	sorted := make([]*trajectory.Trajectory, len(trajs))
	copy(sorted, trajs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Tag < sorted[j].Tag })

	count := 0
	for _, traj := range sorted {
		if len(traj.Samples) < 3 {
			continue
		}
		stamp := timestamp(traj.GetStartTime())
		base := fmt.Sprintf("tag_%04d_%s", traj.Tag, stamp)

		tp := NewTrajectoryPlot(fmt.Sprintf("Trajectory %d", traj.Tag))
		if err := tp.RenderTrajectory(traj, filepath.Join(outputDir, base+"_path.png")); err != nil {
			return count, err
		}
		if err := RenderVelocityHistory(traj, filepath.Join(outputDir, base+"_velocity.png")); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("20060102_150405")
}
