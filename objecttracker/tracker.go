// Package objecttracker implements a Viam vision service that wraps the
// falling-object detection core (internal/core/tracker) around an upstream
// detector, surfacing end-of-trajectory events as classifications and
// current tracks as detections.
package objecttracker

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/gostream"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/vision"
	vis "go.viam.com/rdk/vision"
	"go.viam.com/rdk/vision/classification"
	objdet "go.viam.com/rdk/vision/objectdetection"
	"go.viam.com/rdk/vision/viscapture"
	viamutils "go.viam.com/utils"

	"github.com/viam-modules/falling-object-detection/internal/core/boxtrack"
	coretracker "github.com/viam-modules/falling-object-detection/internal/core/tracker"
	"github.com/viam-modules/falling-object-detection/internal/core/trajectory"
	"github.com/viam-modules/falling-object-detection/internal/detectfilter"
)

const (
	// ModelName is the name of the model.
	ModelName = "falling-object-detector"
	// FallDetectedLabel is the classification label announced for one
	// cooldown period after an end-of-trajectory callback fires.
	FallDetectedLabel = "fall-detected"
)

var (
	// Model is this module's colon-delimited-triplet identity.
	Model            = resource.NewModel("viam", "vision", ModelName)
	errUnimplemented = errors.New("unimplemented")

	// DefaultMaxFrequency is the polling rate, in Hz, when not configured.
	DefaultMaxFrequency = 10.0
	// DefaultMinConfidence is the detector score cutoff when not configured.
	DefaultMinConfidence = 0.2
	// DefaultTriggerCoolDown is how long a fall classification stays pulsed.
	DefaultTriggerCoolDown = 5.0
	// DefaultLogBufferSize caps how many ended-trajectory summaries are kept
	// for DoCommand("logs").
	DefaultLogBufferSize = 256
)

func init() {
	resource.RegisterService(vision.API, Model, resource.Registration[vision.Service, *Config]{
		Constructor: newObjectTracker,
	})
}

// Config contains the names of the dependent resources and the core's
// tuning knobs, mirroring spec.md §6's configuration table.
type Config struct {
	CameraName      string             `json:"camera_name"`
	DetectorName    string             `json:"detector_name"`
	ChosenLabels    map[string]float64 `json:"chosen_labels"`
	MaxFrequency    float64            `json:"max_frequency_hz"`
	MinConfidence   *float64           `json:"min_confidence,omitempty"`
	TriggerCoolDown *float64           `json:"trigger_cool_down_s,omitempty"`
	LogBufferSize   int                `json:"log_buffer_size,omitempty"`

	MaxBBoxAge                *int     `json:"max_bbox_age,omitempty"`
	MinBBoxHitStreak          *int     `json:"min_bbox_hit_streak,omitempty"`
	MaxTrajectoryAge          *int     `json:"max_trajectory_age,omitempty"`
	MinTrajectoryNumSamples   *int     `json:"min_trajectory_num_samples,omitempty"`
	MinTrajectoryFallDistance *float64 `json:"min_trajectory_fall_distance,omitempty"`
	IOUThreshold              *float64 `json:"iou_threshold,omitempty"`
}

// Validate checks the config and returns the implicit dependencies (camera
// and detector) so the resource graph can wire them up.
func (cfg *Config) Validate(path string) ([]string, error) {
	if cfg.CameraName == "" {
		return nil, fmt.Errorf(`expected "camera_name" attribute for %q`, path)
	}
	if cfg.DetectorName == "" {
		return nil, fmt.Errorf(`expected "detector_name" attribute for %q`, path)
	}
	if cfg.MaxFrequency < 0 {
		return nil, errors.New("max_frequency_hz must not be negative")
	}
	if cfg.MinConfidence != nil && (*cfg.MinConfidence < 0 || *cfg.MinConfidence > 1) {
		return nil, errors.New("min_confidence must be between 0 and 1")
	}
	if cfg.TriggerCoolDown != nil && *cfg.TriggerCoolDown < 0 {
		return nil, errors.New("trigger_cool_down_s must not be negative")
	}
	if cfg.IOUThreshold != nil && (*cfg.IOUThreshold < 0 || *cfg.IOUThreshold > 1) {
		return nil, errors.New("iou_threshold must be between 0 and 1")
	}
	return []string{cfg.CameraName, cfg.DetectorName}, nil
}

func (cfg *Config) trackerParams() coretracker.Params {
	p := coretracker.DefaultParams()
	if cfg.MaxBBoxAge != nil {
		p.MaxBBoxAge = *cfg.MaxBBoxAge
	}
	if cfg.MinBBoxHitStreak != nil {
		p.MinBBoxHitStreak = *cfg.MinBBoxHitStreak
	}
	if cfg.MaxTrajectoryAge != nil {
		p.MaxTrajectoryAge = *cfg.MaxTrajectoryAge
	}
	if cfg.MinTrajectoryNumSamples != nil {
		p.MinTrajectoryNumSamples = *cfg.MinTrajectoryNumSamples
	}
	if cfg.MinTrajectoryFallDistance != nil {
		p.MinTrajectoryFallDistance = *cfg.MinTrajectoryFallDistance
	}
	if cfg.IOUThreshold != nil {
		p.IOUThreshold = *cfg.IOUThreshold
	}
	return p
}

// fallEvent is a compact summary of a qualifying trajectory, kept for
// DoCommand("logs").
type fallEvent struct {
	Tag          int       `json:"tag"`
	Label        string    `json:"label"`
	NumSamples   int       `json:"num_samples"`
	FallDistance float64   `json:"fall_distance_px"`
	EndedAt      time.Time `json:"ended_at"`
}

type currentDetections struct {
	mutex sync.RWMutex
	dets  []objdet.Detection
}

type eventLog struct {
	mutex sync.RWMutex
	log   []fallEvent
	size  int
}

func newEventLog(size int) *eventLog {
	return &eventLog{log: make([]fallEvent, 0, size), size: size}
}

func (e *eventLog) append(ev fallEvent) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.log = append(e.log, ev)
	if len(e.log) > e.size {
		e.log = e.log[len(e.log)-e.size:]
	}
}

func (e *eventLog) snapshot() []fallEvent {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	out := make([]fallEvent, len(e.log))
	copy(out, e.log)
	return out
}

type myTracker struct {
	resource.Named
	logger        logging.Logger
	cancelFunc    context.CancelFunc
	cancelContext context.Context

	triggerCancelFunc context.CancelFunc
	triggerContext    context.Context

	activeBackgroundWorkers sync.WaitGroup

	core  *coretracker.Tracker
	namer *detectfilter.Namer

	currDetections currentDetections
	currImg        atomic.Pointer[image.Image]
	events         *eventLog

	newInstance atomic.Bool
	coolDown    float64
	properties  vision.Properties

	cam           camera.Camera
	camName       string
	detector      vision.Service
	frequency     float64
	minConfidence float64
	chosenLabels  map[string]float64

	timeStatsMutex sync.Mutex
	timeStats      []time.Duration
}

func newObjectTracker(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (vision.Service, error) {
	t := &myTracker{
		Named:  conf.ResourceName().AsNamed(),
		logger: logger,
		namer:  detectfilter.NewNamer(),
		properties: vision.Properties{
			ClassificationSupported: true,
			DetectionSupported:      true,
			ObjectPCDsSupported:     false,
		},
	}

	if err := t.Reconfigure(ctx, deps, conf); err != nil {
		return nil, err
	}

	cancelableCtx, cancel := context.WithCancel(context.Background())
	t.cancelFunc = cancel
	t.cancelContext = cancelableCtx

	stream, err := t.cam.Stream(t.cancelContext, nil)
	if err != nil {
		return nil, err
	}

	t.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		t.run(stream, t.cancelContext)
	}, func() {
		t.cancelFunc()
		stream.Close(t.cancelContext)
		t.activeBackgroundWorkers.Done()
	})

	return t, nil
}

// onTrajectoryEnd is the core's end-of-trajectory callback: it pulses the
// fall-detected classification and records a log entry.
func (t *myTracker) onTrajectoryEnd(tag int, traj *trajectory.Trajectory) {
	t.trigger()
	// A tag that was reported as a detection already has a name, which
	// NameForTag returns unchanged; otherwise a generic "object" name is minted.
	label := t.namer.NameForTag(tag, objdet.NewDetection(image.Rectangle{}, 0, "object"), time.Now())
	t.namer.Forget(tag)

	t.events.append(fallEvent{
		Tag:          tag,
		Label:        label,
		NumSamples:   traj.GetNumSamples(),
		FallDistance: traj.GetRangeY(),
		EndedAt:      time.Now(),
	})
}

// run is a cancelable polling loop: pull a frame and the upstream detector's
// output, convert boxes, and hand them to the core tracker.
func (t *myTracker) run(stream gostream.VideoStream, cancelableCtx context.Context) {
	for {
		select {
		case <-cancelableCtx.Done():
			return
		default:
			start := time.Now()
			img, _, err := stream.Next(cancelableCtx)
			if err != nil {
				t.logger.Errorf("can't get image: %s", err)
				continue
			}
			if img == nil {
				t.logger.Error("got nil image")
				continue
			}

			detections, err := t.detector.Detections(cancelableCtx, img, nil)
			if err != nil {
				t.logger.Errorf("can't get detections: %s", err)
				continue
			}
			filtered := detectfilter.Filter(t.chosenLabels, detections, t.minConfidence)

			rects := make([]boxtrack.Rect, len(filtered))
			for i, d := range filtered {
				bb := d.BoundingBox()
				rects[i] = boxtrack.Rect{
					X: float64(bb.Min.X),
					Y: float64(bb.Min.Y),
					W: float64(bb.Dx()),
					H: float64(bb.Dy()),
				}
			}

			frame := imageToBGRBytes(img)
			updateStart := time.Now()
			t.core.Update(rects, frame, start)
			updateTook := time.Since(updateStart)

			t.currDetections.mutex.Lock()
			t.currDetections.dets = labelActiveBoxes(t.core, t.namer, filtered, start)
			t.currDetections.mutex.Unlock()
			t.currImg.Store(&img)

			took := time.Since(start)
			t.timeStatsMutex.Lock()
			t.timeStats = append(t.timeStats, updateTook)
			t.timeStatsMutex.Unlock()

			waitFor := time.Duration((1/t.frequency)*float64(time.Second)) - took
			if waitFor > time.Microsecond {
				select {
				case <-cancelableCtx.Done():
					return
				case <-time.After(waitFor):
				}
			}
		}
	}
}

// labelActiveBoxes turns the tracker's current rectangles into detections
// labeled via namer. Each box borrows its score and base class name from
// whichever filtered detection overlaps it most this frame, falling back to
// a generic label for boxes under pure prediction (no matching detection).
func labelActiveBoxes(core *coretracker.Tracker, namer *detectfilter.Namer, filtered []objdet.Detection, now time.Time) []objdet.Detection {
	boxes := core.ActiveBoxes()
	out := make([]objdet.Detection, 0, len(boxes))
	for tag, r := range boxes {
		bb := image.Rect(int(r.X), int(r.Y), int(r.X+r.W), int(r.Y+r.H))

		score := 1.0
		var seed objdet.Detection
		bestIOU := 0.0
		for _, d := range filtered {
			db := d.BoundingBox()
			dr := boxtrack.Rect{X: float64(db.Min.X), Y: float64(db.Min.Y), W: float64(db.Dx()), H: float64(db.Dy())}
			if iou := boxtrack.IOU(r, dr); iou > bestIOU {
				bestIOU = iou
				seed = d
				score = d.Score()
			}
		}
		if seed == nil {
			seed = objdet.NewDetection(bb, score, "object")
		}
		label := namer.NameForTag(tag, seed, now)
		out = append(out, objdet.NewDetection(bb, score, label))
	}
	return out
}

func (t *myTracker) trigger() {
	if t.triggerCancelFunc != nil {
		t.triggerCancelFunc()
	}
	triggerContext, triggerCancelFunc := context.WithCancel(t.cancelContext)
	t.triggerContext = triggerContext
	t.triggerCancelFunc = triggerCancelFunc

	t.newInstance.Store(true)
	t.activeBackgroundWorkers.Add(1)

	viamutils.ManagedGo(
		func() {
			coolDownTimer := time.After(time.Duration(t.coolDown * float64(time.Second)))
			select {
			case <-coolDownTimer:
				t.newInstance.Store(false)
			case <-t.triggerContext.Done():
			}
		},
		func() {
			t.activeBackgroundWorkers.Done()
		})
}

// Reconfigure reconfigures with new settings.
func (t *myTracker) Reconfigure(ctx context.Context, deps resource.Dependencies, conf resource.Config) error {
	t.cam = nil
	t.detector = nil
	t.timeStatsMutex.Lock()
	t.timeStats = nil
	t.timeStatsMutex.Unlock()

	trackerConfig, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return errors.Errorf("could not assert proper config for %s", ModelName)
	}

	t.frequency = trackerConfig.MaxFrequency
	if t.frequency == 0 {
		t.frequency = DefaultMaxFrequency
	}

	if trackerConfig.MinConfidence != nil {
		t.minConfidence = *trackerConfig.MinConfidence
	} else {
		t.minConfidence = DefaultMinConfidence
	}

	if trackerConfig.TriggerCoolDown != nil {
		t.coolDown = *trackerConfig.TriggerCoolDown
	} else {
		t.coolDown = DefaultTriggerCoolDown
	}

	size := trackerConfig.LogBufferSize
	if size <= 0 {
		size = DefaultLogBufferSize
	}
	t.events = newEventLog(size)

	t.chosenLabels = trackerConfig.ChosenLabels
	t.camName = trackerConfig.CameraName

	t.core = coretracker.New(trackerConfig.trackerParams(), t.onTrajectoryEnd)

	t.cam, err = camera.FromDependencies(deps, trackerConfig.CameraName)
	if err != nil {
		return errors.Wrapf(err, "unable to get camera %v for falling object detector", trackerConfig.CameraName)
	}
	t.detector, err = vision.FromDependencies(deps, trackerConfig.DetectorName)
	if err != nil {
		return errors.Wrapf(err, "unable to get detector %v for falling object detector", trackerConfig.DetectorName)
	}
	return nil
}

func (t *myTracker) DetectionsFromCamera(ctx context.Context, cameraName string, extra map[string]interface{}) ([]objdet.Detection, error) {
	if cameraName != t.camName {
		return nil, errors.Errorf("camera name %v does not match configured camera %v", cameraName, t.camName)
	}
	return t.Detections(ctx, nil, extra)
}

func (t *myTracker) Detections(ctx context.Context, img image.Image, extra map[string]interface{}) ([]objdet.Detection, error) {
	select {
	case <-t.cancelContext.Done():
		return nil, t.cancelContext.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		t.currDetections.mutex.RLock()
		defer t.currDetections.mutex.RUnlock()
		return t.currDetections.dets, nil
	}
}

func (t *myTracker) ClassificationsFromCamera(ctx context.Context, cameraName string, n int, extra map[string]interface{}) (classification.Classifications, error) {
	if cameraName != t.camName {
		return nil, errors.Errorf("camera name %v does not match configured camera %v", cameraName, t.camName)
	}
	return t.Classifications(ctx, nil, n, extra)
}

func (t *myTracker) Classifications(ctx context.Context, img image.Image, n int, extra map[string]interface{}) (classification.Classifications, error) {
	if t.newInstance.Load() {
		return []classification.Classification{classification.NewClassification(1, FallDetectedLabel)}, nil
	}
	return []classification.Classification{}, nil
}

func (t *myTracker) GetProperties(ctx context.Context, extra map[string]interface{}) (*vision.Properties, error) {
	return &t.properties, nil
}

func (t *myTracker) GetObjectPointClouds(ctx context.Context, cameraName string, extra map[string]interface{}) ([]*vis.Object, error) {
	return nil, errUnimplemented
}

func (t *myTracker) CaptureAllFromCamera(ctx context.Context, cameraName string, opt viscapture.CaptureOptions, extra map[string]interface{}) (viscapture.VisCapture, error) {
	var detections []objdet.Detection
	var classifications []classification.Classification
	var img image.Image

	select {
	case <-t.cancelContext.Done():
		return viscapture.VisCapture{}, t.cancelContext.Err()
	case <-ctx.Done():
		return viscapture.VisCapture{}, ctx.Err()
	default:
		if opt.ReturnImage {
			if cameraName != t.camName {
				return viscapture.VisCapture{}, errors.Errorf("camera name %v does not match configured camera %v", cameraName, t.camName)
			}
			if p := t.currImg.Load(); p != nil {
				img = *p
			}
		}
		if opt.ReturnDetections {
			t.currDetections.mutex.RLock()
			detections = t.currDetections.dets
			t.currDetections.mutex.RUnlock()
		}
		if opt.ReturnClassifications {
			if t.newInstance.Load() {
				classifications = []classification.Classification{classification.NewClassification(1, FallDetectedLabel)}
			} else {
				classifications = []classification.Classification{}
			}
		}
	}
	return viscapture.VisCapture{Image: img, Detections: detections, Classifications: classifications}, nil
}

func (t *myTracker) Close(ctx context.Context) error {
	t.cancelFunc()
	t.activeBackgroundWorkers.Wait()
	return nil
}

type benchmark struct {
	Slowest      float64
	Fastest      float64
	Average      float64
	NumberOfRuns int
}

// DoCommand supports "benchmark" (timing stats over Tracker.Update calls)
// and "logs" (the recorded fall events), matching the teacher's
// introspection surface.
func (t *myTracker) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if cmd["benchmark"] != nil {
		t.timeStatsMutex.Lock()
		stats := append([]time.Duration(nil), t.timeStats...)
		t.timeStatsMutex.Unlock()

		if len(stats) == 0 {
			out["benchmark"] = benchmark{}
		} else {
			tmin, tmax := stats[0], stats[0]
			var sum time.Duration
			for _, tt := range stats {
				if tt < tmin {
					tmin = tt
				}
				if tt > tmax {
					tmax = tt
				}
				sum += tt
			}
			mean := time.Duration(int64(sum) / int64(len(stats)))
			out["benchmark"] = benchmark{
				Slowest:      float64(tmax),
				Fastest:      float64(tmin),
				Average:      float64(mean),
				NumberOfRuns: len(stats),
			}
		}
	}
	if cmd["logs"] != nil {
		out["logs"] = t.events.snapshot()
	}
	return out, nil
}

// imageToBGRBytes flattens an image.Image into row-major BGR bytes, the
// frame representation spec.md's core operates on. The tracker only ever
// stores this slice verbatim as a trajectory's first-frame snapshot; it
// never interprets pixel values itself.
func imageToBGRBytes(img image.Image) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, 0, w*h*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out = append(out, byte(bl>>8), byte(g>>8), byte(r>>8))
		}
	}
	return out
}
