//go:build cgo
// +build cgo

// Command demo drives the falling-object detection core directly against a
// local webcam or video file, outside of any Viam module wiring. It exists
// to let a developer eyeball the pipeline: background segmentation,
// connected-component extraction, tracking, and trajectory rendering.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"
	"runtime"
	"time"

	"gocv.io/x/gocv"

	"github.com/viam-modules/falling-object-detection/internal/core/background"
	"github.com/viam-modules/falling-object-detection/internal/core/boxtrack"
	coreconfig "github.com/viam-modules/falling-object-detection/internal/core/config"
	coretracker "github.com/viam-modules/falling-object-detection/internal/core/tracker"
	"github.com/viam-modules/falling-object-detection/internal/core/trajectory"
	"github.com/viam-modules/falling-object-detection/visualize"
)

const (
	fourccMJPEG = 0x47504A4D

	// minBlobArea drops connected components too small to be a plausible
	// falling object, separate from the tracker's own hit-streak gating.
	minBlobArea = 150
)

func main() {
	device := flag.Int("device", 0, "camera device index, or ignored if -video is set")
	video := flag.String("video", "", "path to a video file instead of a live camera")
	configPath := flag.String("config", "", "path to a TOML config file (defaults baked in if empty)")
	outputDir := flag.String("out", "plots", "directory to write trajectory plots into")
	headless := flag.Bool("headless", false, "skip the preview window")
	flag.Parse()

	if err := run(*device, *video, *configPath, *outputDir, *headless); err != nil {
		fmt.Fprintln(os.Stderr, "demo:", err)
		os.Exit(1)
	}
}

func run(device int, videoPath, configPath, outputDir string, headless bool) error {
	cfg, err := coreconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	capture, err := openCapture(device, videoPath)
	if err != nil {
		return err
	}
	defer capture.Close()

	var window *gocv.Window
	if !headless {
		runtime.LockOSThread()
		window = gocv.NewWindow("falling-object-detection demo")
		defer window.Close()
	}

	var bg *background.Model
	var ended []*trajectory.Trajectory
	tr := coretracker.New(cfg.TrackerParams(), func(tag int, traj *trajectory.Trajectory) {
		ended = append(ended, traj)
	})

	frame := gocv.NewMat()
	defer frame.Close()

	for {
		if ok := capture.Read(&frame); !ok || frame.Empty() {
			break
		}

		if bg == nil {
			bg = background.New(frame.Rows(), frame.Cols(), cfg.Background.Samples, cfg.Background.Threshold, cfg.Background.MinCloseSamples, cfg.Background.UpdateFactor, time.Now().UnixNano())
		}

		rects, mask, err := detectBlobs(bg, frame)
		if err != nil {
			return fmt.Errorf("detecting blobs: %w", err)
		}
		tr.Update(rects, frame.ToBytes(), time.Now())
		mask.Close()

		if !headless {
			drawOverlay(&frame, tr.ActiveBoxes())
			window.IMShow(frame)
			if window.WaitKey(1) == 27 { // Esc
				break
			}
		}
	}

	if len(ended) > 0 {
		n, err := visualize.BatchRender(outputDir, ended)
		if err != nil {
			return fmt.Errorf("rendering trajectories: %w", err)
		}
		fmt.Printf("wrote %d trajectory plots to %s\n", n, outputDir)
	}
	return nil
}

func openCapture(device int, videoPath string) (*gocv.VideoCapture, error) {
	if videoPath != "" {
		capture, err := gocv.VideoCaptureFile(videoPath)
		if err != nil {
			return nil, fmt.Errorf("opening video file %s: %w", videoPath, err)
		}
		return capture, nil
	}

	capture, err := gocv.OpenVideoCaptureWithAPI(device, gocv.VideoCaptureV4L2)
	if err != nil {
		return nil, fmt.Errorf("opening camera device %d: %w", device, err)
	}
	capture.Set(gocv.VideoCaptureFOURCC, fourccMJPEG)
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("camera device %d not found or unavailable", device)
	}
	return capture, nil
}

// detectBlobs segments frame against the background model, morphologically
// cleans the resulting mask, and extracts bounding rectangles for every
// surviving connected component. The caller owns the returned Mat.
func detectBlobs(bg *background.Model, frame gocv.Mat) ([]boxtrack.Rect, gocv.Mat, error) {
	raw := frame.ToBytes()
	maskBytes, err := bg.Segment(raw)
	if err != nil {
		return nil, gocv.NewMat(), err
	}

	h, w := frame.Rows(), frame.Cols()
	mask, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, maskBytes)
	if err != nil {
		return nil, gocv.NewMat(), fmt.Errorf("building mask mat: %w", err)
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel)

	if err := bg.Update(raw, maskBytes); err != nil {
		return nil, mask, fmt.Errorf("updating background model: %w", err)
	}

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	rects := make([]boxtrack.Rect, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		if gocv.ContourArea(c) < minBlobArea {
			continue
		}
		r := gocv.BoundingRect(c)
		rects = append(rects, boxtrack.Rect{
			X: float64(r.Min.X), Y: float64(r.Min.Y),
			W: float64(r.Dx()), H: float64(r.Dy()),
		})
	}
	return rects, mask, nil
}

func drawOverlay(frame *gocv.Mat, boxes map[int]boxtrack.Rect) {
	for tag, r := range boxes {
		rect := image.Rect(int(r.X), int(r.Y), int(r.X+r.W), int(r.Y+r.H))
		gocv.Rectangle(frame, rect, colorFor(tag), 2)
	}
}

func colorFor(tag int) color.RGBA {
	hues := []color.RGBA{
		{R: 255, G: 64, B: 64, A: 255},
		{R: 64, G: 255, B: 96, A: 255},
		{R: 64, G: 128, B: 255, A: 255},
		{R: 255, G: 200, B: 32, A: 255},
		{R: 200, G: 64, B: 255, A: 255},
	}
	return hues[tag%len(hues)]
}
