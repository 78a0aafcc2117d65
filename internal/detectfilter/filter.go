// Package detectfilter prepares raw Viam object detections for the core
// tracker: filtering by chosen label/confidence and attaching human-readable,
// timestamped names independent of the core's integer tags (spec.md §3's
// tag is the identity the algorithm uses internally; these labels are a
// presentation-layer convenience layered on top for Classifications output).
package detectfilter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	objdet "go.viam.com/rdk/vision/objectdetection"
)

// NewLabelFilter returns a Detections->Detections filtering method that
// removes detections whose class name is not present in chosenLabels, or
// whose score does not exceed the associated minimum confidence. An empty
// chosenLabels map passes every detection through unchanged.
func NewLabelFilter(chosenLabels map[string]float64) objdet.Postprocessor {
	return func(detections []objdet.Detection) []objdet.Detection {
		if len(chosenLabels) == 0 {
			return detections
		}
		out := make([]objdet.Detection, 0, len(detections))
		for _, d := range detections {
			base := strings.ToLower(strings.Split(d.Label(), "_")[0])
			minConf, ok := chosenLabels[base]
			if ok && d.Score() > minConf {
				out = append(out, d)
			}
		}
		return out
	}
}

// Filter applies NewLabelFilter followed by a minimum-score cutoff.
func Filter(chosenLabels map[string]float64, dets []objdet.Detection, minScore float64) []objdet.Detection {
	filtered := NewLabelFilter(chosenLabels)(dets)
	return objdet.NewScoreFilter(minScore)(filtered)
}

// timestamp formats now as YYYYMMDD_HHMMSS, matching the naming scheme
// class_N_YYYYMMDD_HHMMSS.
func timestamp(now time.Time) string {
	return now.Format("20060102_150405")
}

// Namer assigns human-readable, per-class counter names to tracked
// detections, keyed by the core tracker's integer tag. It holds no tracking
// state of its own beyond the class counters.
type Namer struct {
	classCounter map[string]int
	tagNames     map[int]string
}

// NewNamer returns an empty Namer.
func NewNamer() *Namer {
	return &Namer{
		classCounter: make(map[string]int),
		tagNames:     make(map[int]string),
	}
}

// NameForTag returns the stable display name for tag, minting one from det's
// base label and a per-class counter the first time tag is seen, and
// returning the same name on every subsequent call for that tag.
func (n *Namer) NameForTag(tag int, det objdet.Detection, now time.Time) string {
	if name, ok := n.tagNames[tag]; ok {
		return name
	}
	base := strings.ToLower(strings.Split(det.Label(), "_")[0])
	count, ok := n.classCounter[base]
	if ok {
		count++
	}
	n.classCounter[base] = count
	name := fmt.Sprintf("%s_%d_%s", base, count, timestamp(now))
	n.tagNames[tag] = name
	return name
}

// Forget drops a tag's assigned name once its track is removed, so a future
// Namer built over a long-running process does not grow without bound.
func (n *Namer) Forget(tag int) {
	delete(n.tagNames, tag)
}

// Relabel returns a detection identical to det but with label replaced.
func Relabel(det objdet.Detection, label string) objdet.Detection {
	return objdet.NewDetection(*det.BoundingBox(), det.Score(), label)
}
