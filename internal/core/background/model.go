// Package background implements a ViBe-style per-pixel stochastic
// background model over raw three-channel byte buffers.
package background

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Defaults match spec.md §4.1.
const (
	DefaultSamples        = 16
	DefaultThreshold       = 20 // raw L1 threshold per channel pair
	DefaultMinCloseSamples = 2
	DefaultUpdateFactor    = 5

	channels = 3
)

// Model owns a per-pixel sample set and two alternating history images for
// a fixed frame shape. It is not safe for concurrent use; the caller
// (Tracker's driver) is expected to call Segment/Update sequentially.
type Model struct {
	height, width int
	numSamples    int
	threshold     int // effective L1 threshold, already scaled by channel count
	minClose      int
	updateFactor  int

	rng *rand.Rand

	seeded bool

	// samples[i] holds numSamples*channels bytes for pixel i, row-major.
	samples []byte
	h0, h1  []byte // channels bytes per pixel
	swap    bool

	jump     []int
	replace  []int
	neighbor []int
}

// New constructs a Model for an H x W frame. tau is the raw per-channel L1
// threshold (spec default 20, giving an effective channels*tau=60); minClose
// is kappa; updateFactor is phi. seed controls the model's owned PRNG.
func New(height, width, numSamples, tau, minClose, updateFactor int, seed int64) *Model {
	if numSamples <= 0 {
		numSamples = DefaultSamples
	}
	if tau <= 0 {
		tau = DefaultThreshold
	}
	if minClose <= 0 {
		minClose = DefaultMinCloseSamples
	}
	if updateFactor <= 0 {
		updateFactor = DefaultUpdateFactor
	}

	m := &Model{
		height:       height,
		width:        width,
		numSamples:   numSamples,
		threshold:    tau * channels,
		minClose:     minClose,
		updateFactor: updateFactor,
		rng:          rand.New(rand.NewSource(seed)),
	}
	m.buildTables()
	return m
}

func (m *Model) buildTables() {
	n := 2*max(m.height, m.width) + 1
	m.jump = make([]int, n)
	m.replace = make([]int, n)
	m.neighbor = make([]int, n)
	for i := range m.jump {
		m.jump[i] = 1 + m.rng.Intn(2*m.updateFactor)
		m.replace[i] = m.rng.Intn(m.numSamples + 1)
		m.neighbor[i] = m.rng.Intn(3) - 1
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (m *Model) npix() int { return m.height * m.width }

func (m *Model) checkDims(frame []byte, name string) error {
	want := m.npix() * channels
	if len(frame) != want {
		return errors.Errorf("background: %s has %d bytes, want %d for %dx%d frame", name, len(frame), want, m.width, m.height)
	}
	return nil
}

// Clear marks the model uninitialized; the next Segment call reseeds it.
func (m *Model) Clear() {
	m.seeded = false
	m.samples = nil
	m.h0 = nil
	m.h1 = nil
}

// seedFrom initializes H0, H1 and every pixel's sample set from frame, adding
// independent per-channel noise in [-10, +10] clamped to [0, 255].
func (m *Model) seedFrom(frame []byte) {
	n := m.npix()
	m.h0 = make([]byte, n*channels)
	m.h1 = make([]byte, n*channels)
	copy(m.h0, frame)
	copy(m.h1, frame)

	m.samples = make([]byte, n*m.numSamples*channels)
	for i := 0; i < n; i++ {
		base := i * channels
		for s := 0; s < m.numSamples; s++ {
			sbase := i*m.numSamples*channels + s*channels
			for c := 0; c < channels; c++ {
				noise := m.rng.Intn(21) - 10 // [-10, 10]
				v := int(frame[base+c]) + noise
				if v < 0 {
					v = 0
				} else if v > 255 {
					v = 255
				}
				m.samples[sbase+c] = byte(v)
			}
		}
	}
	m.seeded = true
}

func l1(a, b []byte, aOff, bOff int) int {
	d := 0
	for c := 0; c < channels; c++ {
		x := int(a[aOff+c]) - int(b[bOff+c])
		if x < 0 {
			x = -x
		}
		d += x
	}
	return d
}

// Segment classifies every pixel of frame as background (0) or foreground
// (255) per spec.md §4.1, seeding the model on first use.
func (m *Model) Segment(frame []byte) ([]byte, error) {
	if err := m.checkDims(frame, "frame"); err != nil {
		return nil, err
	}
	if !m.seeded {
		m.seedFrom(frame)
	}

	n := m.npix()
	counter := make([]int, n)
	for i := range counter {
		counter[i] = m.minClose - 1
	}

	for i := 0; i < n; i++ {
		off := i * channels
		if l1(frame, m.h0, off, off) > m.threshold {
			counter[i] = m.minClose
		}
	}
	for i := 0; i < n; i++ {
		off := i * channels
		if l1(frame, m.h1, off, off) <= m.threshold {
			counter[i]--
		}
	}

	for i := 0; i < n; i++ {
		if counter[i] <= 0 {
			continue
		}
		off := i * channels
		sbase := i * m.numSamples * channels
		for s := 0; s < m.numSamples && counter[i] > 0; s++ {
			so := sbase + s*channels
			if l1(frame, m.samples, off, so) <= m.threshold {
				counter[i]--
				m.swapInto(i, frame, off)
			}
		}
	}

	mask := make([]byte, n)
	for i, c := range counter {
		if c > 0 {
			mask[i] = 255
		}
	}
	m.swap = !m.swap
	return mask, nil
}

// swapInto rotates frame's pixel i into the history image selected by the
// current swapFlag. It only ever writes pixel i's own history cell.
func (m *Model) swapInto(i int, frame []byte, off int) {
	dst := m.h0
	if m.swap {
		dst = m.h1
	}
	copy(dst[off:off+channels], frame[off:off+channels])
}

// Update sparsely rewrites the background model using updateMask, where a
// zero entry marks a pixel eligible for refresh, per spec.md §4.1. Kept
// strictly sequential: the neighbor write crosses pixel boundaries and
// cannot be parallelized safely.
func (m *Model) Update(frame, updateMask []byte) error {
	if err := m.checkDims(frame, "frame"); err != nil {
		return err
	}
	if len(updateMask) != m.npix() {
		return errors.Errorf("background: updateMask has %d bytes, want %d", len(updateMask), m.npix())
	}
	if !m.seeded {
		return errors.New("background: Update called before model was seeded by Segment")
	}

	h, w := m.height, m.width
	for y := 1; y < h-1; y++ {
		shift := m.rng.Intn(w)
		x := m.jump[shift%len(m.jump)]
		for x < w-1 {
			slot := m.replace[shift%len(m.replace)]
			delta := m.neighbor[shift%len(m.neighbor)]
			i := y*w + x
			if updateMask[i] == 0 {
				m.writeSlot(i, slot, frame)
				ni := i + delta
				if ni >= 0 && ni < m.npix() {
					m.writeSlot(ni, slot, frame)
				}
			}
			shift++
			x += m.jump[shift%len(m.jump)]
		}
	}

	m.updateBorderRow(0, frame, updateMask)
	m.updateBorderRow(h-1, frame, updateMask)
	m.updateBorderCol(0, frame, updateMask)
	m.updateBorderCol(w-1, frame, updateMask)
	return nil
}

func (m *Model) writeSlot(i, slot int, frame []byte) {
	off := i * channels
	if slot < 2 {
		dst := m.h0
		if slot == 1 {
			dst = m.h1
		}
		copy(dst[off:off+channels], frame[off:off+channels])
		return
	}
	sbase := i*m.numSamples*channels + (slot-2)*channels
	if slot-2 < m.numSamples {
		copy(m.samples[sbase:sbase+channels], frame[off:off+channels])
	}
}

// updateBorderRow walks row y the same sparse jump/replace way the interior
// loop walks a row, giving each eligible border pixel the same ~1/phi
// per-call update probability as an interior pixel, minus the neighbor
// write (a border pixel's neighbor may fall outside the frame).
func (m *Model) updateBorderRow(y int, frame, updateMask []byte) {
	w := m.width
	shift := m.rng.Intn(w)
	x := m.jump[shift%len(m.jump)]
	for x < w {
		slot := m.replace[shift%len(m.replace)]
		i := y*w + x
		if updateMask[i] == 0 {
			m.writeSlot(i, slot, frame)
		}
		shift++
		x += m.jump[shift%len(m.jump)]
	}
}

// updateBorderCol is updateBorderRow's column analog for x.
func (m *Model) updateBorderCol(x int, frame, updateMask []byte) {
	h, w := m.height, m.width
	shift := m.rng.Intn(h)
	y := m.jump[shift%len(m.jump)]
	for y < h {
		slot := m.replace[shift%len(m.replace)]
		i := y*w + x
		if updateMask[i] == 0 {
			m.writeSlot(i, slot, frame)
		}
		shift++
		y += m.jump[shift%len(m.jump)]
	}
}

// Dims returns the model's configured frame shape.
func (m *Model) Dims() (height, width int) { return m.height, m.width }

// Seeded reports whether Segment has initialized the model since
// construction or the last Clear.
func (m *Model) Seeded() bool { return m.seeded }
