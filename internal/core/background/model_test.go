package background

import (
	"testing"

	"go.viam.com/test"
)

func solidFrame(h, w int, r, g, b byte) []byte {
	out := make([]byte, h*w*channels)
	for i := 0; i < h*w; i++ {
		out[i*channels+0] = r
		out[i*channels+1] = g
		out[i*channels+2] = b
	}
	return out
}

func TestSegmentValuesAreBinary(t *testing.T) {
	m := New(20, 20, DefaultSamples, DefaultThreshold, DefaultMinCloseSamples, DefaultUpdateFactor, 1)
	frame := solidFrame(20, 20, 50, 60, 70)
	mask, err := m.Segment(frame)
	test.That(t, err, test.ShouldBeNil)
	for _, v := range mask {
		test.That(t, v == 0 || v == 255, test.ShouldBeTrue)
	}
}

func TestSeedThenSegmentIsBackground(t *testing.T) {
	m := New(10, 10, DefaultSamples, DefaultThreshold, DefaultMinCloseSamples, DefaultUpdateFactor, 42)
	frame := solidFrame(10, 10, 120, 120, 120)
	mask, err := m.Segment(frame)
	test.That(t, err, test.ShouldBeNil)
	for _, v := range mask {
		test.That(t, v, test.ShouldEqual, byte(0))
	}
}

func TestConstantSceneStaysBackground(t *testing.T) {
	m := New(12, 12, DefaultSamples, DefaultThreshold, DefaultMinCloseSamples, DefaultUpdateFactor, 7)
	frame := solidFrame(12, 12, 200, 10, 10)
	for i := 0; i < 5; i++ {
		mask, err := m.Segment(frame)
		test.That(t, err, test.ShouldBeNil)
		for _, v := range mask {
			test.That(t, v, test.ShouldEqual, byte(0))
		}
	}
}

func TestClearReseedsOnNextSegment(t *testing.T) {
	m := New(8, 8, DefaultSamples, DefaultThreshold, DefaultMinCloseSamples, DefaultUpdateFactor, 3)
	frameA := solidFrame(8, 8, 10, 10, 10)
	_, err := m.Segment(frameA)
	test.That(t, err, test.ShouldBeNil)

	m.Clear()
	test.That(t, m.Seeded(), test.ShouldBeFalse)

	frameB := solidFrame(8, 8, 240, 5, 5)
	mask, err := m.Segment(frameB)
	test.That(t, err, test.ShouldBeNil)
	for _, v := range mask {
		test.That(t, v, test.ShouldEqual, byte(0))
	}
}

func TestSegmentRejectsWrongDimensions(t *testing.T) {
	m := New(8, 8, DefaultSamples, DefaultThreshold, DefaultMinCloseSamples, DefaultUpdateFactor, 1)
	_, err := m.Segment(make([]byte, 10))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestUpdateRequiresSeededModel(t *testing.T) {
	m := New(8, 8, DefaultSamples, DefaultThreshold, DefaultMinCloseSamples, DefaultUpdateFactor, 1)
	frame := solidFrame(8, 8, 1, 2, 3)
	mask := make([]byte, 64)
	err := m.Update(frame, mask)
	test.That(t, err, test.ShouldNotBeNil)
}

// pixelSnapshot captures every byte a pixel could be written into (both
// history images plus its full sample set), so comparing two snapshots
// tells whether the pixel was touched by Update at all, regardless of
// which slot happened to be chosen.
func pixelSnapshot(m *Model, i int) []byte {
	off := i * channels
	out := append([]byte{}, m.h0[off:off+channels]...)
	out = append(out, m.h1[off:off+channels]...)
	sbase := i * m.numSamples * channels
	out = append(out, m.samples[sbase:sbase+m.numSamples*channels]...)
	return out
}

func borderIndices(h, w int) []int {
	var idx []int
	for x := 0; x < w; x++ {
		idx = append(idx, x, (h-1)*w+x)
	}
	for y := 0; y < h; y++ {
		idx = append(idx, y*w, y*w+w-1)
	}
	return idx
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestBorderUpdatesAreSparseNotDense guards spec.md §4.1's documented
// phi-determined per-pixel update probability: a dense per-x/per-y border
// scan would rewrite every eligible border pixel on every call, but the
// jump-table stepping the interior uses (and the border must use
// analogously) leaves most of a wide border untouched after one call.
func TestBorderUpdatesAreSparseNotDense(t *testing.T) {
	h, w := 10, 64
	m := New(h, w, DefaultSamples, DefaultThreshold, DefaultMinCloseSamples, DefaultUpdateFactor, 11)
	seedFrame := solidFrame(h, w, 80, 80, 80)
	_, err := m.Segment(seedFrame)
	test.That(t, err, test.ShouldBeNil)

	idx := borderIndices(h, w)
	before := make(map[int][]byte, len(idx))
	for _, i := range idx {
		before[i] = pixelSnapshot(m, i)
	}

	newFrame := solidFrame(h, w, 90, 90, 90)
	mask := make([]byte, h*w) // every pixel eligible for refresh
	test.That(t, m.Update(newFrame, mask), test.ShouldBeNil)

	untouched := 0
	for _, i := range idx {
		if bytesEqual(before[i], pixelSnapshot(m, i)) {
			untouched++
		}
	}
	test.That(t, untouched > 0, test.ShouldBeTrue)
}

func TestUpdateSparselyRewritesBackground(t *testing.T) {
	m := New(16, 16, DefaultSamples, DefaultThreshold, DefaultMinCloseSamples, DefaultUpdateFactor, 9)
	frame := solidFrame(16, 16, 30, 30, 30)
	_, err := m.Segment(frame)
	test.That(t, err, test.ShouldBeNil)

	mask := make([]byte, 16*16) // all background, eligible for refresh
	newFrame := solidFrame(16, 16, 32, 32, 32)
	err = m.Update(newFrame, mask)
	test.That(t, err, test.ShouldBeNil)

	fg, err := m.Segment(newFrame)
	test.That(t, err, test.ShouldBeNil)
	for _, v := range fg {
		test.That(t, v, test.ShouldEqual, byte(0))
	}
}
