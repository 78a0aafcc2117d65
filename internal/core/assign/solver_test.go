package assign

import (
	"testing"

	"go.viam.com/test"
)

func TestSolveEmptyMatrix(t *testing.T) {
	res, err := Solve(nil, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Total, test.ShouldEqual, 0.0)
	test.That(t, len(res.Assign), test.ShouldEqual, 0)
}

func TestSolveRectangularMinimization(t *testing.T) {
	cost := [][]float64{
		{5, 10, 15, 20},
		{15, 20, 30, 10},
		{10, 20, 15, 30},
		{20, 10, 10, 45},
		{50, 50, 50, 50},
	}
	res, err := Solve(cost, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Total, test.ShouldEqual, 40.0)
	want := []int{0, 3, 2, 1, -1}
	test.That(t, len(res.Assign), test.ShouldEqual, len(want))
	for i, w := range want {
		test.That(t, res.Assign[i], test.ShouldEqual, w)
	}
}

func TestSolveTransposeIsConsistent(t *testing.T) {
	cost := [][]float64{
		{1, 2, 3},
		{4, 1, 2},
	}
	res, err := Solve(cost, false)
	test.That(t, err, test.ShouldBeNil)

	ct := transpose(cost)
	resT, err := Solve(ct, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resT.Total, test.ShouldEqual, res.Total)

	for i, j := range res.Assign {
		if j == -1 {
			continue
		}
		test.That(t, resT.Assign[j], test.ShouldEqual, i)
	}
}

func TestSolveMaximizeUsesOriginalCostForTotal(t *testing.T) {
	cost := [][]float64{
		{0.9, 0.1},
		{0.2, 0.8},
	}
	res, err := Solve(cost, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Total, test.ShouldAlmostEqual, 1.7, 1e-9)
	test.That(t, res.Assign[0], test.ShouldEqual, 0)
	test.That(t, res.Assign[1], test.ShouldEqual, 1)
}
