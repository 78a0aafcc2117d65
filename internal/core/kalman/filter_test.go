package kalman

import (
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestUpdateWithTinyNoiseConvergesToMeasurement(t *testing.T) {
	f := New(3, 3, 0)
	f.H = identity(3)
	for i := 0; i < 3; i++ {
		f.R.Set(i, i, 1e-9)
		f.P.Set(i, i, 10)
	}
	f.X = mat.NewVecDense(3, []float64{0, 0, 0})

	z := mat.NewVecDense(3, []float64{5, -2, 7})
	x, err := f.Update(z)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		test.That(t, x.AtVec(i), test.ShouldAlmostEqual, z.AtVec(i), 1e-4)
	}
}

func TestPredictAdvancesStateUnderControl(t *testing.T) {
	f := New(2, 1, 1)
	f.F.Set(0, 0, 1)
	f.F.Set(0, 1, 1) // position += velocity
	f.F.Set(1, 1, 1)
	f.B.Set(1, 0, 1) // control adds directly to velocity
	f.X = mat.NewVecDense(2, []float64{0, 0})

	u := mat.NewVecDense(1, []float64{2})
	x := f.Predict(u)
	test.That(t, x.AtVec(1), test.ShouldAlmostEqual, 2.0, 1e-9)
	test.That(t, x.AtVec(0), test.ShouldAlmostEqual, 0.0, 1e-9)

	x2 := f.Predict(u)
	test.That(t, x2.AtVec(1), test.ShouldAlmostEqual, 4.0, 1e-9)
	test.That(t, x2.AtVec(0), test.ShouldAlmostEqual, 2.0, 1e-9)
}
