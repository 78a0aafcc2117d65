package trajectory

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Parabola is a fitted y = a*x^2 + b*x + c curve used only for rendering a
// trajectory's fall path (spec.md §4.6).
type Parabola struct {
	A, B, C float64
}

// Eval returns the fitted y for a given x.
func (p Parabola) Eval(x float64) float64 {
	return p.A*x*x + p.B*x + p.C
}

// FitParabola solves the weighted least-squares problem described in
// spec.md §4.6: rows A_i = [xc_i^2, xc_i, 1], targets y_i = yc_i, weights
// w_i = exp(-i/N), which decrease with i, so earlier samples count more. It
// requires at least 3 samples with at least 3 distinct horizontal centers to
// be well posed; otherwise it returns an error.
func FitParabola(samples []SamplePoint) (Parabola, error) {
	n := len(samples)
	if n < 3 {
		return Parabola{}, errors.New("trajectory: need at least 3 samples to fit a parabola")
	}

	a := mat.NewDense(n, 3, nil)
	y := mat.NewVecDense(n, nil)
	w := mat.NewDiagDense(n, nil)
	for i, s := range samples {
		xc, yc := s.CenterX(), s.CenterY()
		a.SetRow(i, []float64{xc * xc, xc, 1})
		y.SetVec(i, yc)
		w.SetDiag(i, math.Exp(-float64(i)/float64(n)))
	}

	// Normal equations for weighted least squares: (A'WA) theta = A'Wy.
	var wa mat.Dense
	wa.Mul(w, a)
	var ata mat.Dense
	ata.Mul(a.T(), &wa)

	var wy mat.VecDense
	wy.MulVec(w, y)
	var aty mat.VecDense
	aty.MulVec(a.T(), &wy)

	sym := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			sym.SetSym(i, j, ata.At(i, j))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return Parabola{}, errors.New("trajectory: normal-equations matrix is not positive definite")
	}

	var theta mat.VecDense
	if err := chol.SolveVecTo(&theta, &aty); err != nil {
		return Parabola{}, errors.Wrap(err, "trajectory: solving for parabola coefficients")
	}

	return Parabola{A: theta.AtVec(0), B: theta.AtVec(1), C: theta.AtVec(2)}, nil
}

// WeightedFallVelocity reports the weighted mean vertical velocity across
// the trajectory, using the same exp(-i/N) weights as FitParabola, so
// earlier samples count more.
func WeightedFallVelocity(samples []SamplePoint) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}
	vy := make([]float64, n)
	weights := make([]float64, n)
	for i, s := range samples {
		vy[i] = s.VY
		weights[i] = math.Exp(-float64(i) / float64(n))
	}
	return stat.Mean(vy, weights)
}
