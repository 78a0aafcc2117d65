// Package kalman implements a linear Gaussian state estimator (spec.md §4.2).
package kalman

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Filter is a linear Kalman filter over arbitrary state/measurement/control
// dimensions, built on gonum's dense matrices.
type Filter struct {
	X *mat.VecDense // state, D x 1
	P *mat.Dense    // covariance, D x D
	F *mat.Dense    // transition, D x D
	B *mat.Dense    // control, D x C
	Q *mat.Dense    // process noise, D x D
	H *mat.Dense    // observation, M x D
	R *mat.Dense    // observation noise, M x M

	dim, meas, ctrl int
}

// New constructs a Filter for the given state/measurement/control
// dimensions. F starts as the identity and every other matrix and the state
// start as zeros; the caller sets P, Q, H, R (and F, B as needed) before
// Predict/Update. With ctrlDim 0, B is nil and Predict must be given a nil u.
func New(dim, measDim, ctrlDim int) *Filter {
	var b *mat.Dense
	if ctrlDim > 0 {
		b = mat.NewDense(dim, ctrlDim, nil)
	}
	return &Filter{
		X:    mat.NewVecDense(dim, nil),
		P:    mat.NewDense(dim, dim, nil),
		F:    identity(dim),
		B:    b,
		Q:    mat.NewDense(dim, dim, nil),
		H:    mat.NewDense(measDim, dim, nil),
		R:    mat.NewDense(measDim, measDim, nil),
		dim:  dim,
		meas: measDim,
		ctrl: ctrlDim,
	}
}

func identity(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

// Predict advances the state by one step under control input u:
// x <- F*x + B*u; P <- F*P*F' + Q.
func (f *Filter) Predict(u *mat.VecDense) *mat.VecDense {
	var fx mat.VecDense
	fx.MulVec(f.F, f.X)
	if u != nil {
		var bu mat.VecDense
		bu.MulVec(f.B, u)
		fx.AddVec(&fx, &bu)
	}
	f.X = &fx

	var fp, fpft mat.Dense
	fp.Mul(f.F, f.P)
	fpft.Mul(&fp, f.F.T())
	fpft.Add(&fpft, f.Q)
	f.P = &fpft

	return copyVec(f.X)
}

func copyVec(v *mat.VecDense) *mat.VecDense {
	n := v.Len()
	data := make([]float64, n)
	for i := 0; i < n; i++ {
		data[i] = v.AtVec(i)
	}
	return mat.NewVecDense(n, data)
}

// Update incorporates measurement z:
// K <- P*H'*(H*P*H' + R)^-1; x <- x + K*(z - H*x); P <- (I - K*H)*P.
func (f *Filter) Update(z *mat.VecDense) (*mat.VecDense, error) {
	var hpht, hp mat.Dense
	hp.Mul(f.H, f.P)
	hpht.Mul(&hp, f.H.T())
	hpht.Add(&hpht, f.R)

	var s mat.Dense
	if err := s.Inverse(&hpht); err != nil {
		return nil, errors.Wrap(err, "kalman: innovation covariance is singular")
	}

	var pht mat.Dense
	pht.Mul(f.P, f.H.T())
	var k mat.Dense
	k.Mul(&pht, &s)

	var hx mat.VecDense
	hx.MulVec(f.H, f.X)
	var innovation mat.VecDense
	innovation.SubVec(z, &hx)

	var correction mat.VecDense
	correction.MulVec(&k, &innovation)
	var newX mat.VecDense
	newX.AddVec(f.X, &correction)
	f.X = &newX

	ident := identity(f.dim)
	var kh mat.Dense
	kh.Mul(&k, f.H)
	var ikh mat.Dense
	ikh.Sub(ident, &kh)
	var newP mat.Dense
	newP.Mul(&ikh, f.P)
	f.P = &newP

	return copyVec(f.X), nil
}
