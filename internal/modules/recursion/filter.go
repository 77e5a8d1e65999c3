// Package recursion implements the conditional covariance filter of the
// BEKK model: H[t] = CCᵀ + A·u[t−1]u[t−1]ᵀ·Aᵀ + B·H[t−1]·Bᵀ. The recurrence
// is strictly sequential in t; the per-step work is kept to the minimal
// matrix products and only the lower triangle is computed before mirroring.
package recursion

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// NewPath allocates a covariance path of nobs symmetric n×n matrices.
func NewPath(nobs, n int) []*mat.SymDense {
	path := make([]*mat.SymDense, nobs)
	for t := range path {
		path[t] = mat.NewSymDense(n, nil)
	}
	return path
}

// scratch holds the per-call buffers reused across steps. Nothing here is
// shared between calls, so concurrent evaluations stay independent.
type scratch struct {
	au *mat.VecDense // A·u
	bh *mat.Dense    // B·H
	bb *mat.Dense    // B·H·Bᵀ
}

func newScratch(n int) *scratch {
	return &scratch{
		au: mat.NewVecDense(n, nil),
		bh: mat.NewDense(n, n, nil),
		bb: mat.NewDense(n, n, nil),
	}
}

// step writes CCᵀ + A·uuᵀ·Aᵀ + B·prev·Bᵀ into dst. Only the lower triangle
// is assembled; SetSym mirrors it.
func step(dst, prev *mat.SymDense, u mat.Vector, amat, bmat *mat.Dense, intercept *mat.SymDense, s *scratch) {
	n := prev.SymmetricDim()

	s.au.MulVec(amat, u)
	s.bh.Mul(bmat, prev)
	s.bb.Mul(s.bh, bmat.T())

	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			v := intercept.At(i, j)
			v += s.au.AtVec(i) * s.au.AtVec(j)
			v += 0.5 * (s.bb.At(i, j) + s.bb.At(j, i))
			dst.SetSym(i, j, v)
		}
	}
}

// Step advances the recursion one observation: given H[t−1] and u[t−1] it
// produces H[t]. Exposed for one-step-ahead forecasting and simulation.
func Step(dst, prev *mat.SymDense, u mat.Vector, amat, bmat *mat.Dense, intercept *mat.SymDense) {
	step(dst, prev, u, amat, bmat, intercept, newScratch(prev.SymmetricDim()))
}

// Filter fills the covariance path for the whole innovation series. The
// caller supplies the seed in hvar[0]; rows of innov are observations. No
// flooring is applied: a loss of positive definiteness is left for the
// likelihood stage to detect and penalize.
func Filter(hvar []*mat.SymDense, innov *mat.Dense, amat, bmat *mat.Dense, intercept *mat.SymDense) error {
	nobs, n := innov.Dims()
	if len(hvar) != nobs {
		return fmt.Errorf("path length %d does not match %d observations", len(hvar), nobs)
	}
	if nobs == 0 {
		return fmt.Errorf("empty innovation series")
	}
	if hvar[0].SymmetricDim() != n {
		return fmt.Errorf("seed dimension %d does not match %d assets", hvar[0].SymmetricDim(), n)
	}
	if r, c := amat.Dims(); r != n || c != n {
		return fmt.Errorf("amat is %dx%d, want %dx%d", r, c, n, n)
	}
	if r, c := bmat.Dims(); r != n || c != n {
		return fmt.Errorf("bmat is %dx%d, want %dx%d", r, c, n, n)
	}

	s := newScratch(n)
	for t := 1; t < nobs; t++ {
		u := innov.RowView(t - 1)
		step(hvar[t], hvar[t-1], u, amat, bmat, intercept, s)
	}
	return nil
}
