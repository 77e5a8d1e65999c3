// Package params provides the parameter representation for BEKK covariance
// models: structural matrices for the standard and spatial families, the
// restriction schemes that tie their entries together, and the bidirectional
// mapping between structural form and the flat coordinate vector the
// optimizer works on.
package params

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidParameter indicates that a requested parameter construction is
// not admissible, e.g. the implied intercept is not positive definite or a
// coordinate vector has the wrong length.
var ErrInvalidParameter = errors.New("invalid parameter")

// Params is the canonical representation of one model instance. The
// intercept is stored through its lower-triangular factor CMat, so the
// recursion intercept CCᵀ is positive semi-definite by construction.
type Params interface {
	NumAssets() int
	AMat() *mat.Dense
	BMat() *mat.Dense
	CMat() *mat.Dense
	// Intercept returns CCᵀ.
	Intercept() *mat.SymDense
	// UVar returns the unconditional covariance implied by the parameters.
	UVar() (*mat.SymDense, error)
}

// Space is a coordinate space chosen once per estimation call. It knows how
// many free scalars parameterize the model under its restriction and
// targeting mode, and converts between flat coordinates and full parameters.
// FromTheta(Theta(p)) reproduces p to floating tolerance for any p that
// satisfies the restriction.
type Space interface {
	Dim() int
	Restriction() Restriction
	FromTheta(theta []float64) (Params, error)
	Theta(p Params) ([]float64, error)
}

// SpectralRadius returns the largest eigenvalue modulus of A⊗A + B⊗B.
// The model is covariance stationary iff the result is below one.
func SpectralRadius(amat, bmat mat.Matrix) float64 {
	var ka, kb mat.Dense
	ka.Kronecker(amat, amat)
	kb.Kronecker(bmat, bmat)
	ka.Add(&ka, &kb)

	var eig mat.Eigen
	if ok := eig.Factorize(&ka, mat.EigenNone); !ok {
		return math.Inf(1)
	}

	radius := 0.0
	for _, v := range eig.Values(nil) {
		if r := cmplx.Abs(v); r > radius {
			radius = r
		}
	}
	return radius
}

// FindCMat solves the covariance-targeting identity
// CCᵀ = target − A·target·Aᵀ − B·target·Bᵀ and returns the lower-triangular
// Cholesky factor of the result. Fails with ErrInvalidParameter when the
// implied intercept is not positive definite.
func FindCMat(amat, bmat mat.Matrix, target *mat.SymDense) (*mat.Dense, error) {
	n := target.SymmetricDim()

	var tmp, aa, bb mat.Dense
	tmp.Mul(amat, target)
	aa.Mul(&tmp, amat.T())
	tmp.Mul(bmat, target)
	bb.Mul(&tmp, bmat.T())

	cc := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			// Symmetrize the products to keep float noise out of the factor.
			v := target.At(i, j)
			v -= 0.5 * (aa.At(i, j) + aa.At(j, i))
			v -= 0.5 * (bb.At(i, j) + bb.At(j, i))
			cc.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(cc) {
		return nil, fmt.Errorf("targeted intercept is not positive definite: %w", ErrInvalidParameter)
	}

	var l mat.TriDense
	chol.LTo(&l)
	cmat := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			cmat.Set(i, j, l.At(i, j))
		}
	}
	return cmat, nil
}

// uncondVar solves vec(H) = (I − A⊗A − B⊗B)⁻¹ vec(CCᵀ) for the
// unconditional covariance H.
func uncondVar(amat, bmat, cmat *mat.Dense) (*mat.SymDense, error) {
	n, _ := amat.Dims()

	var ka, kb mat.Dense
	ka.Kronecker(amat, amat)
	kb.Kronecker(bmat, bmat)

	m := mat.NewDense(n*n, n*n, nil)
	for i := 0; i < n*n; i++ {
		m.Set(i, i, 1)
	}
	m.Sub(m, &ka)
	m.Sub(m, &kb)

	var cc mat.Dense
	cc.Mul(cmat, cmat.T())
	rhs := mat.NewVecDense(n*n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			rhs.SetVec(i*n+j, cc.At(i, j))
		}
	}

	var x mat.VecDense
	if err := x.SolveVec(m, rhs); err != nil {
		return nil, fmt.Errorf("unconditional variance does not exist (non-stationary parameters): %w", ErrInvalidParameter)
	}

	h := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			h.SetSym(i, j, 0.5*(x.AtVec(i*n+j)+x.AtVec(j*n+i)))
		}
	}
	return h, nil
}

// lowerLen is the number of entries in the lower triangle of an n×n matrix.
func lowerLen(n int) int {
	return n * (n + 1) / 2
}

// lowerTriToTheta appends the lower triangle of m in row-major order.
func lowerTriToTheta(dst []float64, m *mat.Dense) []float64 {
	n, _ := m.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			dst = append(dst, m.At(i, j))
		}
	}
	return dst
}

// lowerTriFromTheta builds a lower-triangular n×n matrix from row-major
// packed coordinates.
func lowerTriFromTheta(theta []float64, n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	k := 0
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			m.Set(i, j, theta[k])
			k++
		}
	}
	return m
}

// interceptOf materializes CCᵀ as a symmetric matrix.
func interceptOf(cmat *mat.Dense) *mat.SymDense {
	n, _ := cmat.Dims()
	var cc mat.Dense
	cc.Mul(cmat, cmat.T())
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			out.SetSym(i, j, 0.5*(cc.At(i, j)+cc.At(j, i)))
		}
	}
	return out
}
