package params

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// restrictionTol bounds the deviation tolerated when checking that given
// parameters actually satisfy a restriction.
const restrictionTol = 1e-9

// ParamStandard holds the structural matrices of a standard BEKK model:
// the shock response A, the persistence B, and the lower-triangular
// intercept factor C.
type ParamStandard struct {
	amat *mat.Dense
	bmat *mat.Dense
	cmat *mat.Dense
}

// NewStandard creates standard parameters from explicit A, B and C matrices.
// C is taken as the lower-triangular intercept factor; its strict upper
// triangle is ignored.
func NewStandard(amat, bmat, cmat *mat.Dense) (*ParamStandard, error) {
	n, c := amat.Dims()
	if n != c {
		return nil, fmt.Errorf("amat must be square, got %dx%d: %w", n, c, ErrInvalidParameter)
	}
	for name, m := range map[string]*mat.Dense{"bmat": bmat, "cmat": cmat} {
		r, c := m.Dims()
		if r != n || c != n {
			return nil, fmt.Errorf("%s must be %dx%d, got %dx%d: %w", name, n, n, r, c, ErrInvalidParameter)
		}
	}

	lower := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			lower.Set(i, j, cmat.At(i, j))
		}
	}

	return &ParamStandard{
		amat: mat.DenseCopyOf(amat),
		bmat: mat.DenseCopyOf(bmat),
		cmat: lower,
	}, nil
}

// StandardFromTarget creates standard parameters with the intercept derived
// from the unconditional covariance target via the targeting identity.
func StandardFromTarget(amat, bmat *mat.Dense, target *mat.SymDense) (*ParamStandard, error) {
	cmat, err := FindCMat(amat, bmat, target)
	if err != nil {
		return nil, err
	}
	return NewStandard(amat, bmat, cmat)
}

// NumAssets returns the cross-section size n.
func (p *ParamStandard) NumAssets() int {
	n, _ := p.amat.Dims()
	return n
}

// AMat returns the shock response matrix.
func (p *ParamStandard) AMat() *mat.Dense { return p.amat }

// BMat returns the persistence matrix.
func (p *ParamStandard) BMat() *mat.Dense { return p.bmat }

// CMat returns the lower-triangular intercept factor.
func (p *ParamStandard) CMat() *mat.Dense { return p.cmat }

// Intercept returns CCᵀ.
func (p *ParamStandard) Intercept() *mat.SymDense {
	return interceptOf(p.cmat)
}

// UVar returns the unconditional covariance implied by the parameters.
// Fails for non-stationary parameters.
func (p *ParamStandard) UVar() (*mat.SymDense, error) {
	return uncondVar(p.amat, p.bmat, p.cmat)
}

// StandardSpace is the optimizer coordinate space for the standard family
// under one restriction and targeting mode.
type StandardSpace struct {
	n           int
	restriction Restriction
	useTarget   bool
	target      *mat.SymDense
}

// NewStandardSpace creates a coordinate space for n assets. The target is
// required when useTarget is set and ignored otherwise.
func NewStandardSpace(n int, r Restriction, useTarget bool, target *mat.SymDense) (*StandardSpace, error) {
	if r.Spatial() {
		return nil, fmt.Errorf("restriction %s belongs to the spatial family: %w", r, ErrInvalidParameter)
	}
	if n < 1 {
		return nil, fmt.Errorf("need at least one asset, got %d: %w", n, ErrInvalidParameter)
	}
	if useTarget {
		if target == nil {
			return nil, fmt.Errorf("targeting requires a target covariance: %w", ErrInvalidParameter)
		}
		if target.SymmetricDim() != n {
			return nil, fmt.Errorf("target dimension %d does not match %d assets: %w", target.SymmetricDim(), n, ErrInvalidParameter)
		}
	}
	return &StandardSpace{n: n, restriction: r, useTarget: useTarget, target: target}, nil
}

// Restriction returns the space's restriction tag.
func (s *StandardSpace) Restriction() Restriction { return s.restriction }

// sideDim is the number of free scalars in one of A or B.
func (s *StandardSpace) sideDim() int {
	switch s.restriction {
	case Full:
		return s.n * s.n
	case Diagonal:
		return s.n
	default: // Scalar
		return 1
	}
}

// Dim returns the total number of free scalars.
func (s *StandardSpace) Dim() int {
	dim := 2 * s.sideDim()
	if !s.useTarget {
		dim += lowerLen(s.n)
	}
	return dim
}

// FromTheta reconstructs full parameters from flat coordinates. Layout: the
// A block, then the B block, then the packed lower triangle of C when the
// intercept is free.
func (s *StandardSpace) FromTheta(theta []float64) (Params, error) {
	if len(theta) != s.Dim() {
		return nil, fmt.Errorf("theta length %d, want %d for %s: %w", len(theta), s.Dim(), s.restriction, ErrInvalidParameter)
	}

	side := s.sideDim()
	amat := s.expandSide(theta[:side])
	bmat := s.expandSide(theta[side : 2*side])

	if s.useTarget {
		return StandardFromTarget(amat, bmat, s.target)
	}
	cmat := lowerTriFromTheta(theta[2*side:], s.n)
	return NewStandard(amat, bmat, cmat)
}

// Theta reduces full parameters to flat coordinates under the restriction.
// Parameters that violate the restriction are rejected, never silently
// projected onto it.
func (s *StandardSpace) Theta(p Params) ([]float64, error) {
	if p.NumAssets() != s.n {
		return nil, fmt.Errorf("parameters have %d assets, space has %d: %w", p.NumAssets(), s.n, ErrInvalidParameter)
	}
	if err := s.checkRestriction(p.AMat()); err != nil {
		return nil, fmt.Errorf("shock matrix: %w", err)
	}
	if err := s.checkRestriction(p.BMat()); err != nil {
		return nil, fmt.Errorf("persistence matrix: %w", err)
	}

	theta := make([]float64, 0, s.Dim())
	theta = s.reduceSide(theta, p.AMat())
	theta = s.reduceSide(theta, p.BMat())
	if !s.useTarget {
		theta = lowerTriToTheta(theta, p.CMat())
	}
	return theta, nil
}

// checkRestriction verifies that the matrix satisfies the restriction
// within tolerance.
func (s *StandardSpace) checkRestriction(m *mat.Dense) error {
	switch s.restriction {
	case Full:
		return nil
	case Diagonal:
		for i := 0; i < s.n; i++ {
			for j := 0; j < s.n; j++ {
				if i != j && math.Abs(m.At(i, j)) > restrictionTol {
					return fmt.Errorf("entry (%d,%d) is nonzero under %s: %w", i, j, s.restriction, ErrInvalidParameter)
				}
			}
		}
		return nil
	default: // Scalar
		v := m.At(0, 0)
		for i := 0; i < s.n; i++ {
			for j := 0; j < s.n; j++ {
				want := 0.0
				if i == j {
					want = v
				}
				if math.Abs(m.At(i, j)-want) > restrictionTol {
					return fmt.Errorf("entry (%d,%d) breaks the %s restriction: %w", i, j, s.restriction, ErrInvalidParameter)
				}
			}
		}
		return nil
	}
}

func (s *StandardSpace) expandSide(coords []float64) *mat.Dense {
	m := mat.NewDense(s.n, s.n, nil)
	switch s.restriction {
	case Full:
		for i := 0; i < s.n; i++ {
			for j := 0; j < s.n; j++ {
				m.Set(i, j, coords[i*s.n+j])
			}
		}
	case Diagonal:
		for i := 0; i < s.n; i++ {
			m.Set(i, i, coords[i])
		}
	default: // Scalar
		for i := 0; i < s.n; i++ {
			m.Set(i, i, coords[0])
		}
	}
	return m
}

func (s *StandardSpace) reduceSide(dst []float64, m *mat.Dense) []float64 {
	switch s.restriction {
	case Full:
		for i := 0; i < s.n; i++ {
			for j := 0; j < s.n; j++ {
				dst = append(dst, m.At(i, j))
			}
		}
	case Diagonal:
		for i := 0; i < s.n; i++ {
			dst = append(dst, m.At(i, i))
		}
	default: // Scalar
		dst = append(dst, m.At(0, 0))
	}
	return dst
}
