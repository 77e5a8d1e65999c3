package params

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Groups defines the spatial structure: categories of groups, each group a
// set of asset indices. Assets in the same group load on each other through
// a row-stochastic weight matrix; a single asset may appear in groups of
// different categories but only once per category.
type Groups [][][]int

// NumCategories returns the number of categories.
func (g Groups) NumCategories() int { return len(g) }

// NumGroups returns the total number of groups across all categories.
func (g Groups) NumGroups() int {
	total := 0
	for _, cat := range g {
		total += len(cat)
	}
	return total
}

// NumAssets returns the smallest cross-section size that covers every
// member index.
func (g Groups) NumAssets() int {
	n := 0
	for _, cat := range g {
		for _, grp := range cat {
			for _, idx := range grp {
				if idx+1 > n {
					n = idx + 1
				}
			}
		}
	}
	return n
}

// Validate checks the structural soundness of the group definition for a
// cross-section of n assets.
func (g Groups) Validate(n int) error {
	if len(g) == 0 {
		return fmt.Errorf("at least one category required: %w", ErrInvalidParameter)
	}
	for ci, cat := range g {
		if len(cat) == 0 {
			return fmt.Errorf("category %d has no groups: %w", ci, ErrInvalidParameter)
		}
		seen := make(map[int]bool)
		for gi, grp := range cat {
			if len(grp) < 2 {
				return fmt.Errorf("category %d group %d needs at least two members: %w", ci, gi, ErrInvalidParameter)
			}
			for _, idx := range grp {
				if idx < 0 || idx >= n {
					return fmt.Errorf("category %d group %d member %d out of range [0,%d): %w", ci, gi, idx, n, ErrInvalidParameter)
				}
				if seen[idx] {
					return fmt.Errorf("asset %d appears twice in category %d: %w", idx, ci, ErrInvalidParameter)
				}
				seen[idx] = true
			}
		}
	}
	return nil
}

// GroupWeights builds one weight matrix per group. Within a group of size m
// every off-diagonal pair carries weight 1/(m−1), so member rows sum to one.
func (g Groups) GroupWeights(n int) ([]*mat.Dense, error) {
	if err := g.Validate(n); err != nil {
		return nil, err
	}
	weights := make([]*mat.Dense, 0, g.NumGroups())
	for _, cat := range g {
		for _, grp := range cat {
			w := mat.NewDense(n, n, nil)
			v := 1.0 / float64(len(grp)-1)
			for _, i := range grp {
				for _, j := range grp {
					if i != j {
						w.Set(i, j, v)
					}
				}
			}
			weights = append(weights, w)
		}
	}
	return weights, nil
}

// Expand builds an n×n coefficient matrix from a group-level coefficient
// vector: vec[0]·I plus vec[1+k] times the k-th group weight matrix.
func (g Groups) Expand(vec []float64, n int) (*mat.Dense, error) {
	if len(vec) != 1+g.NumGroups() {
		return nil, fmt.Errorf("coefficient vector length %d, want %d: %w", len(vec), 1+g.NumGroups(), ErrInvalidParameter)
	}
	weights, err := g.GroupWeights(n)
	if err != nil {
		return nil, err
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, vec[0])
	}
	for k, w := range weights {
		var scaled mat.Dense
		scaled.Scale(vec[1+k], w)
		m.Add(m, &scaled)
	}
	return m, nil
}

// ParamSpatial holds spatial-family parameters: the group-level coefficient
// vectors plus the expanded structural matrices.
type ParamSpatial struct {
	ParamStandard
	avec   []float64
	bvec   []float64
	groups Groups
}

// SpatialFromVecs creates spatial parameters from group-level coefficient
// vectors and an explicit intercept factor. Vector layout: the own
// coefficient first, then one coefficient per group in category order.
func SpatialFromVecs(avec, bvec []float64, cmat *mat.Dense, groups Groups, n int) (*ParamSpatial, error) {
	amat, err := groups.Expand(avec, n)
	if err != nil {
		return nil, fmt.Errorf("shock coefficients: %w", err)
	}
	bmat, err := groups.Expand(bvec, n)
	if err != nil {
		return nil, fmt.Errorf("persistence coefficients: %w", err)
	}
	std, err := NewStandard(amat, bmat, cmat)
	if err != nil {
		return nil, err
	}
	p := &ParamSpatial{
		ParamStandard: *std,
		avec:          append([]float64(nil), avec...),
		bvec:          append([]float64(nil), bvec...),
		groups:        groups,
	}
	return p, nil
}

// SpatialFromTarget creates spatial parameters with the intercept derived
// from the unconditional covariance target.
func SpatialFromTarget(avec, bvec []float64, target *mat.SymDense, groups Groups) (*ParamSpatial, error) {
	n := target.SymmetricDim()
	amat, err := groups.Expand(avec, n)
	if err != nil {
		return nil, fmt.Errorf("shock coefficients: %w", err)
	}
	bmat, err := groups.Expand(bvec, n)
	if err != nil {
		return nil, fmt.Errorf("persistence coefficients: %w", err)
	}
	cmat, err := FindCMat(amat, bmat, target)
	if err != nil {
		return nil, err
	}
	return SpatialFromVecs(avec, bvec, cmat, groups, n)
}

// AVec returns the group-level shock coefficient vector.
func (p *ParamSpatial) AVec() []float64 { return p.avec }

// BVec returns the group-level persistence coefficient vector.
func (p *ParamSpatial) BVec() []float64 { return p.bvec }

// Groups returns the spatial structure.
func (p *ParamSpatial) Groups() Groups { return p.groups }

// SpatialSpace is the optimizer coordinate space for the spatial family.
// The intercept is free whenever targeting is off or cfree is set; with
// targeting and cfree off it is derived from the target.
type SpatialSpace struct {
	n           int
	restriction Restriction
	useTarget   bool
	cfree       bool
	target      *mat.SymDense
	groups      Groups
}

// NewSpatialSpace creates a spatial coordinate space for n assets.
func NewSpatialSpace(n int, r Restriction, useTarget, cfree bool, target *mat.SymDense, groups Groups) (*SpatialSpace, error) {
	if !r.Spatial() {
		return nil, fmt.Errorf("restriction %s belongs to the standard family: %w", r, ErrInvalidParameter)
	}
	if err := groups.Validate(n); err != nil {
		return nil, err
	}
	if useTarget && !cfree {
		if target == nil {
			return nil, fmt.Errorf("targeting requires a target covariance: %w", ErrInvalidParameter)
		}
		if target.SymmetricDim() != n {
			return nil, fmt.Errorf("target dimension %d does not match %d assets: %w", target.SymmetricDim(), n, ErrInvalidParameter)
		}
	}
	return &SpatialSpace{n: n, restriction: r, useTarget: useTarget, cfree: cfree, target: target, groups: groups}, nil
}

// Restriction returns the space's restriction tag.
func (s *SpatialSpace) Restriction() Restriction { return s.restriction }

// interceptFree reports whether the intercept factor is part of theta.
func (s *SpatialSpace) interceptFree() bool { return s.cfree || !s.useTarget }

// sideDim is the number of free scalars in one coefficient vector.
func (s *SpatialSpace) sideDim() int {
	switch s.restriction {
	case Homogeneous:
		return 2
	case Heterogeneous:
		return 1 + s.groups.NumCategories()
	default: // Group
		return 1 + s.groups.NumGroups()
	}
}

// Dim returns the total number of free scalars.
func (s *SpatialSpace) Dim() int {
	dim := 2 * s.sideDim()
	if s.interceptFree() {
		dim += lowerLen(s.n)
	}
	return dim
}

// FromTheta reconstructs spatial parameters from flat coordinates. Layout:
// the A coordinates, then the B coordinates, then the packed lower triangle
// of C when the intercept is free.
func (s *SpatialSpace) FromTheta(theta []float64) (Params, error) {
	if len(theta) != s.Dim() {
		return nil, fmt.Errorf("theta length %d, want %d for %s: %w", len(theta), s.Dim(), s.restriction, ErrInvalidParameter)
	}

	side := s.sideDim()
	avec := s.expandCoords(theta[:side])
	bvec := s.expandCoords(theta[side : 2*side])

	if s.interceptFree() {
		cmat := lowerTriFromTheta(theta[2*side:], s.n)
		return SpatialFromVecs(avec, bvec, cmat, s.groups, s.n)
	}
	return SpatialFromTarget(avec, bvec, s.target, s.groups)
}

// Theta reduces spatial parameters to flat coordinates. The parameters must
// carry group-level coefficient vectors, i.e. come from the spatial family,
// and the vectors must satisfy the restriction; off-restriction entries are
// rejected, never silently projected.
func (s *SpatialSpace) Theta(p Params) ([]float64, error) {
	sp, ok := p.(*ParamSpatial)
	if !ok {
		return nil, fmt.Errorf("spatial coordinates require spatial parameters: %w", ErrInvalidParameter)
	}
	if sp.NumAssets() != s.n {
		return nil, fmt.Errorf("parameters have %d assets, space has %d: %w", sp.NumAssets(), s.n, ErrInvalidParameter)
	}
	if len(sp.avec) != 1+s.groups.NumGroups() {
		return nil, fmt.Errorf("parameters built for a different group structure: %w", ErrInvalidParameter)
	}

	acoords, err := s.reduceCoords(sp.avec)
	if err != nil {
		return nil, fmt.Errorf("shock coefficients: %w", err)
	}
	bcoords, err := s.reduceCoords(sp.bvec)
	if err != nil {
		return nil, fmt.Errorf("persistence coefficients: %w", err)
	}

	theta := make([]float64, 0, s.Dim())
	theta = append(theta, acoords...)
	theta = append(theta, bcoords...)
	if s.interceptFree() {
		theta = lowerTriToTheta(theta, sp.CMat())
	}
	return theta, nil
}

// expandCoords maps restricted coordinates to the group-level vector.
func (s *SpatialSpace) expandCoords(coords []float64) []float64 {
	vec := make([]float64, 1+s.groups.NumGroups())
	vec[0] = coords[0]
	k := 1
	switch s.restriction {
	case Homogeneous:
		for _, cat := range s.groups {
			for range cat {
				vec[k] = coords[1]
				k++
			}
		}
	case Heterogeneous:
		for ci, cat := range s.groups {
			for range cat {
				vec[k] = coords[1+ci]
				k++
			}
		}
	default: // Group
		copy(vec[1:], coords[1:])
	}
	return vec
}

// reduceCoords maps a group-level vector back to restricted coordinates.
// Inverse of expandCoords; vectors whose tied entries disagree beyond
// tolerance fail with ErrInvalidParameter.
func (s *SpatialSpace) reduceCoords(vec []float64) ([]float64, error) {
	switch s.restriction {
	case Homogeneous:
		for k := 2; k < len(vec); k++ {
			if math.Abs(vec[k]-vec[1]) > restrictionTol {
				return nil, fmt.Errorf("group coefficient %d differs under %s: %w", k, s.restriction, ErrInvalidParameter)
			}
		}
		return []float64{vec[0], vec[1]}, nil
	case Heterogeneous:
		coords := make([]float64, 1, 1+s.groups.NumCategories())
		coords[0] = vec[0]
		k := 1
		for ci, cat := range s.groups {
			for g := 1; g < len(cat); g++ {
				if math.Abs(vec[k+g]-vec[k]) > restrictionTol {
					return nil, fmt.Errorf("category %d coefficients differ under %s: %w", ci, s.restriction, ErrInvalidParameter)
				}
			}
			coords = append(coords, vec[k])
			k += len(cat)
		}
		return coords, nil
	default: // Group
		return append([]float64(nil), vec...), nil
	}
}
