package params

import "fmt"

// Restriction identifies how many free scalars parameterize the shock and
// persistence matrices. Full, Diagonal and Scalar belong to the standard
// family; Homogeneous, Heterogeneous and Group belong to the spatial family.
type Restriction int

const (
	// Full keeps all n² entries of each matrix free.
	Full Restriction = iota
	// Diagonal keeps the n diagonal entries of each matrix free.
	Diagonal
	// Scalar ties each matrix to a single multiple of the identity.
	Scalar
	// Homogeneous uses one own coefficient and one spatial coefficient
	// shared by all groups.
	Homogeneous
	// Heterogeneous uses one own coefficient and one spatial coefficient
	// per category.
	Heterogeneous
	// Group uses one own coefficient and one spatial coefficient per
	// individual group.
	Group
)

// String returns the canonical tag for the restriction.
func (r Restriction) String() string {
	switch r {
	case Full:
		return "full"
	case Diagonal:
		return "diagonal"
	case Scalar:
		return "scalar"
	case Homogeneous:
		return "homogeneous"
	case Heterogeneous:
		return "heterogeneous"
	case Group:
		return "group"
	default:
		return "unknown"
	}
}

// Spatial reports whether the restriction belongs to the spatial family.
func (r Restriction) Spatial() bool {
	switch r {
	case Homogeneous, Heterogeneous, Group:
		return true
	default:
		return false
	}
}

// ParseRestriction converts a restriction tag to its Restriction value.
func ParseRestriction(s string) (Restriction, error) {
	switch s {
	case "full":
		return Full, nil
	case "diagonal":
		return Diagonal, nil
	case "scalar":
		return Scalar, nil
	case "homogeneous":
		return Homogeneous, nil
	case "heterogeneous":
		return Heterogeneous, nil
	case "group":
		return Group, nil
	default:
		return 0, fmt.Errorf("unknown restriction %q: %w", s, ErrInvalidParameter)
	}
}
