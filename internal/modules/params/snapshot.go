package params

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Snapshot is a flat, serializable image of Params, used for persistence
// and for the HTTP API. Matrix payloads are row-major.
type Snapshot struct {
	Model  string    `msgpack:"model" json:"model"`
	N      int       `msgpack:"n" json:"n"`
	A      []float64 `msgpack:"a" json:"a"`
	B      []float64 `msgpack:"b" json:"b"`
	C      []float64 `msgpack:"c" json:"c"`
	AVec   []float64 `msgpack:"avec,omitempty" json:"avec,omitempty"`
	BVec   []float64 `msgpack:"bvec,omitempty" json:"bvec,omitempty"`
	Groups Groups    `msgpack:"groups,omitempty" json:"groups,omitempty"`
}

// Snap captures a snapshot of the given parameters.
func Snap(p Params) Snapshot {
	n := p.NumAssets()
	s := Snapshot{
		Model: "standard",
		N:     n,
		A:     flatten(p.AMat()),
		B:     flatten(p.BMat()),
		C:     flatten(p.CMat()),
	}
	if sp, ok := p.(*ParamSpatial); ok {
		s.Model = "spatial"
		s.AVec = append([]float64(nil), sp.AVec()...)
		s.BVec = append([]float64(nil), sp.BVec()...)
		s.Groups = sp.Groups()
	}
	return s
}

// Params reconstructs full parameters from the snapshot.
func (s Snapshot) Params() (Params, error) {
	if s.N < 1 || len(s.A) != s.N*s.N || len(s.B) != s.N*s.N || len(s.C) != s.N*s.N {
		return nil, fmt.Errorf("snapshot has inconsistent dimensions: %w", ErrInvalidParameter)
	}
	amat := mat.NewDense(s.N, s.N, append([]float64(nil), s.A...))
	bmat := mat.NewDense(s.N, s.N, append([]float64(nil), s.B...))
	cmat := mat.NewDense(s.N, s.N, append([]float64(nil), s.C...))

	switch s.Model {
	case "standard":
		return NewStandard(amat, bmat, cmat)
	case "spatial":
		return SpatialFromVecs(s.AVec, s.BVec, cmat, s.Groups, s.N)
	default:
		return nil, fmt.Errorf("unknown model %q: %w", s.Model, ErrInvalidParameter)
	}
}

func flatten(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}
