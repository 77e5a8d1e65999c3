// Package simulation generates innovation series from known BEKK
// parameters, for model validation and forecast-loss experiments.
package simulation

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/avolkov/bekk/internal/modules/params"
	"github.com/avolkov/bekk/internal/modules/recursion"
)

// Distribution selects the innovation noise law.
type Distribution int

const (
	// Gaussian draws standard normal noise.
	Gaussian Distribution = iota
	// StudentT draws Student-t noise rescaled to unit variance.
	StudentT
)

// ParseDistribution converts a distribution tag to its value.
func ParseDistribution(s string) (Distribution, error) {
	switch s {
	case "", "gaussian", "normal":
		return Gaussian, nil
	case "studentt", "student-t":
		return StudentT, nil
	default:
		return 0, fmt.Errorf("unknown distribution %q", s)
	}
}

// Config describes one simulation run.
type Config struct {
	Obs   int
	Distr Distribution
	// DegFree is the Student-t degrees of freedom; must exceed 2 so the
	// rescaling to unit variance exists.
	DegFree float64
	Seed    uint64
}

// Simulate draws an innovation series of cfg.Obs observations from the
// model and returns it together with the true covariance path. The path is
// seeded with the model's unconditional covariance, so the parameters must
// be stationary.
func Simulate(p params.Params, cfg Config) (*mat.Dense, []*mat.SymDense, error) {
	if cfg.Obs < 2 {
		return nil, nil, fmt.Errorf("need at least 2 observations, got %d", cfg.Obs)
	}
	if cfg.Distr == StudentT && cfg.DegFree <= 2 {
		return nil, nil, fmt.Errorf("student-t degrees of freedom must exceed 2, got %v", cfg.DegFree)
	}

	n := p.NumAssets()
	uvar, err := p.UVar()
	if err != nil {
		return nil, nil, err
	}

	src := rand.NewPCG(cfg.Seed, cfg.Seed+1)
	draw := noiseSource(cfg, src)

	hvar := recursion.NewPath(cfg.Obs, n)
	hvar[0].CopySym(uvar)

	innov := mat.NewDense(cfg.Obs, n, nil)
	intercept := p.Intercept()
	z := mat.NewVecDense(n, nil)
	u := mat.NewVecDense(n, nil)

	var chol mat.Cholesky
	var l mat.TriDense
	for t := 0; t < cfg.Obs; t++ {
		if t > 0 {
			recursion.Step(hvar[t], hvar[t-1], innov.RowView(t-1), p.AMat(), p.BMat(), intercept)
		}
		if !chol.Factorize(hvar[t]) {
			return nil, nil, fmt.Errorf("covariance lost positive definiteness at t=%d: %w", t, params.ErrInvalidParameter)
		}
		chol.LTo(&l)
		for i := 0; i < n; i++ {
			z.SetVec(i, draw())
		}
		u.MulVec(&l, z)
		for i := 0; i < n; i++ {
			innov.Set(t, i, u.AtVec(i))
		}
	}

	return innov, hvar, nil
}

// noiseSource builds a unit-variance scalar sampler.
func noiseSource(cfg Config, src rand.Source) func() float64 {
	switch cfg.Distr {
	case StudentT:
		t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: cfg.DegFree, Src: src}
		scale := math.Sqrt((cfg.DegFree - 2) / cfg.DegFree)
		return func() float64 { return t.Rand() * scale }
	default:
		norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
		return norm.Rand
	}
}
