// Package estimation drives the quasi-maximum-likelihood fit of BEKK
// parameters: it composes the coordinate mapping, the variance recursion
// and the likelihood into an optimizer objective, enforces stationarity by
// penalty, and warm-starts harder restrictions from simpler ones.
package estimation

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/avolkov/bekk/internal/modules/likelihood"
	"github.com/avolkov/bekk/internal/modules/params"
	"github.com/avolkov/bekk/internal/modules/recursion"
)

// stationarityBound is the spectral-radius ceiling below which candidates
// are evaluated exactly. At or above it the objective switches to a penalty
// that grows with the radius, so the optimizer is pushed back into the
// stationary region instead of crashing on an exploding recursion.
const stationarityBound = 0.9999

// Result is the outcome of one Estimate call. Immutable once returned.
type Result struct {
	Params params.Params
	// Theta is the final flat coordinate vector, usable to warm-start a
	// follow-up estimation.
	Theta []float64
	// Loss is the minimized mean Gaussian deviance (lower is better).
	Loss float64
	// LogLikelihood is the full Gaussian quasi-log-likelihood implied by
	// Loss over the filtered observations.
	LogLikelihood float64
	Converged     bool
	Status        string
	Iterations    int
	Restriction   params.Restriction
}

// Estimator fits BEKK parameters to one innovation series. The series and
// the sample's unconditional covariance are read-only after construction,
// so a single Estimator is safe to share across concurrent Estimate calls.
type Estimator struct {
	innov  *mat.Dense
	nobs   int
	n      int
	target *mat.SymDense
	log    zerolog.Logger
}

// New creates an estimator over the given T×n innovation series. The
// sample's unconditional covariance is computed once, for targeting and for
// seeding the recursion.
func New(innov *mat.Dense, log zerolog.Logger) (*Estimator, error) {
	nobs, n := innov.Dims()
	if nobs < 2 || n < 1 {
		return nil, fmt.Errorf("innovation series must be at least 2x1, got %dx%d: %w", nobs, n, ErrConfiguration)
	}
	for i := 0; i < nobs; i++ {
		for j := 0; j < n; j++ {
			if v := innov.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("non-finite innovation at [%d,%d]: %w", i, j, ErrConfiguration)
			}
		}
	}

	return &Estimator{
		innov:  innov,
		nobs:   nobs,
		n:      n,
		target: sampleCovariance(innov),
		log:    log.With().Str("component", "estimation").Logger(),
	}, nil
}

// Target returns the sample's unconditional covariance (uncentered, since
// innovations are mean zero by construction).
func (e *Estimator) Target() *mat.SymDense {
	out := mat.NewSymDense(e.n, nil)
	out.CopySym(e.target)
	return out
}

// NumAssets returns the cross-section size.
func (e *Estimator) NumAssets() int { return e.n }

// Estimate fits the configured model. NotConverged is reported through the
// result's Converged flag, not as an error; errors are reserved for
// malformed configuration.
func (e *Estimator) Estimate(cfg Config) (*Result, error) {
	cfg, err := cfg.normalize(e.n)
	if err != nil {
		return nil, err
	}

	space, err := e.space(cfg, cfg.Restriction)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	var theta0 []float64
	if cfg.Start != nil {
		theta0, err = space.Theta(cfg.Start)
		if err != nil {
			return nil, fmt.Errorf("start parameters do not fit restriction %s: %w", cfg.Restriction, ErrConfiguration)
		}
	} else {
		theta0, err = e.ladderStart(cfg, space)
		if err != nil {
			return nil, err
		}
	}

	return e.fit(cfg, space, theta0)
}

// fit runs one optimization in the given coordinate space.
func (e *Estimator) fit(cfg Config, space params.Space, theta0 []float64) (*Result, error) {
	solver := &GonumSolver{Method: cfg.Method}

	e.log.Debug().
		Str("restriction", space.Restriction().String()).
		Int("dim", space.Dim()).
		Msg("starting optimization")

	sol, err := solver.Minimize(e.objective(space), theta0, cfg.MaxIter)
	if err != nil {
		return nil, fmt.Errorf("restriction %s: %w", space.Restriction(), err)
	}

	final, err := space.FromTheta(sol.Theta)
	if err != nil {
		return nil, fmt.Errorf("final iterate is infeasible for %s: %w", space.Restriction(), err)
	}

	if !sol.Converged {
		e.log.Warn().
			Str("restriction", space.Restriction().String()).
			Str("status", sol.Status).
			Int("iterations", sol.Iterations).
			Msg("optimizer stopped without convergence")
	}

	return &Result{
		Params:        final,
		Theta:         sol.Theta,
		Loss:          sol.Value,
		LogLikelihood: e.logLikelihood(sol.Value),
		Converged:     sol.Converged,
		Status:        sol.Status,
		Iterations:    sol.Iterations,
		Restriction:   space.Restriction(),
	}, nil
}

// objective composes theta → parameters → covariance path → mean deviance.
// Every failure mode maps to a finite penalty so the optimizer is repelled,
// never crashed.
func (e *Estimator) objective(space params.Space) func([]float64) float64 {
	return func(theta []float64) (obj float64) {
		defer func() {
			if recover() != nil {
				obj = likelihood.DegeneracyPenalty
			}
		}()

		p, err := space.FromTheta(theta)
		if err != nil {
			return likelihood.DegeneracyPenalty
		}

		radius := params.SpectralRadius(p.AMat(), p.BMat())
		if radius >= stationarityBound {
			// Monotone in the violation so the surface still slopes back
			// toward the feasible region.
			return likelihood.DegeneracyPenalty * (1 + radius - stationarityBound)
		}

		hvar := recursion.NewPath(e.nobs, e.n)
		hvar[0].CopySym(e.target)
		if err := recursion.Filter(hvar, e.innov, p.AMat(), p.BMat(), p.Intercept()); err != nil {
			return likelihood.DegeneracyPenalty
		}
		return likelihood.Gauss(hvar, e.innov)
	}
}

// ladderStart solves the restriction ladder up to (excluding) the requested
// restriction and maps the last fitted parameters into the final space. The
// ladder only widens the free-parameter set, never narrows it.
func (e *Estimator) ladderStart(cfg Config, final params.Space) ([]float64, error) {
	chain := ladder(cfg.Model, cfg.Restriction)

	p, err := e.defaultParams(cfg)
	if err != nil {
		return nil, fmt.Errorf("default start: %w", err)
	}

	for _, r := range chain[:len(chain)-1] {
		space, err := e.space(cfg, r)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		theta, err := space.Theta(p)
		if err != nil {
			return nil, fmt.Errorf("ladder stage %s: %w", r, err)
		}
		res, err := e.fit(cfg, space, theta)
		if err != nil {
			return nil, err
		}
		e.log.Debug().
			Str("stage", r.String()).
			Float64("loss", res.Loss).
			Bool("converged", res.Converged).
			Msg("ladder stage done")
		p = res.Params
	}

	return final.Theta(p)
}

// ladder lists the restrictions from most to least restricted, ending at
// the requested one.
func ladder(model Model, target params.Restriction) []params.Restriction {
	var chain []params.Restriction
	if model == Spatial {
		chain = []params.Restriction{params.Homogeneous, params.Heterogeneous, params.Group}
	} else {
		chain = []params.Restriction{params.Scalar, params.Diagonal, params.Full}
	}
	for i, r := range chain {
		if r == target {
			return chain[:i+1]
		}
	}
	return chain
}

// defaultParams is the crude first-stage start: mildly persistent scalar
// dynamics with the intercept matched to the sample covariance.
func (e *Estimator) defaultParams(cfg Config) (params.Params, error) {
	const (
		defaultShock       = 0.3
		defaultPersistence = 0.8
		defaultSpatialLoad = 0.05
	)

	if cfg.Model == Spatial {
		avec := make([]float64, 1+cfg.Groups.NumGroups())
		bvec := make([]float64, 1+cfg.Groups.NumGroups())
		avec[0] = defaultShock
		bvec[0] = defaultPersistence
		for k := 1; k < len(avec); k++ {
			avec[k] = defaultSpatialLoad
			bvec[k] = defaultSpatialLoad
		}
		return params.SpatialFromTarget(avec, bvec, e.target, cfg.Groups)
	}

	amat := scaledIdentity(e.n, defaultShock)
	bmat := scaledIdentity(e.n, defaultPersistence)
	return params.StandardFromTarget(amat, bmat, e.target)
}

func (e *Estimator) space(cfg Config, r params.Restriction) (params.Space, error) {
	if cfg.Model == Spatial {
		return params.NewSpatialSpace(e.n, r, cfg.UseTarget, cfg.CFree, e.target, cfg.Groups)
	}
	return params.NewStandardSpace(e.n, r, cfg.UseTarget, e.target)
}

// logLikelihood converts the mean deviance into the full Gaussian
// quasi-log-likelihood over the T−1 filtered observations.
func (e *Estimator) logLikelihood(loss float64) float64 {
	t := float64(e.nobs - 1)
	return -0.5 * t * (float64(e.n)*math.Log(2*math.Pi) + loss)
}

func scaledIdentity(n int, v float64) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, v)
	}
	return m
}

// sampleCovariance is the uncentered second-moment matrix of the series.
func sampleCovariance(innov *mat.Dense) *mat.SymDense {
	nobs, n := innov.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := 0.0
			for t := 0; t < nobs; t++ {
				sum += innov.At(t, i) * innov.At(t, j)
			}
			out.SetSym(i, j, sum/float64(nobs))
		}
	}
	return out
}
