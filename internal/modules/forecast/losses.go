// Package forecast scores estimated BEKK models out of sample: it
// re-estimates on rolling windows, forecasts the next conditional
// covariance, and evaluates quasi-likelihood and Frobenius losses against
// the held-out observation.
package forecast

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/avolkov/bekk/internal/modules/estimation"
	"github.com/avolkov/bekk/internal/modules/likelihood"
	"github.com/avolkov/bekk/internal/modules/params"
	"github.com/avolkov/bekk/internal/modules/recursion"
	"github.com/avolkov/bekk/internal/work"
)

// Loss holds the out-of-sample scores for one forecast.
type Loss struct {
	// QLike is the quasi-likelihood loss log det H + uᵀH⁻¹u.
	QLike float64 `json:"qlike" msgpack:"qlike"`
	// Frobenius is ‖uuᵀ − H‖_F, the matrix analogue of squared error.
	Frobenius float64 `json:"frobenius" msgpack:"frobenius"`
}

// WindowResult is the score of one rolling window.
type WindowResult struct {
	// Origin indexes the held-out observation the forecast is scored on.
	Origin    int  `json:"origin" msgpack:"origin"`
	Converged bool `json:"converged" msgpack:"converged"`
	Loss      Loss `json:"loss" msgpack:"loss"`
}

// RestrictionReport aggregates the rolling windows of one restriction.
type RestrictionReport struct {
	Restriction   string         `json:"restriction" msgpack:"restriction"`
	Windows       []WindowResult `json:"windows" msgpack:"windows"`
	MeanQLike     float64        `json:"meanQlike" msgpack:"mean_qlike"`
	MeanFrobenius float64        `json:"meanFrobenius" msgpack:"mean_frobenius"`
}

// Report is the full forecast-loss comparison across restrictions.
type Report struct {
	Window       int                 `json:"window" msgpack:"window"`
	Restrictions []RestrictionReport `json:"restrictions" msgpack:"restrictions"`
}

// Evaluator runs rolling-window loss collection over a worker pool. Each
// window estimation is a pure function of its sub-series, so windows are
// dispatched concurrently without shared mutable state.
type Evaluator struct {
	pool *work.Pool
	log  zerolog.Logger
}

// NewEvaluator creates a forecast evaluator.
func NewEvaluator(pool *work.Pool, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		pool: pool,
		log:  log.With().Str("component", "forecast").Logger(),
	}
}

// CollectLosses evaluates every restriction on every rolling window of the
// series. The base configuration supplies model, targeting and solver
// options; its restriction field is overridden per report entry.
func (ev *Evaluator) CollectLosses(ctx context.Context, innov *mat.Dense, window int, base estimation.Config, restrictions []params.Restriction) (*Report, error) {
	nobs, _ := innov.Dims()
	if window < 2 || window >= nobs {
		return nil, fmt.Errorf("window %d must be in [2,%d): %w", window, nobs, estimation.ErrConfiguration)
	}
	if len(restrictions) == 0 {
		return nil, fmt.Errorf("at least one restriction required: %w", estimation.ErrConfiguration)
	}

	report := &Report{Window: window}
	origins := nobs - window

	for _, r := range restrictions {
		results := make([]WindowResult, origins)
		jobs := make([]work.Job, origins)
		for i := 0; i < origins; i++ {
			i := i
			origin := window + i
			cfg := base
			cfg.Restriction = r
			jobs[i] = func(ctx context.Context) error {
				res, err := ev.scoreWindow(innov, origin, window, cfg)
				if err != nil {
					return fmt.Errorf("restriction %s origin %d: %w", r, origin, err)
				}
				results[i] = *res
				return nil
			}
		}

		if err := ev.pool.Run(ctx, jobs); err != nil {
			return nil, err
		}

		rep := RestrictionReport{Restriction: r.String(), Windows: results}
		for _, w := range results {
			rep.MeanQLike += w.Loss.QLike / float64(origins)
			rep.MeanFrobenius += w.Loss.Frobenius / float64(origins)
		}
		report.Restrictions = append(report.Restrictions, rep)

		ev.log.Info().
			Str("restriction", r.String()).
			Int("windows", origins).
			Float64("meanQlike", rep.MeanQLike).
			Msg("restriction scored")
	}

	return report, nil
}

// scoreWindow estimates on innov[origin−window, origin) and scores the
// one-step-ahead forecast against observation origin.
func (ev *Evaluator) scoreWindow(innov *mat.Dense, origin, window int, cfg estimation.Config) (*WindowResult, error) {
	_, n := innov.Dims()
	sub := innov.Slice(origin-window, origin, 0, n).(*mat.Dense)

	est, err := estimation.New(sub, ev.log)
	if err != nil {
		return nil, err
	}
	res, err := est.Estimate(cfg)
	if err != nil {
		return nil, err
	}

	forecastVar, err := ev.forecastOne(est, res.Params, sub)
	if err != nil {
		return nil, err
	}

	realized := innov.RowView(origin)
	qlike, ok := likelihood.Contribution(forecastVar, realized)
	if !ok {
		qlike = likelihood.DegeneracyPenalty
	}

	return &WindowResult{
		Origin:    origin,
		Converged: res.Converged,
		Loss: Loss{
			QLike:     qlike,
			Frobenius: frobenius(forecastVar, realized),
		},
	}, nil
}

// forecastOne filters the estimation window under the fitted parameters and
// advances the recursion one step past its end.
func (ev *Evaluator) forecastOne(est *estimation.Estimator, p params.Params, sub *mat.Dense) (*mat.SymDense, error) {
	nobs, n := sub.Dims()
	hvar := recursion.NewPath(nobs, n)
	hvar[0].CopySym(est.Target())
	if err := recursion.Filter(hvar, sub, p.AMat(), p.BMat(), p.Intercept()); err != nil {
		return nil, err
	}

	next := mat.NewSymDense(n, nil)
	recursion.Step(next, hvar[nobs-1], sub.RowView(nobs-1), p.AMat(), p.BMat(), p.Intercept())
	return next, nil
}

// frobenius returns ‖uuᵀ − H‖_F.
func frobenius(h *mat.SymDense, u mat.Vector) float64 {
	n := h.SymmetricDim()
	sum := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := u.AtVec(i)*u.AtVec(j) - h.At(i, j)
			sum += d * d
		}
	}
	return math.Sqrt(sum)
}
