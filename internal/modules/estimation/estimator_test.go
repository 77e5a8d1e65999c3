package estimation

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/avolkov/bekk/internal/modules/params"
	"github.com/avolkov/bekk/internal/modules/simulation"
)

func simulateScalarSeries(t *testing.T, n, obs int, a, b float64, seed uint64) (*mat.Dense, params.Params) {
	t.Helper()
	target := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			if i == j {
				target.SetSym(i, j, 1.0)
			} else {
				target.SetSym(i, j, 0.3)
			}
		}
	}
	amat := mat.NewDense(n, n, nil)
	bmat := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		amat.Set(i, i, a)
		bmat.Set(i, i, b)
	}
	truth, err := params.StandardFromTarget(amat, bmat, target)
	require.NoError(t, err)

	innov, _, err := simulation.Simulate(truth, simulation.Config{Obs: obs, Seed: seed})
	require.NoError(t, err)
	return innov, truth
}

func TestNewRejectsBadSeries(t *testing.T) {
	log := zerolog.Nop()

	_, err := New(mat.NewDense(1, 2, nil), log)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)

	bad := mat.NewDense(3, 2, nil)
	bad.Set(1, 1, math.NaN())
	_, err = New(bad, log)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestEstimateRejectsBadConfig(t *testing.T) {
	innov, _ := simulateScalarSeries(t, 2, 50, 0.3, 0.9, 1)
	est, err := New(innov, zerolog.Nop())
	require.NoError(t, err)

	cases := []Config{
		{Model: Spatial, Restriction: params.Homogeneous},               // missing groups
		{Model: Standard, Restriction: params.Homogeneous},              // family mismatch
		{Model: Spatial, Restriction: params.Full, Groups: params.Groups{{{0, 1}}}},
		{Model: Standard, Restriction: params.Scalar, CFree: true},      // cfree without spatial
		{Model: Standard, Restriction: params.Scalar, Method: "genetic"},
	}
	for i, cfg := range cases {
		_, err := est.Estimate(cfg)
		require.Error(t, err, "case %d", i)
		assert.ErrorIs(t, err, ErrConfiguration, "case %d", i)
	}
}

func TestEstimateScalarRecoversTruth(t *testing.T) {
	if testing.Short() {
		t.Skip("optimization is slow")
	}

	trueA, trueB := 0.3, 0.92
	innov, _ := simulateScalarSeries(t, 2, 2000, trueA, trueB, 42)

	est, err := New(innov, zerolog.Nop())
	require.NoError(t, err)

	res, err := est.Estimate(Config{
		Model:       Standard,
		Restriction: params.Scalar,
		UseTarget:   true,
	})
	require.NoError(t, err)
	assert.True(t, res.Converged)

	assert.InDelta(t, trueA, res.Params.AMat().At(0, 0), 0.1)
	assert.InDelta(t, trueB, res.Params.BMat().At(0, 0), 0.05)
	assert.Less(t, params.SpectralRadius(res.Params.AMat(), res.Params.BMat()), 1.0)
}

func TestEstimateLadderNotWorseThanScalar(t *testing.T) {
	if testing.Short() {
		t.Skip("optimization is slow")
	}

	innov, _ := simulateScalarSeries(t, 2, 600, 0.3, 0.9, 7)
	est, err := New(innov, zerolog.Nop())
	require.NoError(t, err)

	scalarRes, err := est.Estimate(Config{Restriction: params.Scalar, UseTarget: true})
	require.NoError(t, err)

	// Diagonal nests scalar and warm-starts from it, so its loss cannot be
	// materially worse.
	diagRes, err := est.Estimate(Config{Restriction: params.Diagonal, UseTarget: true})
	require.NoError(t, err)

	assert.LessOrEqual(t, diagRes.Loss, scalarRes.Loss+1e-3)
}

func TestEstimateFullLadderBeatsDirectStart(t *testing.T) {
	if testing.Short() {
		t.Skip("optimization is slow")
	}

	innov, _ := simulateScalarSeries(t, 2, 600, 0.3, 0.9, 13)
	est, err := New(innov, zerolog.Nop())
	require.NoError(t, err)

	// Ladder path: full is warm-started through scalar and diagonal fits.
	ladderRes, err := est.Estimate(Config{
		Restriction: params.Full,
		UseTarget:   true,
	})
	require.NoError(t, err)

	// Direct path: full from the crude default start, no warm-up stages.
	start, err := est.defaultParams(Config{Model: Standard})
	require.NoError(t, err)
	directRes, err := est.Estimate(Config{
		Restriction: params.Full,
		UseTarget:   true,
		Start:       start,
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, ladderRes.Loss, directRes.Loss+1e-3)
}

func TestEstimateRejectsStartViolatingRestriction(t *testing.T) {
	innov, _ := simulateScalarSeries(t, 2, 100, 0.3, 0.9, 4)
	est, err := New(innov, zerolog.Nop())
	require.NoError(t, err)

	// A full matrix with off-diagonal mass cannot seed a scalar fit; it must
	// be rejected, not silently projected onto the diagonal.
	amat := mat.NewDense(2, 2, []float64{0.3, 0.1, -0.05, 0.25})
	bmat := mat.NewDense(2, 2, []float64{0.9, 0.02, 0.01, 0.85})
	start, err := params.StandardFromTarget(amat, bmat, est.Target())
	require.NoError(t, err)

	_, err = est.Estimate(Config{
		Restriction: params.Scalar,
		UseTarget:   true,
		Start:       start,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestEstimateWithExplicitStart(t *testing.T) {
	innov, truth := simulateScalarSeries(t, 2, 300, 0.3, 0.9, 3)
	est, err := New(innov, zerolog.Nop())
	require.NoError(t, err)

	res, err := est.Estimate(Config{
		Restriction: params.Scalar,
		UseTarget:   true,
		Start:       truth,
		MaxIter:     300,
	})
	require.NoError(t, err)
	assert.Equal(t, params.Scalar, res.Restriction)
	assert.Less(t, res.Loss, likelihoodPenaltyFloor)
}

// likelihoodPenaltyFloor is far below the degeneracy penalty; any genuine
// fit lands under it.
const likelihoodPenaltyFloor = 1e6

func TestEstimateSpatialHomogeneous(t *testing.T) {
	if testing.Short() {
		t.Skip("optimization is slow")
	}

	innov, _ := simulateScalarSeries(t, 2, 400, 0.3, 0.9, 9)
	est, err := New(innov, zerolog.Nop())
	require.NoError(t, err)

	res, err := est.Estimate(Config{
		Model:       Spatial,
		Restriction: params.Homogeneous,
		UseTarget:   true,
		Groups:      params.Groups{{{0, 1}}},
	})
	require.NoError(t, err)

	sp, ok := res.Params.(*params.ParamSpatial)
	require.True(t, ok)
	assert.Len(t, sp.AVec(), 2)
	assert.Less(t, res.Loss, likelihoodPenaltyFloor)
}

func TestObjectivePenalizesNonStationaryTheta(t *testing.T) {
	innov, _ := simulateScalarSeries(t, 2, 100, 0.3, 0.9, 5)
	est, err := New(innov, zerolog.Nop())
	require.NoError(t, err)

	space, err := params.NewStandardSpace(2, params.Scalar, true, est.Target())
	require.NoError(t, err)
	obj := est.objective(space)

	feasible := obj([]float64{0.3, 0.9})
	explosive := obj([]float64{0.9, 0.9})
	moreExplosive := obj([]float64{1.2, 0.9})

	assert.Less(t, feasible, likelihoodPenaltyFloor)
	assert.GreaterOrEqual(t, explosive, likelihoodPenaltyFloor)
	// The penalty must keep sloping upward as the violation grows.
	assert.Greater(t, moreExplosive, explosive)
}

func TestLadderChain(t *testing.T) {
	assert.Equal(t,
		[]params.Restriction{params.Scalar},
		ladder(Standard, params.Scalar))
	assert.Equal(t,
		[]params.Restriction{params.Scalar, params.Diagonal, params.Full},
		ladder(Standard, params.Full))
	assert.Equal(t,
		[]params.Restriction{params.Homogeneous, params.Heterogeneous},
		ladder(Spatial, params.Heterogeneous))
}

func TestLogLikelihoodSign(t *testing.T) {
	innov, _ := simulateScalarSeries(t, 2, 100, 0.3, 0.9, 2)
	est, err := New(innov, zerolog.Nop())
	require.NoError(t, err)

	// A larger deviance always means a lower log-likelihood.
	assert.Greater(t, est.logLikelihood(1.0), est.logLikelihood(2.0))
}

func TestParseModel(t *testing.T) {
	m, err := ParseModel("standard")
	require.NoError(t, err)
	assert.Equal(t, Standard, m)

	m, err = ParseModel("spatial")
	require.NoError(t, err)
	assert.Equal(t, Spatial, m)

	_, err = ParseModel("vec")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}
