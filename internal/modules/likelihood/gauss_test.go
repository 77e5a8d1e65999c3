package likelihood

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestContributionUnivariate(t *testing.T) {
	// For n=1 the contribution is log h + u²/h.
	h := mat.NewSymDense(1, []float64{2.0})
	u := mat.NewVecDense(1, []float64{0.5})

	ll, ok := Contribution(h, u)
	require.True(t, ok)
	assert.InDelta(t, math.Log(2.0)+0.25/2.0, ll, 1e-12)
}

func TestContributionDiagonal(t *testing.T) {
	h := mat.NewSymDense(2, []float64{4, 0, 0, 1})
	u := mat.NewVecDense(2, []float64{2, 1})

	ll, ok := Contribution(h, u)
	require.True(t, ok)
	// log det = log 4, quadratic form = 4/4 + 1/1.
	assert.InDelta(t, math.Log(4)+2.0, ll, 1e-12)
}

func TestContributionRejectsNonPositiveDefinite(t *testing.T) {
	h := mat.NewSymDense(2, []float64{1, 2, 2, 1})
	u := mat.NewVecDense(2, []float64{1, 1})

	_, ok := Contribution(h, u)
	assert.False(t, ok)
}

func TestGaussSkipsSeed(t *testing.T) {
	// Three observations: only t=1 and t=2 contribute, averaged.
	innov := mat.NewDense(3, 1, []float64{10.0, 1.0, -0.5})
	hvar := []*mat.SymDense{
		mat.NewSymDense(1, []float64{1e-8}), // seed, must be ignored
		mat.NewSymDense(1, []float64{2.0}),
		mat.NewSymDense(1, []float64{1.5}),
	}

	got := Gauss(hvar, innov)
	want := ((math.Log(2.0) + 1.0/2.0) + (math.Log(1.5) + 0.25/1.5)) / 2
	assert.InDelta(t, want, got, 1e-12)
}

func TestGaussPenalizesDegeneratePath(t *testing.T) {
	innov := mat.NewDense(3, 2, []float64{1, 0, 0, 1, 1, 1})
	hvar := []*mat.SymDense{
		mat.NewSymDense(2, []float64{1, 0, 0, 1}),
		mat.NewSymDense(2, []float64{1, 0, 0, 1}),
		mat.NewSymDense(2, []float64{1, 2, 2, 1}), // not positive definite
	}

	assert.Equal(t, DegeneracyPenalty, Gauss(hvar, innov))
}

func TestGaussWorsensWithMisfit(t *testing.T) {
	// The same path scored against increasingly large innovations must score
	// strictly worse.
	hvar := []*mat.SymDense{
		mat.NewSymDense(1, []float64{1}),
		mat.NewSymDense(1, []float64{1}),
		mat.NewSymDense(1, []float64{1}),
	}
	small := mat.NewDense(3, 1, []float64{0, 0.5, -0.5})
	large := mat.NewDense(3, 1, []float64{0, 3.0, -3.0})

	assert.Less(t, Gauss(hvar, small), Gauss(hvar, large))
}

func TestGaussRejectsShortSeries(t *testing.T) {
	innov := mat.NewDense(1, 1, []float64{1})
	hvar := []*mat.SymDense{mat.NewSymDense(1, []float64{1})}
	assert.Equal(t, DegeneracyPenalty, Gauss(hvar, innov))
}
