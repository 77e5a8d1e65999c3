package estimation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGonumSolverQuadratic(t *testing.T) {
	obj := func(x []float64) float64 {
		return (x[0]-1)*(x[0]-1) + (x[1]+2)*(x[1]+2)
	}

	for _, method := range []string{"neldermead", "bfgs"} {
		solver := &GonumSolver{Method: method}
		sol, err := solver.Minimize(obj, []float64{0, 0}, 500)
		require.NoError(t, err, method)
		assert.True(t, sol.Converged, method)
		assert.InDelta(t, 1.0, sol.Theta[0], 1e-4, method)
		assert.InDelta(t, -2.0, sol.Theta[1], 1e-4, method)
		assert.InDelta(t, 0.0, sol.Value, 1e-6, method)
	}
}

func TestGonumSolverReportsBudgetExhaustion(t *testing.T) {
	// Rosenbrock is slow enough that two iterations cannot converge.
	obj := func(x []float64) float64 {
		a := 1 - x[0]
		b := x[1] - x[0]*x[0]
		return a*a + 100*b*b
	}

	solver := &GonumSolver{}
	sol, err := solver.Minimize(obj, []float64{-1.5, 2}, 2)
	require.NoError(t, err)
	assert.False(t, sol.Converged)
	assert.NotEmpty(t, sol.Status)
	assert.Len(t, sol.Theta, 2)
}
