// Package likelihood evaluates the Gaussian quasi-log-likelihood of a
// covariance path against an innovation series, in the negative form the
// optimizer minimizes.
package likelihood

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// DegeneracyPenalty is the finite objective value substituted when a
// covariance matrix on the path is not numerically positive definite. It is
// large enough to repel the optimizer but never overflows downstream
// arithmetic. Penalized regions stay penalized as conditioning degrades
// further, so the objective surface remains monotone around them.
const DegeneracyPenalty = 1e10

// Contribution returns log det H + uᵀH⁻¹u for a single observation. The
// second return is false when H is not positive definite.
func Contribution(h *mat.SymDense, u mat.Vector) (float64, bool) {
	var chol mat.Cholesky
	if !chol.Factorize(h) {
		return 0, false
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, u); err != nil {
		return 0, false
	}
	ll := chol.LogDet() + mat.Dot(u, &x)
	if math.IsNaN(ll) || math.IsInf(ll, 0) {
		return 0, false
	}
	return ll, true
}

// Gauss returns the mean Gaussian deviance over t ≥ 1; hvar[0] is a seed,
// not a filtered estimate, and is excluded. A numerically degenerate matrix
// anywhere on the path yields DegeneracyPenalty instead of an error so the
// optimizer sees a finite, continuous-if-poor objective.
func Gauss(hvar []*mat.SymDense, innov *mat.Dense) float64 {
	nobs, _ := innov.Dims()
	if nobs < 2 || len(hvar) != nobs {
		return DegeneracyPenalty
	}

	total := 0.0
	for t := 1; t < nobs; t++ {
		ll, ok := Contribution(hvar[t], innov.RowView(t))
		if !ok {
			return DegeneracyPenalty
		}
		total += ll
	}
	return total / float64(nobs-1)
}
