package estimation

import (
	"fmt"

	"gonum.org/v1/gonum/optimize"
)

// Solution is the outcome of one solver run. Theta always holds the best
// iterate found, even when the iteration budget ran out.
type Solution struct {
	Theta      []float64
	Value      float64
	Iterations int
	Status     string
	Converged  bool
}

// Solver minimizes an unconstrained objective from a starting point. The
// estimator treats it as an injected capability so the core stays agnostic
// to the concrete optimizer.
type Solver interface {
	Minimize(obj func([]float64) float64, x0 []float64, maxIter int) (*Solution, error)
}

// GonumSolver drives gonum's optimizers. The configured method runs first;
// on failure or a non-accepted status the alternate method is tried with
// the same budget.
type GonumSolver struct {
	Method string // "neldermead" (default) or "bfgs"
}

func (s *GonumSolver) methods() []optimize.Method {
	if s.Method == "bfgs" {
		return []optimize.Method{&optimize.BFGS{}, &optimize.NelderMead{}}
	}
	return []optimize.Method{&optimize.NelderMead{}, &optimize.BFGS{}}
}

// acceptedStatuses are the termination statuses treated as convergence.
var acceptedStatuses = map[optimize.Status]bool{
	optimize.Success:             true,
	optimize.GradientThreshold:   true,
	optimize.FunctionConvergence: true,
}

// Minimize runs the optimizer. Gradients are estimated by finite
// differences; the objective itself is derivative-free friendly since
// infeasible regions return finite penalties.
func (s *GonumSolver) Minimize(obj func([]float64) float64, x0 []float64, maxIter int) (*Solution, error) {
	problem := optimize.Problem{Func: obj}
	settings := &optimize.Settings{MajorIterations: maxIter}

	var best *Solution
	var lastErr error
	for _, method := range s.methods() {
		result, err := optimize.Minimize(problem, x0, settings, method)
		if result == nil {
			lastErr = err
			continue
		}

		sol := &Solution{
			Theta:      append([]float64(nil), result.X...),
			Value:      result.F,
			Iterations: result.Stats.MajorIterations,
			Status:     result.Status.String(),
			Converged:  acceptedStatuses[result.Status],
		}
		if sol.Converged {
			return sol, nil
		}
		if best == nil || sol.Value < best.Value {
			best = sol
		}
		lastErr = err
	}

	if best != nil {
		// Budget exhausted on every method; surface the best iterate and let
		// the caller decide via the Converged flag.
		return best, nil
	}
	return nil, fmt.Errorf("optimization failed: %w", lastErr)
}
