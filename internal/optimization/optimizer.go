package optimization

import "math"

// Prediction is the posterior predictive mean and latent variance at one
// query point. Variance is never negative.
type Prediction struct {
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

// Std returns the predictive standard deviation.
func (p Prediction) Std() float64 {
	return math.Sqrt(p.Variance)
}

// Direction says whether lower or higher target values are better.
type Direction int

const (
	// Minimize treats lower target values as better.
	Minimize Direction = iota
	// Maximize treats higher target values as better.
	Maximize
)

func (d Direction) String() string {
	if d == Maximize {
		return "maximize"
	}
	return "minimize"
}

// ParseDirection parses "minimize"/"min" or "maximize"/"max".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "minimize", "min", "":
		return Minimize, nil
	case "maximize", "max":
		return Maximize, nil
	default:
		return Minimize, NewErrorf("unknown direction %q", s).WithOperation("ParseDirection")
	}
}

// Search methods understood by the hyperparameter optimizer.
const (
	MethodBFGS  = "bfgs"
	MethodLBFGS = "lbfgs"
)

// OptimizerConfig contains configuration for the hyperparameter optimizer.
type OptimizerConfig struct {
	// Method is the gradient based local search (bfgs or lbfgs).
	Method string

	// Maximum number of major iterations per restart. Zero disables the
	// search and the initial hyperparameters are used as-is.
	MaxIterations int

	// Number of additional random restarts after the initial guess.
	Restarts int

	// Standard deviation (log space) of restart perturbations.
	RestartSpread float64

	// Regularization is the precision of a Gaussian prior in log space
	// centered on the initial guess. Zero means plain marginal likelihood.
	Regularization float64

	// LogBound limits every log hyperparameter to [-LogBound, LogBound].
	LogBound float64

	// Random seed for reproducibility
	RandomSeed int64
}

// DefaultOptimizerConfig returns the settings used when none are given.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		Method:        MethodBFGS,
		MaxIterations: 100,
		Restarts:      2,
		RestartSpread: 1.0,
		LogBound:      25,
		RandomSeed:    1,
	}
}

// Solution is one hyperparameter setting and its objective value.
type Solution struct {
	// Parameters are log-space hyperparameters.
	Parameters []float64
	// Value is the (regularized) log marginal likelihood.
	Value float64
}

// Evaluation records the outcome of one restart.
type Evaluation struct {
	Iteration int
	Start     []float64
	Solution  *Solution
	Error     error
}

// OptimizationResult contains the result of a hyperparameter search.
type OptimizationResult struct {
	BestSolution *Solution
	History      []Evaluation
	Iterations   int
	Converged    bool
}
