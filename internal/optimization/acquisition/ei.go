package acquisition

import (
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/surrogate/internal/optimization"
)

// minSigma is the standard deviation below which a prediction is treated as
// certain.
const minSigma = 1e-10

// ExpectedImprovement implements the Expected Improvement acquisition function
type ExpectedImprovement struct {
	// Best observed value so far
	bestObserved float64
	// Exploration-exploitation trade-off parameter (xi)
	xi float64
	// Whether we're minimizing or maximizing
	direction optimization.Direction
}

// NewExpectedImprovement creates a new ExpectedImprovement acquisition function
func NewExpectedImprovement(bestObserved, xi float64, direction optimization.Direction) *ExpectedImprovement {
	return &ExpectedImprovement{
		bestObserved: bestObserved,
		xi:           xi,
		direction:    direction,
	}
}

func (ei *ExpectedImprovement) improvement(mu float64) float64 {
	if ei.direction == optimization.Maximize {
		return mu - ei.bestObserved - ei.xi
	}
	return ei.bestObserved - mu - ei.xi
}

// Compute computes the Expected Improvement at a point with predictive mean
// mu and standard deviation sigma. The result is never negative.
func (ei *ExpectedImprovement) Compute(mu, sigma float64) float64 {
	improvement := ei.improvement(mu)

	// A certain prediction improves by exactly its margin.
	if sigma <= minSigma {
		if improvement <= 0 {
			return 0.0
		}
		return improvement
	}

	// EI = improvement * Φ(z) + sigma * φ(z)
	z := improvement / sigma
	value := improvement*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
	if value < 0 {
		return 0
	}
	return value
}

// ProbabilityOfImprovement is Φ(improvement / sigma).
type ProbabilityOfImprovement struct {
	ei ExpectedImprovement
}

// NewProbabilityOfImprovement creates a probability of improvement function.
func NewProbabilityOfImprovement(bestObserved, xi float64, direction optimization.Direction) *ProbabilityOfImprovement {
	return &ProbabilityOfImprovement{ei: ExpectedImprovement{bestObserved: bestObserved, xi: xi, direction: direction}}
}

// Compute returns the probability that a point improves on the incumbent.
func (pi *ProbabilityOfImprovement) Compute(mu, sigma float64) float64 {
	improvement := pi.ei.improvement(mu)
	if sigma <= minSigma {
		if improvement > 0 {
			return 1
		}
		return 0
	}
	return distuv.UnitNormal.CDF(improvement / sigma)
}
