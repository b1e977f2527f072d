// Package acquisition scores candidate points from their predictive mean and
// variance and selects the ones worth labeling next.
package acquisition

import (
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/copyleftdev/surrogate/internal/optimization"
)

// Strategy names an acquisition utility.
type Strategy string

const (
	// Exploit ranks by predicted mean in the configured direction.
	Exploit Strategy = "exploit"
	// Explore ranks by predictive variance, largest first.
	Explore Strategy = "explore"
	// ConfidenceBound ranks by mean ± kappa*std (upper bound when
	// maximizing, lower bound when minimizing).
	ConfidenceBound Strategy = "confidence_bound"
	// ExpectedImprovementStrategy ranks by expected improvement over the
	// incumbent.
	ExpectedImprovementStrategy Strategy = "expected_improvement"
	// ProbabilityOfImprovementStrategy ranks by the probability of improving
	// on the incumbent.
	ProbabilityOfImprovementStrategy Strategy = "probability_of_improvement"
	// Thompson ranks by one draw from the predictive distribution.
	Thompson Strategy = "thompson"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{
	Exploit, Explore, ConfidenceBound,
	ExpectedImprovementStrategy, ProbabilityOfImprovementStrategy, Thompson,
}

// ParseStrategy accepts the canonical names plus the short aliases ucb, lcb,
// cb, ei and pi.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exploit", "mean", "":
		return Exploit, nil
	case "explore", "variance":
		return Explore, nil
	case "confidence_bound", "cb", "ucb", "lcb":
		return ConfidenceBound, nil
	case "expected_improvement", "ei":
		return ExpectedImprovementStrategy, nil
	case "probability_of_improvement", "pi":
		return ProbabilityOfImprovementStrategy, nil
	case "thompson", "ts":
		return Thompson, nil
	}
	return "", optimization.NewErrorf("unknown acquisition strategy %q", s).
		WithOperation("ParseStrategy").
		WithComponent("acquisition")
}

// Order is the sort order of scores, best first.
type Order int

const (
	// Descending puts the largest score first.
	Descending Order = iota
	// Ascending puts the smallest score first.
	Ascending
)

func (o Order) better(a, b float64) bool {
	// NaN is worse than everything.
	if math.IsNaN(b) {
		return !math.IsNaN(a)
	}
	if math.IsNaN(a) {
		return false
	}
	if o == Ascending {
		return a < b
	}
	return a > b
}

// Config holds the explicit ranking configuration.
type Config struct {
	Strategy  Strategy               `json:"strategy" yaml:"strategy"`
	Direction optimization.Direction `json:"direction" yaml:"direction"`
	// Kappa is the exploration weight of the confidence bound.
	Kappa float64 `json:"kappa" yaml:"kappa"`
	// Xi is the improvement margin of EI and PI.
	Xi float64 `json:"xi" yaml:"xi"`
	// Incumbent is the best value seen so far. When nil, EI and PI use the
	// best predicted mean of the scored batch.
	Incumbent *float64 `json:"incumbent,omitempty" yaml:"incumbent,omitempty"`
	// Seed drives Thompson draws.
	Seed int64 `json:"seed" yaml:"seed"`
}

// DefaultConfig returns an upper/lower confidence bound ranker with kappa 2.
func DefaultConfig() Config {
	return Config{
		Strategy:  ConfidenceBound,
		Direction: optimization.Minimize,
		Kappa:     2.0,
		Xi:        0.01,
		Seed:      1,
	}
}

// Ranker scores predictions under one configuration. It never modifies the
// predictions it is given.
type Ranker struct {
	cfg Config
}

// NewRanker validates cfg and returns a Ranker.
func NewRanker(cfg Config) (*Ranker, error) {
	const op = "NewRanker"

	valid := false
	for _, s := range Strategies {
		if cfg.Strategy == s {
			valid = true
			break
		}
	}
	if !valid {
		return nil, optimization.NewErrorf("unknown acquisition strategy %q", cfg.Strategy).
			WithOperation(op).WithComponent("acquisition")
	}
	if cfg.Direction != optimization.Minimize && cfg.Direction != optimization.Maximize {
		return nil, optimization.NewErrorf("invalid direction %d", cfg.Direction).
			WithOperation(op).WithComponent("acquisition")
	}
	if !(cfg.Kappa >= 0) || math.IsInf(cfg.Kappa, 0) {
		return nil, optimization.NewErrorf("kappa must be a finite non-negative number, got %v", cfg.Kappa).
			WithOperation(op).WithComponent("acquisition")
	}
	if !(cfg.Xi >= 0) || math.IsInf(cfg.Xi, 0) {
		return nil, optimization.NewErrorf("xi must be a finite non-negative number, got %v", cfg.Xi).
			WithOperation(op).WithComponent("acquisition")
	}
	if cfg.Incumbent != nil {
		v := *cfg.Incumbent
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, optimization.NewErrorf("incumbent must be finite, got %v", v).
				WithOperation(op).WithComponent("acquisition")
		}
		cfg.Incumbent = &v
	}
	return &Ranker{cfg: cfg}, nil
}

// Config returns a copy of the ranker configuration.
func (r *Ranker) Config() Config {
	cfg := r.cfg
	if cfg.Incumbent != nil {
		v := *cfg.Incumbent
		cfg.Incumbent = &v
	}
	return cfg
}

// Strategy returns the configured strategy.
func (r *Ranker) Strategy() Strategy { return r.cfg.Strategy }

// Direction returns the configured direction.
func (r *Ranker) Direction() optimization.Direction { return r.cfg.Direction }

// NeedsIncumbent reports whether the strategy compares against an incumbent
// and none is configured.
func (r *Ranker) NeedsIncumbent() bool {
	if r.cfg.Incumbent != nil {
		return false
	}
	return r.cfg.Strategy == ExpectedImprovementStrategy || r.cfg.Strategy == ProbabilityOfImprovementStrategy
}

// WithIncumbent returns a copy of r that compares against v.
func (r *Ranker) WithIncumbent(v float64) *Ranker {
	cfg := r.cfg
	cfg.Incumbent = &v
	return &Ranker{cfg: cfg}
}

// Order returns the sort order in which Select picks scores.
func (r *Ranker) Order() Order {
	switch r.cfg.Strategy {
	case Exploit, ConfidenceBound, Thompson:
		if r.cfg.Direction == optimization.Minimize {
			return Ascending
		}
	}
	return Descending
}

// Score returns one score per prediction, aligned with the input.
func (r *Ranker) Score(predictions []optimization.Prediction) ([]float64, error) {
	if err := validatePredictions(predictions); err != nil {
		return nil, err
	}

	scores := make([]float64, len(predictions))
	if len(predictions) == 0 {
		return scores, nil
	}

	switch r.cfg.Strategy {
	case Exploit:
		for i, p := range predictions {
			scores[i] = p.Mean
		}
	case Explore:
		for i, p := range predictions {
			scores[i] = p.Variance
		}
	case ConfidenceBound:
		sign := -1.0
		if r.cfg.Direction == optimization.Maximize {
			sign = 1.0
		}
		for i, p := range predictions {
			scores[i] = p.Mean + sign*r.cfg.Kappa*p.Std()
		}
	case ExpectedImprovementStrategy:
		ei := NewExpectedImprovement(r.incumbent(predictions), r.cfg.Xi, r.cfg.Direction)
		for i, p := range predictions {
			scores[i] = ei.Compute(p.Mean, p.Std())
		}
	case ProbabilityOfImprovementStrategy:
		pi := NewProbabilityOfImprovement(r.incumbent(predictions), r.cfg.Xi, r.cfg.Direction)
		for i, p := range predictions {
			scores[i] = pi.Compute(p.Mean, p.Std())
		}
	case Thompson:
		// Marginal draws. Joint draws need the model, see bayesian.RankCandidates.
		rng := rand.New(rand.NewSource(r.cfg.Seed))
		for i, p := range predictions {
			scores[i] = p.Mean + p.Std()*rng.NormFloat64()
		}
	}
	return scores, nil
}

// incumbent returns the configured incumbent or the best predicted mean.
func (r *Ranker) incumbent(predictions []optimization.Prediction) float64 {
	if r.cfg.Incumbent != nil {
		return *r.cfg.Incumbent
	}
	best := predictions[0].Mean
	for _, p := range predictions[1:] {
		if r.cfg.Direction == optimization.Maximize && p.Mean > best ||
			r.cfg.Direction == optimization.Minimize && p.Mean < best {
			best = p.Mean
		}
	}
	return best
}

// Select returns the indices of the k best scores under the ranker's order.
// Ties keep their original order. k larger than len(scores) selects all.
func (r *Ranker) Select(scores []float64, k int) ([]int, error) {
	if k < 0 {
		return nil, optimization.NewErrorf("k must be non-negative, got %d", k).
			WithOperation("Ranker.Select").WithComponent("acquisition")
	}
	return SelectTop(scores, k, r.Order()), nil
}

// SelectTop returns the indices of the k best scores in the given order,
// keeping ties in their original order. NaN scores sort last.
func SelectTop(scores []float64, k int, order Order) []int {
	if k <= 0 {
		return []int{}
	}
	if k > len(scores) {
		k = len(scores)
	}
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return order.better(scores[idx[a]], scores[idx[b]])
	})
	return idx[:k]
}

func validatePredictions(predictions []optimization.Prediction) error {
	for i, p := range predictions {
		if math.IsNaN(p.Mean) || math.IsInf(p.Mean, 0) {
			return optimization.NewErrorf("prediction %d has non-finite mean %v", i, p.Mean).
				WithOperation("Ranker.Score").WithComponent("acquisition")
		}
		if !(p.Variance >= 0) || math.IsInf(p.Variance, 0) {
			return optimization.NewErrorf("prediction %d has invalid variance %v", i, p.Variance).
				WithOperation("Ranker.Score").WithComponent("acquisition")
		}
	}
	return nil
}
