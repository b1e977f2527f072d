package bayesian

import (
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/surrogate/internal/optimization"
	"github.com/copyleftdev/surrogate/internal/optimization/kernels"
)

// HyperparameterOptimizer maximizes the log marginal likelihood over log
// hyperparameters with a quasi-Newton search and random restarts.
type HyperparameterOptimizer struct {
	config optimization.OptimizerConfig
	logger *zap.Logger
}

// NewHyperparameterOptimizer validates config and returns an optimizer.
func NewHyperparameterOptimizer(config optimization.OptimizerConfig, logger *zap.Logger) (*HyperparameterOptimizer, error) {
	const op = "NewHyperparameterOptimizer"

	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Method == "" {
		config.Method = optimization.MethodBFGS
	}
	switch {
	case config.Method != optimization.MethodBFGS && config.Method != optimization.MethodLBFGS:
		return nil, optimization.NewErrorf("unknown search method %q", config.Method).WithOperation(op)
	case config.MaxIterations < 0:
		return nil, optimization.NewErrorf("max iterations must be non-negative, got %d", config.MaxIterations).WithOperation(op)
	case config.Restarts < 0:
		return nil, optimization.NewErrorf("restarts must be non-negative, got %d", config.Restarts).WithOperation(op)
	case !(config.RestartSpread >= 0):
		return nil, optimization.NewErrorf("restart spread must be non-negative, got %v", config.RestartSpread).WithOperation(op)
	case !(config.Regularization >= 0):
		return nil, optimization.NewErrorf("regularization must be non-negative, got %v", config.Regularization).WithOperation(op)
	}
	if config.LogBound <= 0 {
		config.LogBound = optimization.DefaultOptimizerConfig().LogBound
	}

	return &HyperparameterOptimizer{
		config: config,
		logger: logger.Named("hyperopt"),
	}, nil
}

// Config returns the effective configuration.
func (o *HyperparameterOptimizer) Config() optimization.OptimizerConfig {
	return o.config
}

// Optimize searches for the hyperparameters maximizing l, starting from
// initial. Restart 0 starts at initial; every further restart starts at a
// random log-normal perturbation of it. The best setting over all restarts
// is returned. With MaxIterations zero, initial is returned unchanged after
// one evaluation.
func (o *HyperparameterOptimizer) Optimize(l *Likelihood, initial *kernels.Hyperparameters) (*kernels.Hyperparameters, *optimization.OptimizationResult, error) {
	const op = "HyperparameterOptimizer.Optimize"

	names := l.Names()
	if initial == nil || !sameNames(initial.Names(), names) {
		return nil, nil, optimization.NewErrorf("initial hyperparameters must be %v", names).WithOperation(op)
	}
	theta0 := initial.Log()
	for i, v := range theta0 {
		if math.Abs(v) > o.config.LogBound {
			return nil, nil, optimization.NewErrorf("initial %s=%g is outside the search box", names[i], math.Exp(v)).
				WithOperation(op)
		}
	}

	result := &optimization.OptimizationResult{}
	restarts := o.config.Restarts
	if o.config.MaxIterations == 0 {
		restarts = 0
	}

	rng := rand.New(rand.NewSource(o.config.RandomSeed))
	var lastErr error
	for r := 0; r <= restarts; r++ {
		start := append([]float64(nil), theta0...)
		if r > 0 {
			for i := range start {
				start[i] = clamp(start[i]+o.config.RestartSpread*rng.NormFloat64(), o.config.LogBound)
			}
		}

		sol, iters, converged, err := o.search(l, theta0, start)
		result.Iterations += iters
		result.History = append(result.History, optimization.Evaluation{
			Iteration: r,
			Start:     start,
			Solution:  sol,
			Error:     err,
		})
		if err != nil {
			lastErr = err
		}
		if sol == nil {
			o.logger.Debug("Restart produced no valid hyperparameters",
				zap.Int("restart", r),
				zap.Error(err),
			)
			continue
		}
		o.logger.Debug("Restart finished",
			zap.Int("restart", r),
			zap.Int("iterations", iters),
			zap.Float64("log_likelihood", sol.Value),
			zap.Bool("converged", converged),
		)
		if converged {
			result.Converged = true
		}
		if result.BestSolution == nil || sol.Value > result.BestSolution.Value {
			result.BestSolution = sol
		}
	}

	if result.BestSolution == nil {
		if lastErr == nil {
			lastErr = optimization.NewError("no restart produced a finite likelihood").WithOperation(op)
		}
		return nil, result, optimization.WrapError(lastErr, "hyperopt: "+op)
	}
	return kernels.FromLog(names, result.BestSolution.Parameters), result, nil
}

// search runs one local search from start and returns the best point it
// evaluated. Line search failures are not fatal: every finite evaluation is
// a valid candidate.
func (o *HyperparameterOptimizer) search(l *Likelihood, center, start []float64) (*optimization.Solution, int, bool, error) {
	var (
		bestX   []float64
		bestF   = math.Inf(1)
		lastErr error
	)
	objective := func(x, grad []float64) float64 {
		f, err := o.objective(l, center, x, grad)
		if err != nil {
			lastErr = err
			return math.Inf(1)
		}
		if f < bestF {
			bestF = f
			bestX = append(bestX[:0], x...)
		}
		return f
	}

	// The starting point must be usable, otherwise there is nothing to search.
	if f := objective(start, nil); math.IsInf(f, 1) {
		return nil, 0, false, lastErr
	}
	if o.config.MaxIterations == 0 {
		return &optimization.Solution{Parameters: bestX, Value: -bestF}, 0, true, nil
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return objective(x, nil)
		},
		Grad: func(grad, x []float64) {
			objective(x, grad)
		},
	}
	settings := &optimize.Settings{
		MajorIterations:   o.config.MaxIterations,
		GradientThreshold: 1e-6,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Relative:   1e-9,
			Iterations: 20,
		},
	}

	var method optimize.Method = &optimize.BFGS{}
	if o.config.Method == optimization.MethodLBFGS {
		method = &optimize.LBFGS{}
	}

	res, err := optimize.Minimize(problem, start, settings, method)
	iters := 0
	converged := false
	if res != nil {
		iters = res.Stats.MajorIterations
		converged = err == nil && res.Status != optimize.IterationLimit
	}
	if err != nil {
		o.logger.Debug("Local search stopped early", zap.Error(err))
	}
	return &optimization.Solution{Parameters: append([]float64(nil), bestX...), Value: -bestF}, iters, converged, nil
}

// objective is the negated (regularized) log marginal likelihood and its
// gradient. Points outside the log box evaluate to +Inf.
func (o *HyperparameterOptimizer) objective(l *Likelihood, center, x, grad []float64) (float64, error) {
	for i := range grad {
		grad[i] = 0
	}
	for _, v := range x {
		if math.Abs(v) > o.config.LogBound || math.IsNaN(v) {
			return math.Inf(1), nil
		}
	}

	var (
		value float64
		err   error
	)
	if grad != nil {
		value, err = l.ValueGrad(x, grad)
	} else {
		value, err = l.Value(x)
	}
	if err != nil {
		return 0, err
	}

	if lambda := o.config.Regularization; lambda > 0 {
		for i, v := range x {
			d := v - center[i]
			value -= 0.5 * lambda * d * d
			if grad != nil {
				grad[i] -= lambda * d
			}
		}
	}

	for i := range grad {
		grad[i] = -grad[i]
	}
	return -value, nil
}

func clamp(v, bound float64) float64 {
	return math.Max(-bound, math.Min(bound, v))
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
