package bayesian

import (
	"math"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/surrogate/internal/optimization"
	"github.com/copyleftdev/surrogate/internal/optimization/dataset"
	"github.com/copyleftdev/surrogate/internal/optimization/kernels"
)

// NoiseParam is the name of the observation noise variance. It always
// follows the kernel hyperparameters.
const NoiseParam = "noise_variance"

var log2Pi = math.Log(2 * math.Pi)

// Likelihood is the log marginal likelihood of one training set under one
// kernel, as a function of the log hyperparameters (kernel parameters
// followed by the noise variance):
//
//	L = -1/2 yᵀ(K+σ²I)⁻¹y - 1/2 log|K+σ²I| - n/2 log 2π
//
// y is centered on the prior mean.
type Likelihood struct {
	kernel      kernels.Kernel
	X           *mat.Dense
	y           *mat.VecDense
	n           int
	fingerprint uint64
	names       []string
	maxJitter   int

	pool   *MatrixPool
	cache  *likelihoodCache
	logger *zap.Logger
}

// NewLikelihood returns the likelihood of ds under k with a constant prior
// mean.
func NewLikelihood(k kernels.Kernel, ds *dataset.Dataset, priorMean float64) (*Likelihood, error) {
	return newLikelihood(k, ds, priorMean, DefaultMaxJitterAttempts, NewMatrixPool(), newLikelihoodCache(), zap.NewNop())
}

func newLikelihood(k kernels.Kernel, ds *dataset.Dataset, priorMean float64, maxJitter int,
	pool *MatrixPool, cache *likelihoodCache, logger *zap.Logger) (*Likelihood, error) {
	if ds.Len() == 0 {
		return nil, optimization.NewInsufficientDataError(1, 0)
	}
	if d := k.Dims(); d != 0 && d != ds.Dim() {
		return nil, optimization.NewInvalidFeatureError(-1, -1, float64(ds.Dim()),
			"dataset dimension does not match kernel dimension")
	}

	y := ds.Labels()
	if priorMean != 0 {
		for i := 0; i < y.Len(); i++ {
			y.SetVec(i, y.AtVec(i)-priorMean)
		}
	}

	return &Likelihood{
		kernel:      k,
		X:           ds.Matrix(),
		y:           y,
		n:           ds.Len(),
		fingerprint: ds.Fingerprint(),
		names:       append(k.ParamNames(), NoiseParam),
		maxJitter:   maxJitter,
		pool:        pool,
		cache:       cache,
		logger:      logger,
	}, nil
}

// Names returns the hyperparameter names in theta order.
func (l *Likelihood) Names() []string {
	return append([]string(nil), l.names...)
}

// Value returns the log marginal likelihood at the log hyperparameters theta.
func (l *Likelihood) Value(theta []float64) (float64, error) {
	e := l.evaluate(theta, false)
	return e.value, e.err
}

// ValueGrad returns the log marginal likelihood and writes its gradient with
// respect to theta into grad.
func (l *Likelihood) ValueGrad(theta, grad []float64) (float64, error) {
	if len(grad) != len(theta) {
		return 0, optimization.NewErrorf("gradient has length %d, want %d", len(grad), len(theta)).
			WithOperation("Likelihood.ValueGrad")
	}
	e := l.evaluate(theta, true)
	if e.err != nil {
		return 0, e.err
	}
	copy(grad, e.grad)
	return e.value, nil
}

func (l *Likelihood) evaluate(theta []float64, needGrad bool) *likelihoodEval {
	if e, ok := l.cache.get(l.fingerprint, theta, needGrad); ok {
		return e
	}
	theta = append([]float64(nil), theta...)
	e := &likelihoodEval{theta: theta}
	defer l.cache.put(l.fingerprint, e)

	if len(theta) != len(l.names) {
		e.err = optimization.NewErrorf("expected %d log hyperparameters, got %d", len(l.names), len(theta)).
			WithOperation("Likelihood.evaluate")
		return e
	}

	p := len(theta) - 1
	kTheta := theta[:p]
	noise := math.Exp(theta[p])

	K := l.pool.GetSymDense(l.n)
	defer l.pool.PutSymDense(K)
	var grads []*mat.SymDense
	if needGrad {
		grads = l.pool.GetSymDenses(l.n, p)
		defer l.pool.PutSymDenses(grads)
		K, grads = kernels.CovarianceGradients(l.kernel, l.X, kTheta, K, grads)
	} else {
		K = kernels.SelfCovariance(l.kernel, l.X, kTheta, K)
	}

	work := l.pool.GetSymDense(l.n)
	defer l.pool.PutSymDense(work)
	chol, jitter, err := factorizeWithJitter(K, work, noise, l.maxJitter, func() map[string]float64 {
		return kernels.FromLog(l.names, theta).Map()
	}, l.logger)
	if err != nil {
		e.err = err
		return e
	}
	e.jitter = jitter

	alpha := l.pool.GetVecDense(l.n)
	defer l.pool.PutVecDense(alpha)
	if err := chol.SolveVecTo(alpha, l.y); err != nil && !isCondition(err) {
		e.err = errors.Wrap(err, "solving for alpha")
		return e
	}

	e.value = -0.5*mat.Dot(l.y, alpha) - 0.5*chol.LogDet() - 0.5*float64(l.n)*log2Pi
	if math.IsNaN(e.value) {
		e.err = errors.WithStack(&optimization.SingularCovarianceError{
			Hyperparameters: kernels.FromLog(l.names, theta).Map(),
			Jitter:          jitter,
			Attempts:        1,
		})
		return e
	}
	if !needGrad {
		return e
	}

	var kinv mat.SymDense
	if err := chol.InverseTo(&kinv); err != nil && !isCondition(err) {
		e.err = errors.Wrap(err, "inverting covariance")
		return e
	}

	// dL/dθ = 1/2 tr((ααᵀ - K⁻¹) ∂K/∂θ). Both matrices are symmetric so the
	// off-diagonal terms are counted twice.
	grad := make([]float64, p+1)
	for i := 0; i < l.n; i++ {
		ai := alpha.AtVec(i)
		for j := i; j < l.n; j++ {
			w := ai*alpha.AtVec(j) - kinv.At(i, j)
			if i == j {
				w *= 0.5
				grad[p] += w * noise
			}
			for q, G := range grads {
				grad[q] += w * G.At(i, j)
			}
		}
	}
	e.grad = grad
	return e
}

// isCondition reports whether err only warns about a poorly conditioned
// matrix. The result accompanying such an error is still usable.
func isCondition(err error) bool {
	var c mat.Condition
	return errors.As(err, &c)
}
