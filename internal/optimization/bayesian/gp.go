// Package bayesian implements Gaussian process regression: hyperparameter
// fitting by marginal likelihood, posterior prediction, export and restore,
// and candidate ranking for active learning.
package bayesian

import (
	"math"
	"math/rand"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/surrogate/internal/optimization"
	"github.com/copyleftdev/surrogate/internal/optimization/dataset"
	"github.com/copyleftdev/surrogate/internal/optimization/kernels"
)

// samplingJitterAttempts bounds the retries when factorizing a posterior
// covariance for joint sampling. Posterior covariances at training points
// are close to singular, so this is more generous than for fitting.
const samplingJitterAttempts = 12

// GP implements a Gaussian Process regression model.
//
// A GP is empty until Fit succeeds. Fit replaces the fitted state only when
// it succeeds, so a failed re-fit leaves the previous model usable. Fit must
// not run concurrently with any other method; Predict, PredictPoints and the
// accessors only read the fitted state.
type GP struct {
	// Kernel function
	kernel kernels.Kernel

	// Initial noise variance
	noiseVar float64

	normalize bool
	maxJitter int
	optimizer *HyperparameterOptimizer

	post *posterior

	// Matrix pool and likelihood cache shared by the evaluations of one fit
	matrixPool *MatrixPool
	cache      *likelihoodCache

	// Logger for structured logging
	logger *zap.Logger
}

// posterior is the fitted state of a GP.
type posterior struct {
	data      *dataset.Dataset
	X         *mat.Dense
	y         *mat.VecDense // labels minus priorMean
	hp        *kernels.Hyperparameters
	priorMean float64
	jitter    float64

	chol  *mat.Cholesky
	lower *mat.TriDense
	alpha *mat.VecDense
	lml   float64

	result *optimization.OptimizationResult
}

// Option configures a GP.
type Option func(*gpOptions)

type gpOptions struct {
	logger    *zap.Logger
	optimizer optimization.OptimizerConfig
	normalize bool
	maxJitter int
}

// WithLogger sets the logger. The GP logs under the name "gaussian_process".
func WithLogger(logger *zap.Logger) Option {
	return func(o *gpOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOptimizer sets the hyperparameter search configuration.
func WithOptimizer(cfg optimization.OptimizerConfig) Option {
	return func(o *gpOptions) { o.optimizer = cfg }
}

// WithNormalizeTargets uses the mean training label as a constant prior
// mean instead of zero.
func WithNormalizeTargets(normalize bool) Option {
	return func(o *gpOptions) { o.normalize = normalize }
}

// WithMaxJitterAttempts bounds the Cholesky retries per factorization.
func WithMaxJitterAttempts(n int) Option {
	return func(o *gpOptions) { o.maxJitter = n }
}

// NewGP creates a new Gaussian Process model with the given kernel and
// initial noise variance.
func NewGP(kernel kernels.Kernel, noiseVar float64, opts ...Option) (*GP, error) {
	const op = "NewGP"

	if kernel == nil {
		return nil, optimization.NewError("kernel must not be nil").WithOperation(op)
	}
	if !(noiseVar > 0) || math.IsInf(noiseVar, 0) {
		return nil, optimization.NewErrorf("noise variance must be positive, got %v", noiseVar).WithOperation(op)
	}

	o := gpOptions{
		logger:    zap.NewNop(),
		optimizer: optimization.DefaultOptimizerConfig(),
		maxJitter: DefaultMaxJitterAttempts,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxJitter < 1 {
		return nil, optimization.NewErrorf("max jitter attempts must be positive, got %d", o.maxJitter).WithOperation(op)
	}

	logger := o.logger.Named("gaussian_process")
	hopt, err := NewHyperparameterOptimizer(o.optimizer, logger)
	if err != nil {
		return nil, optimization.WrapError(err, "gaussian_process: "+op)
	}

	return &GP{
		kernel:     kernel,
		noiseVar:   noiseVar,
		normalize:  o.normalize,
		maxJitter:  o.maxJitter,
		optimizer:  hopt,
		matrixPool: NewMatrixPool(),
		cache:      newLikelihoodCache(),
		logger:     logger,
	}, nil
}

// Kernel returns the model's kernel.
func (gp *GP) Kernel() kernels.Kernel { return gp.kernel }

// DefaultHyperparameters returns the kernel defaults followed by the initial
// noise variance.
func (gp *GP) DefaultHyperparameters() *kernels.Hyperparameters {
	names := append(gp.kernel.ParamNames(), NoiseParam)
	values := append(gp.kernel.Defaults(), gp.noiseVar)
	logs := make([]float64, len(values))
	for i, v := range values {
		logs[i] = math.Log(v)
	}
	return kernels.FromLog(names, logs)
}

// Fit fits the GP model to ds. initial is the starting point of the
// hyperparameter search; nil means DefaultHyperparameters. The dataset is
// copied, so later changes to ds do not affect the model.
func (gp *GP) Fit(ds *dataset.Dataset, initial *kernels.Hyperparameters) error {
	const op = "GP.Fit"

	if ds == nil {
		return optimization.NewInvalidFeatureError(-1, -1, 0, "dataset must not be nil")
	}
	if ds.Len() == 0 {
		return optimization.NewInsufficientDataError(1, 0)
	}
	if d := gp.kernel.Dims(); d != 0 && d != ds.Dim() {
		return optimization.NewInvalidFeatureError(-1, -1, float64(ds.Dim()),
			"dataset dimension does not match kernel dimension")
	}
	if initial == nil {
		initial = gp.DefaultHyperparameters()
	}
	if want := append(gp.kernel.ParamNames(), NoiseParam); !sameNames(initial.Names(), want) {
		return optimization.NewErrorf("initial hyperparameters must be %v, got %v", want, initial.Names()).
			WithOperation(op).WithComponent("gaussian_process")
	}

	data := ds.Clone()
	priorMean := 0.0
	if gp.normalize {
		priorMean = stat.Mean(data.Labels().RawVector().Data, nil)
	}

	gp.logger.Debug("Fitting GP model",
		zap.Int("samples", data.Len()),
		zap.Int("features", data.Dim()),
		zap.String("kernel", gp.kernel.Name()),
		zap.Stringer("initial", initial),
	)

	hp := initial
	var result *optimization.OptimizationResult
	if gp.optimizer.Config().MaxIterations > 0 {
		lik, err := newLikelihood(gp.kernel, data, priorMean, gp.maxJitter, gp.matrixPool, gp.cache, gp.logger)
		if err != nil {
			return optimization.WrapError(err, "gaussian_process: "+op)
		}
		hp, result, err = gp.optimizer.Optimize(lik, initial)
		if err != nil {
			return optimization.WrapError(err, "gaussian_process: "+op)
		}
	}

	post, err := gp.factorize(data, hp, priorMean, nil)
	if err != nil {
		return optimization.WrapError(err, "gaussian_process: "+op)
	}
	post.result = result
	gp.post = post

	gp.logger.Debug("Successfully fitted GP model",
		zap.Int("samples", data.Len()),
		zap.Stringer("hyperparameters", hp),
		zap.Float64("log_likelihood", post.lml),
		zap.Float64("jitter", post.jitter),
	)
	return nil
}

// FitMatrix fits the model to the rows of X and labels y, starting from the
// default hyperparameters.
func (gp *GP) FitMatrix(X *mat.Dense, y *mat.VecDense) error {
	ds, err := dataset.FromMatrix(X, y)
	if err != nil {
		return err
	}
	return gp.Fit(ds, nil)
}

// factorize builds the fitted state for hp. With a nil fixedJitter the
// jitter schedule is searched; otherwise exactly that jitter is used.
func (gp *GP) factorize(data *dataset.Dataset, hp *kernels.Hyperparameters, priorMean float64, fixedJitter *float64) (*posterior, error) {
	X := data.Matrix()
	y := data.Labels()
	for i := 0; i < y.Len(); i++ {
		y.SetVec(i, y.AtVec(i)-priorMean)
	}
	n := data.Len()

	theta := hp.Log()
	p := len(theta) - 1
	noise := math.Exp(theta[p])

	K := kernels.SelfCovariance(gp.kernel, X, theta[:p], nil)
	work := mat.NewSymDense(n, nil)

	var (
		chol   *mat.Cholesky
		jitter float64
		err    error
	)
	if fixedJitter == nil {
		chol, jitter, err = factorizeWithJitter(K, work, noise, gp.maxJitter, hp.Map, gp.logger)
		if err != nil {
			return nil, err
		}
	} else {
		jitter = *fixedJitter
		regularize(work, K, noise+jitter)
		chol = &mat.Cholesky{}
		if ok := chol.Factorize(work); !ok {
			return nil, errors.WithStack(&optimization.SingularCovarianceError{
				Hyperparameters: hp.Map(),
				Jitter:          jitter,
				Attempts:        1,
			})
		}
	}

	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, y); err != nil && !isCondition(err) {
		return nil, errors.Wrap(err, "solving for alpha")
	}
	var lower mat.TriDense
	chol.LTo(&lower)

	return &posterior{
		data:      data,
		X:         X,
		y:         y,
		hp:        hp.Clone(),
		priorMean: priorMean,
		jitter:    jitter,
		chol:      chol,
		lower:     &lower,
		alpha:     alpha,
		lml:       -0.5*mat.Dot(y, alpha) - 0.5*chol.LogDet() - 0.5*float64(n)*log2Pi,
	}, nil
}

// IsFitted reports whether Fit or Restore has succeeded.
func (gp *GP) IsFitted() bool { return gp.post != nil }

// Hyperparameters returns the fitted hyperparameters, including the noise
// variance.
func (gp *GP) Hyperparameters() (*kernels.Hyperparameters, error) {
	if gp.post == nil {
		return nil, optimization.NewNotFittedError("GP.Hyperparameters")
	}
	return gp.post.hp.Clone(), nil
}

// NoiseVariance returns the fitted noise variance.
func (gp *GP) NoiseVariance() (float64, error) {
	if gp.post == nil {
		return 0, optimization.NewNotFittedError("GP.NoiseVariance")
	}
	v, _ := gp.post.hp.Value(NoiseParam)
	return v, nil
}

// Jitter returns the diagonal jitter the fitted factorization needed.
func (gp *GP) Jitter() (float64, error) {
	if gp.post == nil {
		return 0, optimization.NewNotFittedError("GP.Jitter")
	}
	return gp.post.jitter, nil
}

// PriorMean returns the constant prior mean of the fitted model.
func (gp *GP) PriorMean() (float64, error) {
	if gp.post == nil {
		return 0, optimization.NewNotFittedError("GP.PriorMean")
	}
	return gp.post.priorMean, nil
}

// Dataset returns the training set. It must not be modified.
func (gp *GP) Dataset() (*dataset.Dataset, error) {
	if gp.post == nil {
		return nil, optimization.NewNotFittedError("GP.Dataset")
	}
	return gp.post.data, nil
}

// LogMarginalLikelihood returns the log marginal likelihood of the training
// labels under the fitted hyperparameters.
func (gp *GP) LogMarginalLikelihood() (float64, error) {
	if gp.post == nil {
		return 0, optimization.NewNotFittedError("GP.LogMarginalLikelihood")
	}
	return gp.post.lml, nil
}

// OptimizationResult returns the hyperparameter search report of the last
// fit, or nil if no search ran.
func (gp *GP) OptimizationResult() *optimization.OptimizationResult {
	if gp.post == nil {
		return nil
	}
	return gp.post.result
}

// checkQueries validates a query matrix against the fitted dimension.
func (gp *GP) checkQueries(X *mat.Dense) error {
	if X == nil {
		return optimization.NewInvalidFeatureError(-1, -1, 0, "query matrix must not be nil")
	}
	m, c := X.Dims()
	if c != gp.post.data.Dim() {
		return optimization.NewInvalidFeatureError(-1, -1, float64(c), "query dimension does not match training data")
	}
	for i := 0; i < m; i++ {
		if err := dataset.FeatureVector(X.RawRowView(i)).Validate(i); err != nil {
			return err
		}
	}
	return nil
}

// crossCovariance returns K* (m x n) and V = L⁻¹K*ᵀ (n x m).
func (gp *GP) crossCovariance(X *mat.Dense, kTheta []float64) (*mat.Dense, *mat.Dense) {
	Kstar := kernels.Covariance(gp.kernel, X, gp.post.X, kTheta)
	V := mat.DenseCopyOf(Kstar.T())
	blas64.Trsm(blas.Left, blas.NoTrans, 1, gp.post.lower.RawTriangular(), V.RawMatrix())
	return Kstar, V
}

// Predict returns the posterior mean and latent variance at every row of X.
// The variance excludes observation noise and is clamped at zero.
func (gp *GP) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	if gp.post == nil {
		return nil, nil, optimization.NewNotFittedError("GP.Predict")
	}
	if X != nil && X.IsEmpty() {
		return &mat.VecDense{}, &mat.VecDense{}, nil
	}
	if err := gp.checkQueries(X); err != nil {
		return nil, nil, err
	}

	nTest, _ := X.Dims()
	theta := gp.post.hp.Log()
	kTheta := theta[:len(theta)-1]

	Kstar, V := gp.crossCovariance(X, kTheta)

	// mean = K* α + m
	mean := mat.NewVecDense(nTest, nil)
	mean.MulVec(Kstar, gp.post.alpha)

	// variance = k(x, x) - Σ v²
	kss := kernels.Diagonal(gp.kernel, X, kTheta)
	variance := mat.NewVecDense(nTest, nil)
	nTrain, _ := V.Dims()
	for i := 0; i < nTest; i++ {
		mean.SetVec(i, mean.AtVec(i)+gp.post.priorMean)
		var sum float64
		for j := 0; j < nTrain; j++ {
			v := V.At(j, i)
			sum += v * v
		}
		variance.SetVec(i, math.Max(0, kss[i]-sum))
	}

	return mean, variance, nil
}

// PredictPoints is Predict over a slice of feature vectors.
func (gp *GP) PredictPoints(points []dataset.FeatureVector) ([]optimization.Prediction, error) {
	if gp.post == nil {
		return nil, optimization.NewNotFittedError("GP.PredictPoints")
	}
	X, err := dataset.MatrixFromVectors(points, gp.post.data.Dim())
	if err != nil {
		return nil, err
	}
	mean, variance, err := gp.Predict(X)
	if err != nil {
		return nil, err
	}
	out := make([]optimization.Prediction, mean.Len())
	for i := range out {
		out[i] = optimization.Prediction{Mean: mean.AtVec(i), Variance: variance.AtVec(i)}
	}
	return out, nil
}

// Sample draws nSamples joint samples of the latent function from the
// posterior at the rows of X. Column j of the result is sample j.
func (gp *GP) Sample(X *mat.Dense, nSamples int, rng *rand.Rand) (*mat.Dense, error) {
	const op = "GP.Sample"

	if gp.post == nil {
		return nil, optimization.NewNotFittedError(op)
	}
	if nSamples <= 0 {
		return nil, optimization.NewErrorf("number of samples must be positive, got %d", nSamples).
			WithOperation(op).WithComponent("gaussian_process")
	}
	if rng == nil {
		return nil, optimization.NewError("random source must not be nil").
			WithOperation(op).WithComponent("gaussian_process")
	}
	if X != nil && X.IsEmpty() {
		return nil, optimization.NewInvalidFeatureError(-1, -1, 0, "no query points")
	}
	if err := gp.checkQueries(X); err != nil {
		return nil, err
	}

	nTest, _ := X.Dims()
	theta := gp.post.hp.Log()
	kTheta := theta[:len(theta)-1]

	Kstar, V := gp.crossCovariance(X, kTheta)
	mean := mat.NewVecDense(nTest, nil)
	mean.MulVec(Kstar, gp.post.alpha)

	// Σ = K** - VᵀV
	Kss := kernels.SelfCovariance(gp.kernel, X, kTheta, nil)
	var vtv mat.Dense
	vtv.Mul(V.T(), V)
	cov := mat.NewSymDense(nTest, nil)
	scale := 0.0
	for i := 0; i < nTest; i++ {
		scale += Kss.At(i, i)
		for j := i; j < nTest; j++ {
			cov.SetSym(i, j, Kss.At(i, j)-vtv.At(i, j))
		}
	}
	scale /= float64(nTest)

	work := mat.NewSymDense(nTest, nil)
	chol, _, err := factorizeScaled(cov, work, 0, scale, samplingJitterAttempts, gp.post.hp.Map, gp.logger)
	if err != nil {
		return nil, optimization.WrapError(err, "gaussian_process: "+op)
	}
	var L mat.TriDense
	chol.LTo(&L)

	z := mat.NewDense(nTest, nSamples, nil)
	for i := 0; i < nTest; i++ {
		for j := 0; j < nSamples; j++ {
			z.Set(i, j, rng.NormFloat64())
		}
	}
	samples := mat.NewDense(nTest, nSamples, nil)
	samples.Mul(&L, z)
	for i := 0; i < nTest; i++ {
		m := mean.AtVec(i) + gp.post.priorMean
		for j := 0; j < nSamples; j++ {
			samples.Set(i, j, samples.At(i, j)+m)
		}
	}
	return samples, nil
}
