package bayesian

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/surrogate/internal/optimization"
	"github.com/copyleftdev/surrogate/internal/optimization/dataset"
	"github.com/copyleftdev/surrogate/internal/optimization/kernels"
	"github.com/copyleftdev/surrogate/internal/testutil"
)

// fixedHyperparameters disables the hyperparameter search.
func fixedHyperparameters() optimization.OptimizerConfig {
	cfg := optimization.DefaultOptimizerConfig()
	cfg.MaxIterations = 0
	return cfg
}

func newTestGP(t testing.TB, kernel kernels.Kernel, noise float64, opts ...Option) *GP {
	t.Helper()
	gp, err := NewGP(kernel, noise, opts...)
	require.NoError(t, err)
	return gp
}

func TestGPFitAndPredict(t *testing.T) {
	// Simple test with 3 points
	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	y := mat.NewVecDense(3, []float64{1, 2, 1})

	gp := newTestGP(t, kernels.NewSquaredExponential(1.0, 1.0), 1e-6, WithOptimizer(fixedHyperparameters()))
	require.NoError(t, gp.FitMatrix(X, y))

	// Prediction at training points interpolates the labels
	mean, variance, err := gp.Predict(X)
	require.NoError(t, err)
	require.Equal(t, 3, mean.Len())
	for i := 0; i < 3; i++ {
		assert.InDelta(t, y.AtVec(i), mean.AtVec(i), 1e-4)
		assert.InDelta(t, 0.0, variance.AtVec(i), 1e-5)
		assert.GreaterOrEqual(t, variance.AtVec(i), 0.0)
	}

	noise, err := gp.NoiseVariance()
	require.NoError(t, err)
	assert.InDelta(t, 1e-6, noise, 1e-18)
	assert.Nil(t, gp.OptimizationResult())
}

func TestGPTrainingPointsAsNoiseVanishes(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{-1.5, -0.2, 0.7, 2.0})
	y := mat.NewVecDense(4, []float64{0.3, -1.2, 0.8, 0.1})

	prevResidual := math.Inf(1)
	prevVariance := math.Inf(1)
	for _, noise := range []float64{1e-1, 1e-3, 1e-6, 1e-9} {
		gp := newTestGP(t, kernels.NewSquaredExponential(1.0, 1.0), noise, WithOptimizer(fixedHyperparameters()))
		require.NoError(t, gp.FitMatrix(X, y))
		mean, variance, err := gp.Predict(X)
		require.NoError(t, err)

		var residual, maxVar float64
		for i := 0; i < 4; i++ {
			r := mean.AtVec(i) - y.AtVec(i)
			residual += r * r
			maxVar = math.Max(maxVar, variance.AtVec(i))
		}
		assert.LessOrEqual(t, residual, prevResidual, "noise %g", noise)
		assert.LessOrEqual(t, maxVar, prevVariance, "noise %g", noise)
		prevResidual, prevVariance = residual, maxVar
	}
	assert.Less(t, math.Sqrt(prevResidual), 1e-6)
	assert.Less(t, prevVariance, 1e-8)
}

func TestGPWithNoise(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	y := mat.NewVecDense(3, []float64{1, 2, 1})

	// Larger noise smooths instead of interpolating
	gp := newTestGP(t, kernels.NewSquaredExponential(1.0, 1.0), 0.1, WithOptimizer(fixedHyperparameters()))
	require.NoError(t, gp.FitMatrix(X, y))

	means, variances, err := gp.Predict(X)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, y.AtVec(i), means.AtVec(i), 0.5)
		assert.NotEqual(t, y.AtVec(i), means.AtVec(i))
		assert.Greater(t, variances.AtVec(i), 0.0)
	}
	assert.InDelta(t, 1.018, means.AtVec(0), 1e-3)
	assert.InDelta(t, 1.798, means.AtVec(1), 1e-3)
}

func TestGPBatchPredict(t *testing.T) {
	X := mat.NewDense(5, 1, []float64{-2, -1, 0, 1, 2})
	y := mat.NewVecDense(5, []float64{4, 1, 0, 1, 4}) // x^2

	gp := newTestGP(t, kernels.NewSquaredExponential(1.0, 1.0), 1e-6, WithOptimizer(fixedHyperparameters()))
	require.NoError(t, gp.FitMatrix(X, y))

	testX := mat.NewDense(3, 1, []float64{-0.5, 0.5, 1.5})
	means, variances, err := gp.Predict(testX)
	require.NoError(t, err)

	nPoints, _ := testX.Dims()
	assert.Equal(t, nPoints, means.Len())
	assert.Equal(t, nPoints, variances.Len())
	for i := 0; i < nPoints; i++ {
		x := testX.At(i, 0)
		assert.InDelta(t, x*x, means.AtVec(i), 0.5, "prediction should be close to x^2")
		assert.Greater(t, variances.AtVec(i), 0.0)
	}

	points, err := gp.PredictPoints([]dataset.FeatureVector{{-0.5}, {0.5}, {1.5}})
	require.NoError(t, err)
	for i, p := range points {
		assert.Equal(t, means.AtVec(i), p.Mean)
		assert.Equal(t, variances.AtVec(i), p.Variance)
	}
}

func TestGPPredictIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ds := testutil.SineDataset(t, rng, 15, 2, 0.05)
	gp := newTestGP(t, kernels.NewARDUniform(2, 1.0, 1.0), 1e-2)
	require.NoError(t, gp.Fit(ds, nil))

	Q := testutil.RandomMatrix(rng, 10, 2, 0, 2*math.Pi)
	m1, v1, err := gp.Predict(Q)
	require.NoError(t, err)
	m2, v2, err := gp.Predict(Q)
	require.NoError(t, err)
	assert.Equal(t, m1.RawVector().Data, m2.RawVector().Data)
	assert.Equal(t, v1.RawVector().Data, v2.RawVector().Data)
}

func TestGPFitImprovesLikelihood(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	ds := testutil.SineDataset(t, rng, 25, 1, 0.05)

	kernel := kernels.NewSquaredExponential(5.0, 1.0)
	gp := newTestGP(t, kernel, 0.1, WithNormalizeTargets(true))

	mean := 0.0
	for _, r := range ds.Rows() {
		mean += r.Label
	}
	mean /= float64(ds.Len())
	lik, err := NewLikelihood(kernel, ds, mean)
	require.NoError(t, err)
	initial, err := lik.Value(gp.DefaultHyperparameters().Log())
	require.NoError(t, err)

	require.NoError(t, gp.Fit(ds, nil))
	fitted, err := gp.LogMarginalLikelihood()
	require.NoError(t, err)
	assert.Greater(t, fitted, initial)

	result := gp.OptimizationResult()
	require.NotNil(t, result)
	assert.Len(t, result.History, optimization.DefaultOptimizerConfig().Restarts+1)

	prior, err := gp.PriorMean()
	require.NoError(t, err)
	assert.InDelta(t, mean, prior, 1e-12)

	// The fitted model tracks sin(x) between the samples.
	var sse float64
	for x := 1.0; x <= 5.0; x += 0.25 {
		p, err := gp.PredictPoints([]dataset.FeatureVector{{x}})
		require.NoError(t, err)
		d := p[0].Mean - math.Sin(x)
		sse += d * d
	}
	assert.Less(t, math.Sqrt(sse/17), 0.3)
}

func TestGPDuplicatePoints(t *testing.T) {
	ds := dataset.New(1)
	for i, row := range [][2]float64{{0, 0}, {0, 1}, {1, 2}} {
		_, err := ds.Add("", dataset.NewFeatureVector(row[0]), row[1])
		require.NoError(t, err, "row %d", i)
	}

	t.Run("jitter rescues the factorization", func(t *testing.T) {
		gp := newTestGP(t, kernels.NewSquaredExponential(1.0, 1.0), 1e-20, WithOptimizer(fixedHyperparameters()))
		require.NoError(t, gp.Fit(ds, nil))

		jitter, err := gp.Jitter()
		require.NoError(t, err)
		assert.Greater(t, jitter, 0.0)

		mean, variance, err := gp.Predict(mat.NewDense(2, 1, []float64{0, 0.5}))
		require.NoError(t, err)
		assert.InDelta(t, 0.5, mean.AtVec(0), 1e-3, "duplicates average out")
		for i := 0; i < 2; i++ {
			assert.False(t, math.IsNaN(mean.AtVec(i)))
			assert.GreaterOrEqual(t, variance.AtVec(i), 0.0)
		}
	})

	t.Run("with hyperparameter search", func(t *testing.T) {
		gp := newTestGP(t, kernels.NewSquaredExponential(1.0, 1.0), 1e-6)
		require.NoError(t, gp.Fit(ds, nil))
		_, _, err := gp.Predict(mat.NewDense(1, 1, []float64{0.5}))
		require.NoError(t, err)
	})

	t.Run("bounded retries fail", func(t *testing.T) {
		gp := newTestGP(t, kernels.NewSquaredExponential(1.0, 1.0), 1e-20,
			WithOptimizer(fixedHyperparameters()), WithMaxJitterAttempts(1))
		err := gp.Fit(ds, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, optimization.ErrSingularCovariance))

		var sce *optimization.SingularCovarianceError
		require.True(t, errors.As(err, &sce))
		assert.Equal(t, 1, sce.Attempts)
		assert.Contains(t, sce.Hyperparameters, NoiseParam)
		assert.Contains(t, sce.Hyperparameters, "length_scale")
		assert.False(t, gp.IsFitted())
	})
}

func TestGPFailedRefitKeepsModel(t *testing.T) {
	gp := newTestGP(t, kernels.NewSquaredExponential(1.0, 1.0), 1e-20,
		WithOptimizer(fixedHyperparameters()), WithMaxJitterAttempts(1))
	require.NoError(t, gp.FitMatrix(mat.NewDense(3, 1, []float64{0, 1, 2}), mat.NewVecDense(3, []float64{1, 2, 3})))

	before, _, err := gp.Predict(mat.NewDense(1, 1, []float64{0.5}))
	require.NoError(t, err)

	err = gp.FitMatrix(mat.NewDense(2, 1, []float64{0, 0}), mat.NewVecDense(2, []float64{0, 1}))
	require.Error(t, err)

	after, _, err := gp.Predict(mat.NewDense(1, 1, []float64{0.5}))
	require.NoError(t, err)
	assert.Equal(t, before.AtVec(0), after.AtVec(0))
	ds, err := gp.Dataset()
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
}

func TestGPSampling(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	y := mat.NewVecDense(3, []float64{1, 2, 1})

	gp := newTestGP(t, kernels.NewSquaredExponential(1.0, 1.0), 1e-6, WithOptimizer(fixedHyperparameters()))
	require.NoError(t, gp.FitMatrix(X, y))

	Q := mat.NewDense(3, 1, []float64{1.5, 2.5, 6})
	samples, err := gp.Sample(Q, 2000, rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	// Rows are points, columns are samples
	nPoints, nSamples := samples.Dims()
	assert.Equal(t, 3, nPoints)
	assert.Equal(t, 2000, nSamples)

	again, err := gp.Sample(Q, 2000, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	assert.True(t, mat.Equal(samples, again), "same seed, same samples")

	// Sample moments match the predictive distribution.
	mean, variance, err := gp.Predict(Q)
	require.NoError(t, err)
	for i := 0; i < nPoints; i++ {
		row := mat.Row(nil, i, samples)
		var m, v float64
		for _, s := range row {
			m += s
		}
		m /= float64(nSamples)
		for _, s := range row {
			v += (s - m) * (s - m)
		}
		v /= float64(nSamples - 1)
		assert.InDelta(t, mean.AtVec(i), m, 0.1)
		assert.InDelta(t, variance.AtVec(i), v, 0.15)
	}

	// Samples differ from each other
	assert.NotEqual(t, samples.At(2, 0), samples.At(2, 1))
}

func TestGPErrorHandling(t *testing.T) {
	kernel := kernels.NewSquaredExponential(1.0, 1.0)
	gp := newTestGP(t, kernel, 1e-6)

	t.Run("nil dataset", func(t *testing.T) {
		err := gp.Fit(nil, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, optimization.ErrInvalidFeature))
	})

	t.Run("empty dataset", func(t *testing.T) {
		err := gp.Fit(dataset.New(1), nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, optimization.ErrInsufficientData))
	})

	t.Run("mismatched dimensions", func(t *testing.T) {
		X := mat.NewDense(3, 1, []float64{1, 2, 3})
		y := mat.NewVecDense(2, []float64{1, 2}) // Wrong length
		require.Error(t, gp.FitMatrix(X, y))
	})

	t.Run("kernel dimension", func(t *testing.T) {
		ard := newTestGP(t, kernels.NewARDUniform(2, 1, 1), 1e-6)
		err := ard.FitMatrix(mat.NewDense(2, 1, []float64{0, 1}), mat.NewVecDense(2, []float64{0, 1}))
		assert.True(t, errors.Is(err, optimization.ErrInvalidFeature))
	})

	t.Run("wrong initial hyperparameters", func(t *testing.T) {
		ds := testutil.LinearDataset(t, 3, 0, 1, 1, 0)
		hp, err := kernels.NewHyperparameters([]string{"length_scale"}, []float64{1})
		require.NoError(t, err)
		assert.Error(t, gp.Fit(ds, hp))
	})

	t.Run("predict without fit", func(t *testing.T) {
		_, _, err := gp.Predict(mat.NewDense(1, 1, []float64{0}))
		require.Error(t, err)
		assert.True(t, errors.Is(err, optimization.ErrNotFitted))

		var nf *optimization.NotFittedError
		require.True(t, errors.As(err, &nf))
		assert.Equal(t, "GP.Predict", nf.Op)
	})

	t.Run("read operations without fit", func(t *testing.T) {
		_, err := gp.Sample(mat.NewDense(1, 1, []float64{0}), 1, rand.New(rand.NewSource(1)))
		assert.True(t, errors.Is(err, optimization.ErrNotFitted))
		_, err = gp.LogMarginalLikelihood()
		assert.True(t, errors.Is(err, optimization.ErrNotFitted))
		_, err = gp.Hyperparameters()
		assert.True(t, errors.Is(err, optimization.ErrNotFitted))
		_, err = gp.Export()
		assert.True(t, errors.Is(err, optimization.ErrNotFitted))
	})

	t.Run("invalid queries", func(t *testing.T) {
		fitted := newTestGP(t, kernel, 1e-6, WithOptimizer(fixedHyperparameters()))
		require.NoError(t, fitted.Fit(testutil.LinearDataset(t, 3, 0, 1, 1, 0), nil))

		_, _, err := fitted.Predict(nil)
		assert.True(t, errors.Is(err, optimization.ErrInvalidFeature))
		_, _, err = fitted.Predict(mat.NewDense(1, 2, []float64{0, 1}))
		assert.True(t, errors.Is(err, optimization.ErrInvalidFeature))
		_, _, err = fitted.Predict(mat.NewDense(2, 1, []float64{0, math.NaN()}))
		assert.True(t, errors.Is(err, optimization.ErrInvalidFeature))
		_, err = fitted.PredictPoints([]dataset.FeatureVector{{math.Inf(1)}})
		assert.True(t, errors.Is(err, optimization.ErrInvalidFeature))

		mean, variance, err := fitted.Predict(&mat.Dense{})
		require.NoError(t, err)
		assert.Equal(t, 0, mean.Len())
		assert.Equal(t, 0, variance.Len())

		_, err = fitted.Sample(mat.NewDense(1, 1, []float64{0}), 0, rand.New(rand.NewSource(1)))
		assert.Error(t, err)
	})
}

func TestNewGPValidation(t *testing.T) {
	kernel := kernels.NewSquaredExponential(1, 1)

	_, err := NewGP(nil, 1e-6)
	assert.Error(t, err)
	_, err = NewGP(kernel, 0)
	assert.Error(t, err)
	_, err = NewGP(kernel, math.NaN())
	assert.Error(t, err)
	_, err = NewGP(kernel, 1e-6, WithMaxJitterAttempts(0))
	assert.Error(t, err)

	bad := optimization.DefaultOptimizerConfig()
	bad.Method = "newton"
	_, err = NewGP(kernel, 1e-6, WithOptimizer(bad))
	assert.Error(t, err)

	gp, err := NewGP(kernel, 1e-3)
	require.NoError(t, err)
	assert.Equal(t, []string{"length_scale", "signal_variance", NoiseParam}, gp.DefaultHyperparameters().Names())
	assert.InDeltaSlice(t, []float64{1, 1, 1e-3}, gp.DefaultHyperparameters().Values(), 1e-15)
}
