package bayesian

import (
	"math"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/surrogate/internal/optimization"
)

// DefaultMaxJitterAttempts bounds the factorization retries.
const DefaultMaxJitterAttempts = 8

// relativeJitter is the first nonzero jitter as a fraction of the mean
// kernel diagonal. Each retry multiplies it by ten.
const relativeJitter = 1e-10

// regularize writes K + shift*I into dst. Fit and Restore both go through
// this function so a restored model rebuilds bit-identical factors.
func regularize(dst, K *mat.SymDense, shift float64) {
	n := K.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := K.At(i, j)
			if i == j {
				v += shift
			}
			dst.SetSym(i, j, v)
		}
	}
}

// jitterSchedule returns the jitter of the given attempt for a kernel
// matrix whose mean diagonal is meanDiag. Attempt 0 adds nothing.
func jitterSchedule(attempt int, meanDiag float64) float64 {
	if attempt == 0 {
		return 0
	}
	scale := math.Max(meanDiag, 1e-300)
	return relativeJitter * scale * math.Pow(10, float64(attempt-1))
}

// factorizeWithJitter computes the Cholesky factor of K + noise*I, adding
// growing diagonal jitter while the matrix is not numerically positive
// definite. K is not modified. hp is only used to build the diagnostic error.
func factorizeWithJitter(K, work *mat.SymDense, noise float64, maxAttempts int, hp func() map[string]float64, logger *zap.Logger) (*mat.Cholesky, float64, error) {
	n := K.SymmetricDim()
	meanDiag := 0.0
	for i := 0; i < n; i++ {
		meanDiag += K.At(i, i)
	}
	meanDiag /= float64(n)
	return factorizeScaled(K, work, noise, meanDiag, maxAttempts, hp, logger)
}

// factorizeScaled is factorizeWithJitter with the jitter scale given
// explicitly.
func factorizeScaled(K, work *mat.SymDense, noise, scale float64, maxAttempts int, hp func() map[string]float64, logger *zap.Logger) (*mat.Cholesky, float64, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var jitter float64
	for attempt := 0; attempt < maxAttempts; attempt++ {
		jitter = jitterSchedule(attempt, scale)
		regularize(work, K, noise+jitter)

		var chol mat.Cholesky
		if ok := chol.Factorize(work); ok {
			if attempt > 0 {
				logger.Debug("Cholesky succeeded after adding jitter",
					zap.Int("attempt", attempt+1),
					zap.Float64("jitter", jitter),
					zap.Float64("condition_number", chol.Cond()),
				)
			}
			return &chol, jitter, nil
		}
		logger.Debug("Cholesky factorization failed, increasing jitter",
			zap.Int("attempt", attempt+1),
			zap.Float64("jitter", jitter),
		)
	}

	return nil, jitter, errors.WithStack(&optimization.SingularCovarianceError{
		Hyperparameters: hp(),
		Jitter:          jitter,
		Attempts:        maxAttempts,
	})
}
