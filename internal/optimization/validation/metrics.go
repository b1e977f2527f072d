// Package validation measures how well a fitted model predicts held-out
// labels and how that changes with the size of the training set.
package validation

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/surrogate/internal/optimization"
	"github.com/copyleftdev/surrogate/internal/optimization/dataset"
)

// z95 is the two-sided 95% standard normal quantile.
const z95 = 1.959963984540054

// minPredictiveVariance keeps the predictive density finite.
const minPredictiveVariance = 1e-12

// Predictor is a fitted probabilistic regression model.
type Predictor interface {
	// Predict returns the latent mean and variance at every row of X.
	Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error)
	// NoiseVariance is added to the latent variance to predict observations.
	NoiseVariance() (float64, error)
}

// sized is implemented by models that know their training set.
type sized interface {
	Dataset() (*dataset.Dataset, error)
}

// Metrics are held-out error measures of one model.
type Metrics struct {
	// Size is the number of training rows, when the model reports it.
	Size    int `json:"size"`
	HeldOut int `json:"held_out"`

	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	// R2 is nil when the held-out labels have no variance.
	R2 *float64 `json:"r2,omitempty"`
	// NLPD is the mean negative log predictive density of the labels under
	// the predictive distribution including observation noise.
	NLPD float64 `json:"nlpd"`
	// MeanStd is the mean predictive standard deviation.
	MeanStd float64 `json:"mean_std"`
	// Coverage95 is the fraction of labels inside the central 95% interval.
	Coverage95 float64 `json:"coverage_95"`
}

// Evaluate predicts every held-out row and scores the predictions.
func Evaluate(model Predictor, heldOut *dataset.Dataset) (*Metrics, error) {
	if model == nil {
		return nil, optimization.NewError("model must not be nil").WithOperation("Evaluate").WithComponent("validation")
	}
	if heldOut.Len() == 0 {
		return nil, optimization.NewInsufficientDataError(1, 0)
	}

	mean, variance, err := model.Predict(heldOut.Matrix())
	if err != nil {
		return nil, err
	}
	noise, err := model.NoiseVariance()
	if err != nil {
		return nil, err
	}

	n := heldOut.Len()
	labels := heldOut.Labels().RawVector().Data
	means := make([]float64, n)

	var sse, sae, nlpd, sumStd float64
	covered := 0
	for i, y := range labels {
		mu := mean.AtVec(i)
		means[i] = mu
		s2 := math.Max(variance.AtVec(i)+noise, minPredictiveVariance)
		s := math.Sqrt(s2)
		r := y - mu

		sse += r * r
		sae += math.Abs(r)
		nlpd += 0.5*math.Log(2*math.Pi*s2) + r*r/(2*s2)
		sumStd += s
		if math.Abs(r) <= z95*s {
			covered++
		}
	}

	m := &Metrics{
		HeldOut:    n,
		RMSE:       math.Sqrt(sse / float64(n)),
		MAE:        sae / float64(n),
		NLPD:       nlpd / float64(n),
		MeanStd:    sumStd / float64(n),
		Coverage95: float64(covered) / float64(n),
	}
	if n > 1 && stat.Variance(labels, nil) > 0 {
		r2 := stat.RSquaredFrom(means, labels, nil)
		m.R2 = &r2
	}
	if s, ok := model.(sized); ok {
		if train, err := s.Dataset(); err == nil {
			m.Size = train.Len()
		}
	}
	return m, nil
}
