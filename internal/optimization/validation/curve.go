package validation

import (
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/copyleftdev/surrogate/internal/optimization"
	"github.com/copyleftdev/surrogate/internal/optimization/dataset"
)

// ModelFunc trains a fresh model on train.
type ModelFunc func(train *dataset.Dataset) (Predictor, error)

// Curve holds one Metrics entry per training set size.
type Curve struct {
	Sizes   []int     `json:"sizes"`
	Metrics []Metrics `json:"metrics"`
}

// RMSE returns the RMSE at every size.
func (c *Curve) RMSE() []float64 {
	out := make([]float64, len(c.Metrics))
	for i, m := range c.Metrics {
		out[i] = m.RMSE
	}
	return out
}

// NLPD returns the NLPD at every size.
func (c *Curve) NLPD() []float64 {
	out := make([]float64, len(c.Metrics))
	for i, m := range c.Metrics {
		out[i] = m.NLPD
	}
	return out
}

// LearningCurve trains a model on the first sizes[i] rows of train for every
// i and evaluates it on heldOut. sizes must be positive and strictly
// increasing. All sizes and the held-out set are checked before any model
// is trained.
func LearningCurve(train *dataset.Dataset, sizes []int, heldOut *dataset.Dataset, build ModelFunc) (*Curve, error) {
	const op = "LearningCurve"

	if build == nil {
		return nil, optimization.NewError("model function must not be nil").WithOperation(op).WithComponent("validation")
	}
	if len(sizes) == 0 {
		return nil, optimization.NewError("at least one size is required").WithOperation(op).WithComponent("validation")
	}
	for i, size := range sizes {
		if size < 1 {
			return nil, optimization.NewErrorf("size %d must be positive", size).WithOperation(op).WithComponent("validation")
		}
		if i > 0 && size <= sizes[i-1] {
			return nil, optimization.NewErrorf("sizes must be strictly increasing, got %d after %d", size, sizes[i-1]).
				WithOperation(op).WithComponent("validation")
		}
	}
	if last := sizes[len(sizes)-1]; last > train.Len() {
		return nil, optimization.NewInsufficientDataError(last, train.Len())
	}
	if heldOut.Len() == 0 {
		return nil, optimization.NewInsufficientDataError(1, 0)
	}

	curve := &Curve{
		Sizes:   append([]int(nil), sizes...),
		Metrics: make([]Metrics, 0, len(sizes)),
	}
	for _, size := range sizes {
		subset, err := train.Prefix(size)
		if err != nil {
			return nil, err
		}
		model, err := build(subset)
		if err != nil {
			return nil, optimization.WrapError(err, "validation: training on "+strconv.Itoa(size)+" rows")
		}
		m, err := Evaluate(model, heldOut)
		if err != nil {
			return nil, err
		}
		m.Size = size
		curve.Metrics = append(curve.Metrics, *m)
	}
	return curve, nil
}

// Plot renders RMSE and NLPD against training set size to path. The image
// format follows the file extension (png, svg, pdf, ...).
func (c *Curve) Plot(path string) error {
	p := plot.New()
	p.Title.Text = "Learning curve"
	p.X.Label.Text = "Training set size"
	p.Y.Label.Text = "Error"

	rmse := make(plotter.XYs, len(c.Sizes))
	nlpd := make(plotter.XYs, len(c.Sizes))
	for i, size := range c.Sizes {
		rmse[i].X, rmse[i].Y = float64(size), c.Metrics[i].RMSE
		nlpd[i].X, nlpd[i].Y = float64(size), c.Metrics[i].NLPD
	}
	if err := plotutil.AddLinePoints(p, "RMSE", rmse, "NLPD", nlpd); err != nil {
		return optimization.WrapError(err, "validation: building plot")
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return optimization.WrapError(err, "validation: saving plot")
	}
	return nil
}
