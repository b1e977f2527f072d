package bayesian

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/surrogate/internal/optimization"
	"github.com/copyleftdev/surrogate/internal/optimization/acquisition"
	"github.com/copyleftdev/surrogate/internal/optimization/dataset"
)

// Ranking is the outcome of ranking candidate points.
type Ranking struct {
	// Selected holds candidate indices, best first.
	Selected []int `json:"selected"`
	// Scores and Predictions are aligned with the candidates.
	Scores      []float64                 `json:"scores"`
	Predictions []optimization.Prediction `json:"predictions"`
	Incumbent   *float64                  `json:"incumbent,omitempty"`
}

// RankCandidates predicts every candidate, scores the predictions with
// ranker and selects the k best. EI and PI without a configured incumbent
// compare against the best training label. Thompson scores are one joint
// draw from the posterior over all candidates.
func RankCandidates(gp *GP, candidates []dataset.FeatureVector, ranker *acquisition.Ranker, k int) (*Ranking, error) {
	const op = "RankCandidates"

	if gp == nil || ranker == nil {
		return nil, optimization.NewError("model and ranker must not be nil").WithOperation(op)
	}
	if k < 0 {
		return nil, optimization.NewErrorf("k must be non-negative, got %d", k).WithOperation(op)
	}
	predictions, err := gp.PredictPoints(candidates)
	if err != nil {
		return nil, err
	}

	out := &Ranking{Predictions: predictions}
	if len(candidates) == 0 {
		out.Scores = []float64{}
		out.Selected = []int{}
		return out, nil
	}

	if ranker.NeedsIncumbent() {
		best := bestLabel(gp.post.data, ranker.Direction())
		ranker = ranker.WithIncumbent(best)
	}
	if inc := ranker.Config().Incumbent; inc != nil {
		out.Incumbent = inc
	}

	if ranker.Strategy() == acquisition.Thompson {
		X, err := dataset.MatrixFromVectors(candidates, gp.post.data.Dim())
		if err != nil {
			return nil, err
		}
		draw, err := gp.Sample(X, 1, rand.New(rand.NewSource(ranker.Config().Seed)))
		if err != nil {
			return nil, err
		}
		out.Scores = make([]float64, len(candidates))
		for i := range out.Scores {
			out.Scores[i] = draw.At(i, 0)
		}
	} else {
		if out.Scores, err = ranker.Score(predictions); err != nil {
			return nil, err
		}
	}

	if out.Selected, err = ranker.Select(out.Scores, k); err != nil {
		return nil, err
	}
	return out, nil
}

// bestLabel returns the best training label in the given direction.
func bestLabel(ds *dataset.Dataset, dir optimization.Direction) float64 {
	labels := ds.Labels().RawVector().Data
	if dir == optimization.Maximize {
		return floats.Max(labels)
	}
	return floats.Min(labels)
}
