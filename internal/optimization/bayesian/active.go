package bayesian

import (
	"context"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/copyleftdev/surrogate/internal/optimization"
	"github.com/copyleftdev/surrogate/internal/optimization/acquisition"
	"github.com/copyleftdev/surrogate/internal/optimization/dataset"
)

// Oracle returns the label of a candidate, for example by running a
// simulation or looking up a measurement.
type Oracle func(ctx context.Context, x dataset.FeatureVector) (float64, error)

// ActiveLearnerConfig configures an ActiveLearner.
type ActiveLearnerConfig struct {
	// NewModel builds the unfitted model trained in every round.
	NewModel func() (*GP, error)
	// Ranker scores the unlabeled pool.
	Ranker *acquisition.Ranker
	// Oracle labels the selected candidates.
	Oracle Oracle

	// Number of candidates labeled per round
	BatchSize int
	// Number of fit/rank/label rounds
	MaxIterations int
	// Pool points labeled at random before the first round when fewer
	// labeled rows are available.
	InitialPoints int
	// Random seed for the initial points
	RandomSeed int64

	Logger *zap.Logger
}

// LabelEvent records one candidate labeled by the loop.
type LabelEvent struct {
	Iteration int         `json:"iteration"`
	Row       dataset.Row `json:"row"`
	// Score is the acquisition score that selected the row. It is zero for
	// randomly chosen initial points.
	Score   float64 `json:"score"`
	Initial bool    `json:"initial"`
}

// ActiveResult is the outcome of an active learning run.
type ActiveResult struct {
	Labeled   *dataset.Dataset
	Model     *GP
	Best      dataset.Row
	History   []LabelEvent
	Rounds    int
	Remaining []dataset.FeatureVector
}

// ActiveLearner runs the fit, rank and label loop over a pool of unlabeled
// candidates.
type ActiveLearner struct {
	// Configuration
	config ActiveLearnerConfig

	// Best row labeled so far
	best *dataset.Row

	// History of labeled rows
	history []LabelEvent

	// mu guards cancel, which Stop may read from any goroutine.
	mu     sync.Mutex
	cancel context.CancelFunc

	logger *zap.Logger
}

// NewActiveLearner validates config and returns a learner.
func NewActiveLearner(config ActiveLearnerConfig) (*ActiveLearner, error) {
	const op = "NewActiveLearner"

	if config.NewModel == nil || config.Ranker == nil || config.Oracle == nil {
		return nil, optimization.NewError("model factory, ranker and oracle are required").WithOperation(op)
	}
	if config.BatchSize < 1 {
		config.BatchSize = 1 // Default value
	}
	if config.MaxIterations < 1 {
		config.MaxIterations = 10 // Default value
	}
	if config.InitialPoints < 1 {
		config.InitialPoints = 2
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ActiveLearner{
		config: config,
		logger: logger.Named("active_learner"),
	}, nil
}

// Run labels candidates from pool until MaxIterations rounds ran or the pool
// is empty. labeled may be nil. Neither argument is modified.
func (al *ActiveLearner) Run(ctx context.Context, labeled *dataset.Dataset, pool []dataset.FeatureVector) (*ActiveResult, error) {
	const op = "ActiveLearner.Run"

	ctx, cancel := context.WithCancel(ctx)
	al.mu.Lock()
	al.cancel = cancel
	al.mu.Unlock()
	defer func() {
		al.mu.Lock()
		al.cancel = nil
		al.mu.Unlock()
		cancel()
	}()

	al.best = nil
	al.history = nil

	var data *dataset.Dataset
	switch {
	case labeled != nil:
		data = labeled.Clone()
	case len(pool) > 0:
		data = dataset.New(len(pool[0]))
	default:
		return nil, optimization.NewInsufficientDataError(1, 0)
	}
	for _, r := range data.Rows() {
		al.updateBest(r)
	}

	remaining := make([]dataset.FeatureVector, len(pool))
	copy(remaining, pool)
	for i, x := range remaining {
		if err := x.Validate(i); err != nil {
			return nil, err
		}
	}

	// Initial random points
	if missing := al.config.InitialPoints - data.Len(); missing > 0 {
		if missing > len(remaining) {
			return nil, optimization.NewInsufficientDataError(al.config.InitialPoints, data.Len()+len(remaining))
		}
		rng := rand.New(rand.NewSource(al.config.RandomSeed))
		picked := rng.Perm(len(remaining))[:missing]
		for _, idx := range picked {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := al.label(ctx, data, remaining[idx], 0, 0, true); err != nil {
				return nil, optimization.WrapError(err, "active_learner: "+op)
			}
		}
		remaining = removeIndices(remaining, picked)
	}

	rounds := 0
	for ; rounds < al.config.MaxIterations && len(remaining) > 0; rounds++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		model, err := al.fit(data)
		if err != nil {
			return nil, optimization.WrapError(err, "active_learner: "+op)
		}

		cfg := al.config.Ranker.Config()
		cfg.Seed += int64(rounds)
		ranker, err := acquisition.NewRanker(cfg)
		if err != nil {
			return nil, err
		}
		ranking, err := RankCandidates(model, remaining, ranker, al.config.BatchSize)
		if err != nil {
			return nil, optimization.WrapError(err, "active_learner: "+op)
		}

		for _, idx := range ranking.Selected {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := al.label(ctx, data, remaining[idx], rounds+1, ranking.Scores[idx], false); err != nil {
				return nil, optimization.WrapError(err, "active_learner: "+op)
			}
		}
		remaining = removeIndices(remaining, ranking.Selected)

		al.logger.Debug("Round finished",
			zap.Int("round", rounds+1),
			zap.Int("labeled", data.Len()),
			zap.Int("remaining", len(remaining)),
			zap.Float64("best", al.best.Label),
		)
	}

	model, err := al.fit(data)
	if err != nil {
		return nil, optimization.WrapError(err, "active_learner: "+op)
	}

	return &ActiveResult{
		Labeled:   data,
		Model:     model,
		Best:      *al.best,
		History:   al.History(),
		Rounds:    rounds,
		Remaining: remaining,
	}, nil
}

func (al *ActiveLearner) fit(data *dataset.Dataset) (*GP, error) {
	model, err := al.config.NewModel()
	if err != nil {
		return nil, err
	}
	if err := model.Fit(data, nil); err != nil {
		return nil, err
	}
	return model, nil
}

// label asks the oracle for x and appends the result to data.
func (al *ActiveLearner) label(ctx context.Context, data *dataset.Dataset, x dataset.FeatureVector, iteration int, score float64, initial bool) error {
	y, err := al.config.Oracle(ctx, x)
	if err != nil {
		return optimization.WrapError(err, "oracle failed")
	}
	id, err := data.Add("", x, y)
	if err != nil {
		return err
	}
	row, _ := data.Lookup(id)
	al.updateBest(row)
	al.history = append(al.history, LabelEvent{
		Iteration: iteration,
		Row:       row,
		Score:     score,
		Initial:   initial,
	})
	return nil
}

// Best returns the best labeled row so far.
func (al *ActiveLearner) Best() (dataset.Row, bool) {
	if al.best == nil {
		return dataset.Row{}, false
	}
	return *al.best, true
}

// History returns the rows labeled by the loop, in labeling order.
func (al *ActiveLearner) History() []LabelEvent {
	return append([]LabelEvent(nil), al.history...)
}

// Stop cancels a running loop. It is safe to call from any goroutine and
// does nothing when no loop is running.
func (al *ActiveLearner) Stop() {
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.cancel != nil {
		al.cancel()
	}
}

// updateBest updates the best row if r is better in the ranker's direction
func (al *ActiveLearner) updateBest(r dataset.Row) {
	dir := al.config.Ranker.Direction()
	if al.best == nil ||
		dir == optimization.Minimize && r.Label < al.best.Label ||
		dir == optimization.Maximize && r.Label > al.best.Label {
		row := r
		al.best = &row
	}
}

// removeIndices returns xs without the given indices, keeping order.
func removeIndices(xs []dataset.FeatureVector, idx []int) []dataset.FeatureVector {
	drop := make(map[int]bool, len(idx))
	for _, i := range idx {
		drop[i] = true
	}
	out := make([]dataset.FeatureVector, 0, len(xs)-len(drop))
	for i, x := range xs {
		if !drop[i] {
			out = append(out, x)
		}
	}
	return out
}
