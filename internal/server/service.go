package server

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/copyleftdev/surrogate/internal/errors"
	"github.com/copyleftdev/surrogate/internal/optimization"
	"github.com/copyleftdev/surrogate/internal/optimization/acquisition"
	"github.com/copyleftdev/surrogate/internal/optimization/bayesian"
	"github.com/copyleftdev/surrogate/internal/optimization/dataset"
	"github.com/copyleftdev/surrogate/internal/optimization/validation"
	"github.com/copyleftdev/surrogate/internal/store"
)

// Observation is one labeled training or held-out point.
type Observation struct {
	ID       string    `json:"id,omitempty"`
	Features []float64 `json:"features"`
	Label    float64   `json:"label"`
}

// FitRequest trains a new model. Unset model fields use the server
// defaults.
type FitRequest struct {
	Name          string        `json:"name,omitempty"`
	Kernel        string        `json:"kernel,omitempty"`
	LengthScale   *float64      `json:"length_scale,omitempty"`
	Noise         *float64      `json:"noise,omitempty"`
	MaxIterations *int          `json:"max_iterations,omitempty"`
	Normalize     *bool         `json:"normalize,omitempty"`
	Data          []Observation `json:"data"`
}

// ModelResponse describes a fitted model.
type ModelResponse struct {
	store.Info
	Hyperparameters       map[string]float64 `json:"hyperparameters"`
	PriorMean             float64            `json:"prior_mean"`
	Jitter                float64            `json:"jitter"`
	LogMarginalLikelihood *float64           `json:"log_marginal_likelihood,omitempty"`
}

// PredictRequest lists query points.
type PredictRequest struct {
	Points [][]float64 `json:"points"`
}

// PredictResponse holds one prediction per query point.
type PredictResponse struct {
	Predictions []optimization.Prediction `json:"predictions"`
}

// RankRequest ranks candidates. Unset ranking fields use the server
// defaults.
type RankRequest struct {
	Candidates [][]float64 `json:"candidates"`
	K          int         `json:"k"`
	Strategy   string      `json:"strategy,omitempty"`
	Direction  string      `json:"direction,omitempty"`
	Kappa      *float64    `json:"kappa,omitempty"`
	Xi         *float64    `json:"xi,omitempty"`
	Incumbent  *float64    `json:"incumbent,omitempty"`
	Seed       *int64      `json:"seed,omitempty"`
}

// EvaluateRequest scores a model on held-out data.
type EvaluateRequest struct {
	Data []Observation `json:"data"`
}

func (s *Server) fitModel(ctx context.Context, req *FitRequest) (*ModelResponse, error) {
	const op = "fit"

	ds, err := toDataset(req.Data)
	if err != nil {
		return nil, err
	}

	mc := s.cfg.Model
	if req.Kernel != "" {
		mc.Kernel = req.Kernel
	}
	if req.LengthScale != nil {
		mc.LengthScale = *req.LengthScale
	}
	if req.Noise != nil {
		mc.Noise = *req.Noise
	}
	if req.MaxIterations != nil {
		mc.MaxIterations = *req.MaxIterations
	}
	if req.Normalize != nil {
		mc.NormalizeTargets = *req.Normalize
	}
	gp, err := mc.NewGP(ds.Dim(), s.logger)
	if err != nil {
		return nil, apperrors.InvalidArgument(err, op)
	}

	start := time.Now()
	err = gp.Fit(ds, nil)
	fitDuration.WithLabelValues(gp.Kernel().Name()).Observe(time.Since(start).Seconds())
	trainingRows.Observe(float64(ds.Len()))
	if err != nil {
		fitsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	fitsTotal.WithLabelValues("success").Inc()

	snap, err := gp.Export()
	if err != nil {
		return nil, err
	}
	m := &store.Model{
		ID:        uuid.NewString(),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
		Snapshot:  snap,
	}
	if err := s.store.Put(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Info("Model fitted",
		zap.String("model_id", m.ID),
		zap.String("kernel", snap.Kernel.Type),
		zap.Int("rows", ds.Len()),
		zap.Duration("took", time.Since(start)),
	)
	return describe(m, gp), nil
}

func (s *Server) getModel(ctx context.Context, id string) (*ModelResponse, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return describe(m, nil), nil
}

func (s *Server) listModels(ctx context.Context) ([]store.Info, error) {
	return s.store.List(ctx)
}

func (s *Server) deleteModel(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Model deleted", zap.String("model_id", id))
	return nil
}

// load restores a stored model.
func (s *Server) load(ctx context.Context, id string) (*bayesian.GP, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return bayesian.Restore(m.Snapshot, bayesian.WithLogger(s.logger))
}

func (s *Server) predict(ctx context.Context, id string, req *PredictRequest) (*PredictResponse, error) {
	gp, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	predictions, err := gp.PredictPoints(toVectors(req.Points))
	if err != nil {
		return nil, err
	}
	predictionsTotal.WithLabelValues("predict").Add(float64(len(predictions)))
	return &PredictResponse{Predictions: predictions}, nil
}

func (s *Server) rank(ctx context.Context, id string, req *RankRequest) (*bayesian.Ranking, error) {
	ranker, err := s.ranker(req)
	if err != nil {
		return nil, apperrors.InvalidArgument(err, "rank")
	}
	gp, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ranking, err := bayesian.RankCandidates(gp, toVectors(req.Candidates), ranker, req.K)
	if err != nil {
		return nil, err
	}
	predictionsTotal.WithLabelValues("rank").Add(float64(len(ranking.Predictions)))
	return ranking, nil
}

// ranker applies the request overrides to the configured defaults.
func (s *Server) ranker(req *RankRequest) (*acquisition.Ranker, error) {
	ac := s.cfg.Acquisition
	if req.Strategy != "" {
		ac.Strategy = req.Strategy
	}
	if req.Direction != "" {
		ac.Direction = req.Direction
	}
	if req.Kappa != nil {
		ac.Kappa = *req.Kappa
	}
	if req.Xi != nil {
		ac.Xi = *req.Xi
	}
	if req.Seed != nil {
		ac.Seed = *req.Seed
	}
	cfg, err := ac.RankerConfig()
	if err != nil {
		return nil, err
	}
	cfg.Incumbent = req.Incumbent
	return acquisition.NewRanker(cfg)
}

func (s *Server) evaluate(ctx context.Context, id string, req *EvaluateRequest) (*validation.Metrics, error) {
	heldOut, err := toDataset(req.Data)
	if err != nil {
		return nil, err
	}
	gp, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	metrics, err := validation.Evaluate(gp, heldOut)
	if err != nil {
		return nil, err
	}
	predictionsTotal.WithLabelValues("evaluate").Add(float64(heldOut.Len()))
	return metrics, nil
}

func describe(m *store.Model, gp *bayesian.GP) *ModelResponse {
	resp := &ModelResponse{
		Info:            m.Info(),
		Hyperparameters: m.Snapshot.Hyperparameters,
		PriorMean:       m.Snapshot.PriorMean,
		Jitter:          m.Snapshot.Jitter,
	}
	if gp != nil {
		if lml, err := gp.LogMarginalLikelihood(); err == nil {
			resp.LogMarginalLikelihood = &lml
		}
	}
	return resp
}

func toDataset(obs []Observation) (*dataset.Dataset, error) {
	if len(obs) == 0 {
		return nil, optimization.NewInsufficientDataError(1, 0)
	}
	ds := dataset.New(0)
	for _, o := range obs {
		if _, err := ds.Add(o.ID, o.Features, o.Label); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func toVectors(points [][]float64) []dataset.FeatureVector {
	out := make([]dataset.FeatureVector, len(points))
	for i, p := range points {
		out[i] = p
	}
	return out
}
