package bayesian

import (
	"encoding/json"
	"math"

	"github.com/cockroachdb/errors"

	"github.com/copyleftdev/surrogate/internal/optimization"
	"github.com/copyleftdev/surrogate/internal/optimization/dataset"
	"github.com/copyleftdev/surrogate/internal/optimization/kernels"
)

// SnapshotVersion is the current snapshot format.
const SnapshotVersion = 1

// Snapshot is everything needed to rebuild a fitted GP without retraining.
// The factorization is not stored: Restore recomputes it from the exact
// hyperparameters and jitter, which reproduces the original bit for bit.
type Snapshot struct {
	Version int          `json:"version"`
	Kernel  kernels.Spec `json:"kernel"`

	// Hyperparameters are informational natural-scale values.
	Hyperparameters map[string]float64 `json:"hyperparameters"`
	// LogHyperparameters are the exact log-space values in Names order.
	LogHyperparameters []float64 `json:"log_hyperparameters"`
	Names              []string  `json:"names"`

	PriorMean   float64 `json:"prior_mean"`
	Normalize   bool    `json:"normalize"`
	Jitter      float64 `json:"jitter"`
	NoiseVar    float64 `json:"initial_noise_variance"`
	MaxJitter   int     `json:"max_jitter_attempts"`
	Dim         int     `json:"dim"`
	Fingerprint uint64  `json:"fingerprint"`

	Rows []dataset.Row `json:"rows"`
}

// Export captures the fitted state of the model.
func (gp *GP) Export() (*Snapshot, error) {
	if gp.post == nil {
		return nil, optimization.NewNotFittedError("GP.Export")
	}
	post := gp.post
	rows := make([]dataset.Row, post.data.Len())
	copy(rows, post.data.Rows())

	return &Snapshot{
		Version:            SnapshotVersion,
		Kernel:             gp.kernel.Spec(),
		Hyperparameters:    post.hp.Map(),
		LogHyperparameters: post.hp.Log(),
		Names:              post.hp.Names(),
		PriorMean:          post.priorMean,
		Normalize:          gp.normalize,
		Jitter:             post.jitter,
		NoiseVar:           gp.noiseVar,
		MaxJitter:          gp.maxJitter,
		Dim:                post.data.Dim(),
		Fingerprint:        post.data.Fingerprint(),
		Rows:               rows,
	}, nil
}

// Restore rebuilds a fitted GP from a snapshot. opts apply on top of the
// settings recorded in the snapshot.
func Restore(s *Snapshot, opts ...Option) (*GP, error) {
	const op = "Restore"

	if s == nil {
		return nil, optimization.NewError("snapshot must not be nil").WithOperation(op)
	}
	if s.Version != SnapshotVersion {
		return nil, optimization.NewErrorf("unsupported snapshot version %d", s.Version).WithOperation(op)
	}
	if len(s.Rows) == 0 {
		return nil, optimization.NewInsufficientDataError(1, 0)
	}

	kernel, err := kernels.FromSpec(s.Kernel)
	if err != nil {
		return nil, optimization.WrapError(err, "restoring kernel")
	}
	want := append(kernel.ParamNames(), NoiseParam)
	if !sameNames(s.Names, want) || len(s.LogHyperparameters) != len(want) {
		return nil, optimization.NewErrorf("snapshot hyperparameters %v do not match kernel %v", s.Names, want).
			WithOperation(op)
	}
	for i, v := range s.LogHyperparameters {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, optimization.NewErrorf("snapshot hyperparameter %s is not finite", s.Names[i]).WithOperation(op)
		}
	}
	if !(s.Jitter >= 0) {
		return nil, optimization.NewErrorf("snapshot jitter must be non-negative, got %v", s.Jitter).WithOperation(op)
	}

	data := dataset.New(s.Dim)
	for _, r := range s.Rows {
		if _, err := data.Add(r.ID, r.Features, r.Label); err != nil {
			return nil, err
		}
	}
	if s.Fingerprint != 0 && data.Fingerprint() != s.Fingerprint {
		return nil, optimization.NewError("snapshot rows do not match their fingerprint").WithOperation(op)
	}

	noiseVar := s.NoiseVar
	if !(noiseVar > 0) {
		noiseVar = math.Exp(s.LogHyperparameters[len(s.LogHyperparameters)-1])
	}
	maxJitter := s.MaxJitter
	if maxJitter < 1 {
		maxJitter = DefaultMaxJitterAttempts
	}
	base := []Option{
		WithNormalizeTargets(s.Normalize),
		WithMaxJitterAttempts(maxJitter),
	}
	gp, err := NewGP(kernel, noiseVar, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	hp := kernels.FromLog(s.Names, s.LogHyperparameters)
	jitter := s.Jitter
	post, err := gp.factorize(data, hp, s.PriorMean, &jitter)
	if err != nil {
		return nil, optimization.WrapError(err, "gaussian_process: "+op)
	}
	gp.post = post
	return gp, nil
}

// MarshalSnapshot encodes a snapshot as JSON.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	b, err := json.Marshal(s)
	return b, errors.Wrap(err, "encoding snapshot")
}

// UnmarshalSnapshot decodes a JSON snapshot.
func UnmarshalSnapshot(b []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "decoding snapshot")
	}
	return &s, nil
}
