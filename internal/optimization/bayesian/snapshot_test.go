package bayesian

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/surrogate/internal/optimization"
	"github.com/copyleftdev/surrogate/internal/optimization/kernels"
	"github.com/copyleftdev/surrogate/internal/testutil"
)

func fittedSineGP(t *testing.T) *GP {
	t.Helper()
	rng := rand.New(rand.NewSource(21))
	ds := testutil.SineDataset(t, rng, 18, 2, 0.05)
	gp := newTestGP(t, kernels.NewSum(kernels.NewARDUniform(2, 1, 1), kernels.NewConstant(0.1)), 1e-2,
		WithNormalizeTargets(true))
	require.NoError(t, gp.Fit(ds, nil))
	return gp
}

func TestSnapshotRoundTrip(t *testing.T) {
	gp := fittedSineGP(t)

	snap, err := gp.Export()
	require.NoError(t, err)
	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.Len(t, snap.Rows, 18)

	b, err := MarshalSnapshot(snap)
	require.NoError(t, err)
	decoded, err := UnmarshalSnapshot(b)
	require.NoError(t, err)

	restored, err := Restore(decoded)
	require.NoError(t, err)
	require.True(t, restored.IsFitted())

	Q := testutil.RandomMatrix(rand.New(rand.NewSource(4)), 25, 2, -1, 7)
	wantMean, wantVar, err := gp.Predict(Q)
	require.NoError(t, err)
	gotMean, gotVar, err := restored.Predict(Q)
	require.NoError(t, err)

	// Restoring rebuilds the exact same factorization.
	assert.Equal(t, wantMean.RawVector().Data, gotMean.RawVector().Data)
	assert.Equal(t, wantVar.RawVector().Data, gotVar.RawVector().Data)

	wantHP, err := gp.Hyperparameters()
	require.NoError(t, err)
	gotHP, err := restored.Hyperparameters()
	require.NoError(t, err)
	assert.Equal(t, wantHP.Log(), gotHP.Log())

	wantLML, _ := gp.LogMarginalLikelihood()
	gotLML, _ := restored.LogMarginalLikelihood()
	assert.Equal(t, wantLML, gotLML)

	// A restored model has no search report and can be re-fitted.
	assert.Nil(t, restored.OptimizationResult())
	data, err := restored.Dataset()
	require.NoError(t, err)
	require.NoError(t, restored.Fit(data, nil))
}

func TestRestoreErrors(t *testing.T) {
	gp := fittedSineGP(t)

	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"version", func(s *Snapshot) { s.Version = 99 }},
		{"no rows", func(s *Snapshot) { s.Rows = nil }},
		{"names", func(s *Snapshot) { s.Names[0] = "bogus" }},
		{"short parameters", func(s *Snapshot) { s.LogHyperparameters = s.LogHyperparameters[:2] }},
		{"non-finite parameter", func(s *Snapshot) { s.LogHyperparameters[0] = math.NaN() }},
		{"negative jitter", func(s *Snapshot) { s.Jitter = -1 }},
		{"tampered label", func(s *Snapshot) { s.Rows[0].Label += 1 }},
		{"unknown kernel", func(s *Snapshot) { s.Kernel.Type = "periodic" }},
		{"dimension", func(s *Snapshot) { s.Dim = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := gp.Export()
			require.NoError(t, err)
			b, err := MarshalSnapshot(snap)
			require.NoError(t, err)
			snap, err = UnmarshalSnapshot(b)
			require.NoError(t, err)

			tt.mutate(snap)
			_, err = Restore(snap)
			assert.Error(t, err)
		})
	}

	_, err := Restore(nil)
	assert.Error(t, err)
	_, err = UnmarshalSnapshot([]byte("{not json"))
	assert.Error(t, err)
}

func TestExportUnfitted(t *testing.T) {
	gp := newTestGP(t, kernels.NewSquaredExponential(1, 1), 1e-3)
	_, err := gp.Export()
	assert.True(t, errors.Is(err, optimization.ErrNotFitted))
}
