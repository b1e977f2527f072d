package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/surrogate/internal/config"
	apperrors "github.com/copyleftdev/surrogate/internal/errors"
	"github.com/copyleftdev/surrogate/internal/optimization"
	"github.com/copyleftdev/surrogate/internal/optimization/bayesian"
	"github.com/copyleftdev/surrogate/internal/optimization/kernels"
	"github.com/copyleftdev/surrogate/internal/testutil"
)

func fittedSnapshot(t *testing.T, n int) *bayesian.Snapshot {
	t.Helper()
	cfg := optimization.DefaultOptimizerConfig()
	cfg.MaxIterations = 0

	gp, err := bayesian.NewGP(kernels.NewSquaredExponential(1.5, 2), 1e-4, bayesian.WithOptimizer(cfg))
	require.NoError(t, err)
	require.NoError(t, gp.Fit(testutil.LinearDataset(t, n, 0, 1, 2, 1), nil))

	s, err := gp.Export()
	require.NoError(t, err)
	return s
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	lite, err := OpenSQLite("file:"+filepath.Join(t.TempDir(), "models.db"), 1)
	require.NoError(t, err)

	out := map[string]Store{
		"memory": NewMemory(),
		"sqlite": lite,
	}
	t.Cleanup(func() {
		for _, s := range out {
			s.Close()
		}
	})
	return out
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			snap := fittedSnapshot(t, 5)
			require.NoError(t, s.Put(ctx, &Model{ID: "m1", Name: "linear", CreatedAt: created, Snapshot: snap}))

			got, err := s.Get(ctx, "m1")
			require.NoError(t, err)
			assert.Equal(t, "linear", got.Name)
			assert.True(t, created.Equal(got.CreatedAt))
			assert.Equal(t, snap, got.Snapshot)

			// The restored model predicts exactly like the stored one.
			want, err := bayesian.Restore(snap)
			require.NoError(t, err)
			restored, err := bayesian.Restore(got.Snapshot)
			require.NoError(t, err)

			X := mat.NewDense(3, 1, []float64{0.5, 2.5, 7})
			wm, wv, err := want.Predict(X)
			require.NoError(t, err)
			gm, gv, err := restored.Predict(X)
			require.NoError(t, err)
			assert.Equal(t, wm.RawVector().Data, gm.RawVector().Data)
			assert.Equal(t, wv.RawVector().Data, gv.RawVector().Data)
		})
	}
}

func TestStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, &Model{ID: "m", Snapshot: fittedSnapshot(t, 3)}))

			first, err := s.Get(ctx, "m")
			require.NoError(t, err)
			first.Snapshot.Rows[0].Label = 1e9

			second, err := s.Get(ctx, "m")
			require.NoError(t, err)
			assert.Equal(t, 1.0, second.Snapshot.Rows[0].Label)
		})
	}
}

func TestStoreUpsertListDelete(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, &Model{ID: "b", CreatedAt: base.Add(time.Hour), Snapshot: fittedSnapshot(t, 3)}))
			require.NoError(t, s.Put(ctx, &Model{ID: "a", CreatedAt: base, Snapshot: fittedSnapshot(t, 4)}))
			require.NoError(t, s.Put(ctx, &Model{ID: "b", Name: "replaced", CreatedAt: base.Add(2 * time.Hour), Snapshot: fittedSnapshot(t, 6)}))

			infos, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, infos, 2)
			assert.Equal(t, "a", infos[0].ID)
			assert.Equal(t, 4, infos[0].Rows)
			assert.Equal(t, kernels.TypeSquaredExponential, infos[0].Kernel)
			assert.Equal(t, "b", infos[1].ID)
			assert.Equal(t, "replaced", infos[1].Name)
			assert.Equal(t, 6, infos[1].Rows)
			assert.Equal(t, 1, infos[1].Dim)

			require.NoError(t, s.Delete(ctx, "a"))
			_, err = s.Get(ctx, "a")
			assert.True(t, errors.Is(err, apperrors.ErrNotFound))

			infos, err = s.List(ctx)
			require.NoError(t, err)
			require.Len(t, infos, 1)
			assert.Equal(t, "b", infos[0].ID)
		})
	}
}

func TestStoreErrors(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.True(t, errors.Is(err, apperrors.ErrNotFound))
			assert.Equal(t, 404, apperrors.HTTPStatus(err))

			assert.True(t, errors.Is(s.Delete(ctx, "missing"), apperrors.ErrNotFound))
			assert.Error(t, s.Put(ctx, &Model{Snapshot: fittedSnapshot(t, 2)}))
			assert.Error(t, s.Put(ctx, &Model{ID: "x"}))
			assert.Error(t, s.Put(ctx, nil))

			infos, err := s.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, infos)
		})
	}
}

func TestNew(t *testing.T) {
	s, err := New(config.Database{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = New(config.Database{Type: "sqlite", DSN: "file:" + filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	require.NoError(t, s.Close())

	_, err = New(config.Database{Type: "postgres"})
	assert.Error(t, err)
}
