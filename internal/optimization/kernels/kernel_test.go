package kernels

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	apperrors "github.com/copyleftdev/surrogate/internal/errors"
	"github.com/copyleftdev/surrogate/internal/optimization"
)

func logDefaults(k Kernel) []float64 {
	d := k.Defaults()
	out := make([]float64, len(d))
	for i, v := range d {
		out[i] = math.Log(v)
	}
	return out
}

func TestSquaredExponentialKernel(t *testing.T) {
	tests := []struct {
		name     string
		x1       []float64
		x2       []float64
		ls       float64
		sv       float64
		expected float64
	}{
		{
			name:     "same point",
			x1:       []float64{1.0, 2.0},
			x2:       []float64{1.0, 2.0},
			ls:       1.0,
			sv:       1.0,
			expected: 1.0,
		},
		{
			name:     "different points",
			x1:       []float64{0.0, 0.0},
			x2:       []float64{1.0, 1.0},
			ls:       1.0,
			sv:       1.0,
			expected: math.Exp(-1.0), // exp(-0.5 * (1+1) / 1^2)
		},
		{
			name:     "with different length scale",
			x1:       []float64{0.0, 0.0},
			x2:       []float64{2.0, 2.0},
			ls:       2.0,
			sv:       1.0,
			expected: math.Exp(-1.0), // exp(-0.5 * (2^2 + 2^2) / 2^2)
		},
		{
			name:     "signal variance scales",
			x1:       []float64{0.0},
			x2:       []float64{1.0},
			ls:       1.0,
			sv:       3.0,
			expected: 3.0 * math.Exp(-0.5),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kernel := NewSquaredExponential(tt.ls, tt.sv)
			theta := logDefaults(kernel)
			result := kernel.Eval(tt.x1, tt.x2, theta)
			assert.InDelta(t, tt.expected, result, 1e-10)

			// Test symmetry
			assert.InDelta(t, result, kernel.Eval(tt.x2, tt.x1, theta), 1e-15)
		})
	}
}

func TestMatern52Kernel(t *testing.T) {
	kernel := NewMatern52(2.0, 1.5)
	theta := logDefaults(kernel)

	assert.InDelta(t, 1.5, kernel.Eval([]float64{1, 1}, []float64{1, 1}, theta), 1e-12)

	// r = 1 at distance 2 with length scale 2
	want := 1.5 * (1 + math.Sqrt(5) + 5.0/3.0) * math.Exp(-math.Sqrt(5))
	assert.InDelta(t, want, kernel.Eval([]float64{0, 0}, []float64{2, 0}, theta), 1e-12)

	// Decreasing in distance
	prev := math.Inf(1)
	for d := 0.0; d < 5; d += 0.5 {
		v := kernel.Eval([]float64{0, 0}, []float64{d, 0}, theta)
		assert.Less(t, v, prev)
		prev = v
	}
}

func TestARDKernel(t *testing.T) {
	kernel := NewARD([]float64{1.0, 10.0}, 2.0)
	theta := logDefaults(kernel)

	assert.Equal(t, []string{"length_scale_0", "length_scale_1", "signal_variance"}, kernel.ParamNames())
	assert.Equal(t, 2, kernel.Dims())

	// The long second length scale makes that dimension nearly irrelevant.
	alongShort := kernel.Eval([]float64{0, 0}, []float64{1, 0}, theta)
	alongLong := kernel.Eval([]float64{0, 0}, []float64{0, 1}, theta)
	assert.InDelta(t, 2*math.Exp(-0.5), alongShort, 1e-12)
	assert.InDelta(t, 2*math.Exp(-0.005), alongLong, 1e-12)

	// With equal length scales ARD matches the isotropic kernel.
	iso := NewSquaredExponential(1.3, 0.7)
	ard := NewARDUniform(3, 1.3, 0.7)
	x1, x2 := []float64{0.1, -0.4, 2}, []float64{1, 0.3, 1.5}
	assert.InDelta(t, iso.Eval(x1, x2, logDefaults(iso)), ard.Eval(x1, x2, logDefaults(ard)), 1e-12)
}

func TestSelfSimilarityIsMaximal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	kernels := []Kernel{
		NewSquaredExponential(0.8, 1.2),
		NewARD([]float64{0.5, 2.0, 1.0}, 0.9),
		NewMatern52(1.1, 2.0),
	}
	for _, k := range kernels {
		t.Run(k.Name(), func(t *testing.T) {
			theta := logDefaults(k)
			for i := 0; i < 100; i++ {
				x := []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
				y := []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
				assert.GreaterOrEqual(t, k.Eval(x, x, theta), k.Eval(x, y, theta))
			}
		})
	}
}

func TestNearIdenticalVectors(t *testing.T) {
	k := NewSquaredExponential(1e-3, 1.0)
	theta := logDefaults(k)
	x1 := []float64{1e8, 1e8}
	x2 := []float64{1e8 + 1e-6, 1e8}
	d := x2[0] - x1[0]
	want := math.Exp(-0.5 * d * d / 1e-6)
	assert.InDelta(t, want, k.Eval(x1, x2, theta), 1e-12)
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	kernels := []Kernel{
		NewSquaredExponential(0.7, 1.3),
		NewARD([]float64{0.5, 1.5}, 0.8),
		NewMatern52(1.2, 0.6),
		NewConstant(0.4),
		NewSum(NewSquaredExponential(0.9, 1.0), NewConstant(0.2)),
		NewProduct(NewConstant(2.0), NewMatern52(0.8, 1.0)),
	}
	x1 := []float64{0.3, -0.2}
	x2 := []float64{1.1, 0.4}
	const h = 1e-6

	for _, k := range kernels {
		t.Run(k.Name(), func(t *testing.T) {
			theta := logDefaults(k)
			grad := make([]float64, NumParams(k))
			v := k.EvalGrad(x1, x2, theta, grad)
			assert.InDelta(t, k.Eval(x1, x2, theta), v, 1e-14)

			for i := range theta {
				plus := append([]float64(nil), theta...)
				minus := append([]float64(nil), theta...)
				plus[i] += h
				minus[i] -= h
				fd := (k.Eval(x1, x2, plus) - k.Eval(x1, x2, minus)) / (2 * h)
				assert.InDelta(t, fd, grad[i], 1e-6, "parameter %s", k.ParamNames()[i])
			}
		})
	}
}

func TestCompositeParamNames(t *testing.T) {
	k := NewSum(NewSquaredExponential(1, 1), NewProduct(NewConstant(1), NewMatern52(1, 1)))
	assert.Equal(t, []string{
		"k0.length_scale", "k0.signal_variance",
		"k1.k0.constant", "k1.k1.length_scale", "k1.k1.signal_variance",
	}, k.ParamNames())
	assert.Len(t, k.Defaults(), 5)
}

func TestCovarianceMatrices(t *testing.T) {
	k := NewSquaredExponential(0.9, 1.4)
	theta := logDefaults(k)
	X := mat.NewDense(4, 2, []float64{0, 0, 1, 0, 0, 1, 2, 2})
	Y := mat.NewDense(3, 2, []float64{0.5, 0.5, 1, 1, -1, 0})

	K := SelfCovariance(k, X, theta, nil)
	n := K.SymmetricDim()
	require.Equal(t, 4, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			assert.Equal(t, K.At(i, j), K.At(j, i))
			assert.InDelta(t, k.Eval(X.RawRowView(i), X.RawRowView(j), theta), K.At(i, j), 1e-15)
		}
	}

	C := Covariance(k, X, Y, theta)
	r, c := C.Dims()
	require.Equal(t, 4, r)
	require.Equal(t, 3, c)
	assert.InDelta(t, k.Eval(X.RawRowView(3), Y.RawRowView(1), theta), C.At(3, 1), 1e-15)

	diag := Diagonal(k, X, theta)
	for i, v := range diag {
		assert.Equal(t, K.At(i, i), v)
	}
}

func TestCovarianceGradients(t *testing.T) {
	k := NewARD([]float64{0.6, 1.4}, 1.1)
	theta := logDefaults(k)
	X := mat.NewDense(3, 2, []float64{0, 0, 1, 0.5, -0.5, 2})

	K, grads := CovarianceGradients(k, X, theta, nil, nil)
	require.Len(t, grads, NumParams(k))
	assert.True(t, mat.EqualApprox(K, SelfCovariance(k, X, theta, nil), 1e-15))

	for i, name := range k.ParamNames() {
		G, err := Gradient(k, X, X, theta, name)
		require.NoError(t, err)
		assert.True(t, mat.EqualApprox(G, grads[i], 1e-15), name)
	}

	_, err := Gradient(k, X, X, theta, "missing")
	assert.Error(t, err)
}

func TestSpecRoundTrip(t *testing.T) {
	kernels := []Kernel{
		NewSquaredExponential(0.7, 1.3),
		NewARD([]float64{0.5, 1.5, 3}, 0.8),
		NewMatern52(1.2, 0.6),
		NewSum(NewSquaredExponential(0.9, 1.0), NewConstant(0.2)),
		NewProduct(NewConstant(2.0), NewMatern52(0.8, 1.0)),
	}
	x1, x2 := []float64{0.1, 0.2, 0.3}, []float64{-0.3, 0.8, 1}

	for _, k := range kernels {
		t.Run(k.Name(), func(t *testing.T) {
			restored, err := FromSpec(k.Spec())
			require.NoError(t, err)
			assert.Equal(t, k.ParamNames(), restored.ParamNames())
			assert.Equal(t, k.Defaults(), restored.Defaults())
			theta := logDefaults(k)
			assert.Equal(t, k.Eval(x1, x2, theta), restored.Eval(x1, x2, theta))
		})
	}
}

func TestFromSpecErrors(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"unknown type", Spec{Type: "cosine"}},
		{"missing defaults", Spec{Type: TypeSquaredExponential}},
		{"negative length scale", Spec{Type: TypeMatern52, Defaults: []float64{-1, 1}}},
		{"bad child", Spec{Type: TypeSum, Children: []Spec{{Type: TypeConstant}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromSpec(tt.spec)
			assert.Error(t, err)
		})
	}
}

func TestNewByName(t *testing.T) {
	for _, name := range []string{"rbf", "gaussian", TypeSquaredExponential, TypeMatern52, TypeARD} {
		k, err := New(name, 3, 1.0, 2.0)
		require.NoError(t, err, name)
		assert.Equal(t, 2.0, k.Defaults()[len(k.Defaults())-1])
	}
	_, err := New("periodic", 1, 1, 1)
	assert.Error(t, err)
	_, err = New(TypeARD, 0, 1, 1)
	assert.Error(t, err)
}

func TestErrorsClassifyAsInvalidArgument(t *testing.T) {
	X := mat.NewDense(1, 1, []float64{0})
	names := []string{"length_scale", "signal_variance"}

	tests := []struct {
		name string
		call func() error
	}{
		{"unknown spec type", func() error { _, err := FromSpec(Spec{Type: "cosine"}); return err }},
		{"constructor panic", func() error {
			_, err := FromSpec(Spec{Type: TypeMatern52, Defaults: []float64{-1, 1}})
			return err
		}},
		{"unknown name", func() error { _, err := New("periodic", 1, 1, 1); return err }},
		{"unknown gradient parameter", func() error {
			k := NewSquaredExponential(1, 1)
			_, err := Gradient(k, X, X, logDefaults(k), "missing")
			return err
		}},
		{"non-positive value", func() error { _, err := NewHyperparameters(names, []float64{0, 1}); return err }},
		{"missing map entry", func() error { _, err := FromMap(names, map[string]float64{}); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			e, ok := optimization.IsOptimizationError(err)
			require.True(t, ok, "%T", err)
			assert.Equal(t, "kernels", e.Component)
			assert.NotEmpty(t, e.Op)
			assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.Code(err))
		})
	}
}

func TestKernelHyperparameters(t *testing.T) {
	names := []string{"length_scale", "signal_variance"}

	hp, err := NewHyperparameters(names, []float64{2.0, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 2, hp.Len())
	assert.InDeltaSlice(t, []float64{math.Log(2), math.Log(0.5)}, hp.Log(), 1e-15)
	assert.InDeltaSlice(t, []float64{2.0, 0.5}, hp.Values(), 1e-15)

	v, ok := hp.Value("signal_variance")
	assert.True(t, ok)
	assert.InDelta(t, 0.5, v, 1e-15)
	_, ok = hp.Value("noise")
	assert.False(t, ok)

	fromMap, err := FromMap(names, hp.Map())
	require.NoError(t, err)
	assert.InDeltaSlice(t, hp.Log(), fromMap.Log(), 1e-15)

	// Any log-space vector maps back to positive values.
	assert.Greater(t, FromLog(names, []float64{-50, 40}).Values()[0], 0.0)

	_, err = NewHyperparameters(names, []float64{0, 1})
	assert.Error(t, err)
	_, err = NewHyperparameters(names, []float64{1, math.Inf(1)})
	assert.Error(t, err)
	_, err = NewHyperparameters(names, []float64{1})
	assert.Error(t, err)
	_, err = FromMap(names, map[string]float64{"length_scale": 1})
	assert.Error(t, err)

	clone := hp.Clone()
	assert.Equal(t, hp.Log(), clone.Log())
	assert.Contains(t, hp.String(), "length_scale=2")
}
