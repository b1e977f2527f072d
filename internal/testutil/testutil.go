// Package testutil holds synthetic data generators and numeric assertions
// shared by package tests.
package testutil

import (
	"math"
	"math/rand"
	"strconv"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/surrogate/internal/optimization/dataset"
)

// AssertFloat64SlicesEqual checks if two float64 slices are approximately equal
func AssertFloat64SlicesEqual(t *testing.T, got, want []float64, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}

	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got[i], want[i], tol)
		}
	}
}

// AssertMatDimsEqual checks if two matrices have the same dimensions
func AssertMatDimsEqual(t *testing.T, got, want mat.Matrix) {
	t.Helper()

	rg, cg := got.Dims()
	rw, cw := want.Dims()

	if rg != rw || cg != cw {
		t.Fatalf("matrix dimensions mismatch: got %dx%d, want %dx%d", rg, cg, rw, cw)
	}
}

// AssertMatEqual checks if two matrices are approximately equal
func AssertMatEqual(t *testing.T, got, want mat.Matrix, tol float64) {
	t.Helper()

	AssertMatDimsEqual(t, got, want)

	r, c := got.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			g := got.At(i, j)
			w := want.At(i, j)
			if math.Abs(g-w) > tol {
				t.Fatalf("at (%d,%d): got %v, want %v (tolerance %v)", i, j, g, w, tol)
			}
		}
	}
}

// AssertSymmetric checks that m equals its transpose within tol.
func AssertSymmetric(t *testing.T, m mat.Matrix, tol float64) {
	t.Helper()
	AssertMatEqual(t, m, m.T(), tol)
}

// RandomMatrix generates a random matrix with values in [min, max]
func RandomMatrix(rng *rand.Rand, rows, cols int, min, max float64) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = min + rng.Float64()*(max-min)
	}
	return mat.NewDense(rows, cols, data)
}

// RandomVectors generates n feature vectors of dimension dim in [min, max].
func RandomVectors(rng *rand.Rand, n, dim int, min, max float64) []dataset.FeatureVector {
	out := make([]dataset.FeatureVector, n)
	for i := range out {
		v := make(dataset.FeatureVector, dim)
		for j := range v {
			v[j] = min + rng.Float64()*(max-min)
		}
		out[i] = v
	}
	return out
}

// LinearDataset returns n one-dimensional rows x = start + i*step labeled
// slope*x + intercept, with ids "row-0", "row-1", ...
func LinearDataset(t testing.TB, n int, start, step, slope, intercept float64) *dataset.Dataset {
	t.Helper()
	ds := dataset.New(1)
	for i := 0; i < n; i++ {
		x := start + float64(i)*step
		if _, err := ds.Add(rowID(i), dataset.NewFeatureVector(x), slope*x+intercept); err != nil {
			t.Fatalf("building linear dataset: %v", err)
		}
	}
	return ds
}

// SineDataset returns n rows with features drawn uniformly from [0, 2π)^dim
// labeled by the sum of sines plus Gaussian noise of standard deviation noise.
func SineDataset(t testing.TB, rng *rand.Rand, n, dim int, noise float64) *dataset.Dataset {
	t.Helper()
	ds := dataset.New(dim)
	for i, x := range RandomVectors(rng, n, dim, 0, 2*math.Pi) {
		y := 0.0
		for _, v := range x {
			y += math.Sin(v)
		}
		if _, err := ds.Add(rowID(i), x, y+noise*rng.NormFloat64()); err != nil {
			t.Fatalf("building sine dataset: %v", err)
		}
	}
	return ds
}

// Quadratic is the sum of squares, a simple minimization target.
func Quadratic(x []float64) float64 {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum
}

func rowID(i int) string {
	return "row-" + strconv.Itoa(i)
}
