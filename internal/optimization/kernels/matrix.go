package kernels

import (
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/surrogate/internal/optimization"
)

// Covariance returns the n1 x n2 matrix K[i][j] = k(X1_i, X2_j).
func Covariance(k Kernel, X1, X2 *mat.Dense, theta []float64) *mat.Dense {
	n1, _ := X1.Dims()
	n2, _ := X2.Dims()
	K := mat.NewDense(n1, n2, nil)
	for i := 0; i < n1; i++ {
		x1 := X1.RawRowView(i)
		row := K.RawRowView(i)
		for j := 0; j < n2; j++ {
			row[j] = k.Eval(x1, X2.RawRowView(j), theta)
		}
	}
	return K
}

// SelfCovariance returns the symmetric n x n matrix of k over the rows of X.
// Only the upper triangle is evaluated. If dst is non-nil and n x n it is
// overwritten and returned.
func SelfCovariance(k Kernel, X *mat.Dense, theta []float64, dst *mat.SymDense) *mat.SymDense {
	n, _ := X.Dims()
	K := symDst(dst, n)
	for i := 0; i < n; i++ {
		x1 := X.RawRowView(i)
		for j := i; j < n; j++ {
			K.SetSym(i, j, k.Eval(x1, X.RawRowView(j), theta))
		}
	}
	return K
}

// Diagonal returns k(x, x) for every row of X.
func Diagonal(k Kernel, X *mat.Dense, theta []float64) []float64 {
	n, _ := X.Dims()
	out := make([]float64, n)
	for i := range out {
		x := X.RawRowView(i)
		out[i] = k.Eval(x, x, theta)
	}
	return out
}

// CovarianceGradients evaluates the self-covariance of X together with its
// partial derivative with respect to every log hyperparameter. K and grads
// are reused when correctly sized.
func CovarianceGradients(k Kernel, X *mat.Dense, theta []float64, K *mat.SymDense, grads []*mat.SymDense) (*mat.SymDense, []*mat.SymDense) {
	n, _ := X.Dims()
	p := NumParams(k)
	K = symDst(K, n)
	if len(grads) != p {
		grads = make([]*mat.SymDense, p)
	}
	for l := range grads {
		grads[l] = symDst(grads[l], n)
	}
	g := make([]float64, p)
	for i := 0; i < n; i++ {
		x1 := X.RawRowView(i)
		for j := i; j < n; j++ {
			K.SetSym(i, j, k.EvalGrad(x1, X.RawRowView(j), theta, g))
			for l, v := range g {
				grads[l].SetSym(i, j, v)
			}
		}
	}
	return K, grads
}

// Gradient returns the n1 x n2 matrix of dk/dlog(wrt) between the rows of X1
// and X2.
func Gradient(k Kernel, X1, X2 *mat.Dense, theta []float64, wrt string) (*mat.Dense, error) {
	idx := -1
	for i, name := range k.ParamNames() {
		if name == wrt {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, optimization.NewErrorf("kernel %s has no hyperparameter %q", k.Name(), wrt).
			WithOperation("Gradient").WithComponent("kernels")
	}
	n1, _ := X1.Dims()
	n2, _ := X2.Dims()
	G := mat.NewDense(n1, n2, nil)
	g := make([]float64, NumParams(k))
	for i := 0; i < n1; i++ {
		x1 := X1.RawRowView(i)
		for j := 0; j < n2; j++ {
			k.EvalGrad(x1, X2.RawRowView(j), theta, g)
			G.Set(i, j, g[idx])
		}
	}
	return G, nil
}

func symDst(dst *mat.SymDense, n int) *mat.SymDense {
	if dst != nil && dst.SymmetricDim() == n {
		return dst
	}
	return mat.NewSymDense(n, nil)
}
