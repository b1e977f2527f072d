// Package kernels implements covariance functions for Gaussian processes and
// their analytic gradients.
//
// Kernels are stateless. Hyperparameters are passed on every call as a
// log-space vector theta ordered like ParamNames, and gradients are taken
// with respect to those log values, which keeps every length scale and
// variance strictly positive without explicit constraints.
package kernels

import (
	"fmt"
	"math"
)

// Kernel represents a kernel function for Gaussian Processes
type Kernel interface {
	// Name identifies the kernel variant.
	Name() string

	// ParamNames lists the hyperparameter names in theta order.
	ParamNames() []string

	// Defaults returns the natural-scale initial hyperparameters.
	Defaults() []float64

	// Dims is the required input dimension, or 0 if any dimension works.
	Dims() int

	// Eval computes the kernel value between two points x1 and x2
	Eval(x1, x2, theta []float64) float64

	// EvalGrad computes the kernel value and writes dk/dtheta into grad,
	// which must have len(ParamNames()) entries.
	EvalGrad(x1, x2, theta, grad []float64) float64

	// Spec describes the kernel for serialization.
	Spec() Spec
}

// NumParams returns the number of hyperparameters of k.
func NumParams(k Kernel) int {
	return len(k.ParamNames())
}

// squaredDistance sums squared coordinate differences. Differencing before
// squaring keeps near-identical vectors at an exact small distance instead
// of the cancellation-prone |a|^2 + |b|^2 - 2ab form.
func squaredDistance(x1, x2 []float64) float64 {
	sumSq := 0.0
	for i := range x1 {
		diff := x1[i] - x2[i]
		sumSq += diff * diff
	}
	return sumSq
}

func checkPositive(names []string, values []float64) {
	for i, v := range values {
		if !(v > 0) || math.IsInf(v, 0) {
			panic(fmt.Sprintf("%s must be positive, got %v", names[i], v))
		}
	}
}

// SquaredExponential is the isotropic Gaussian (RBF) kernel
//
//	k(x, x') = s * exp(-|x - x'|^2 / (2 l^2))
type SquaredExponential struct {
	// Initial length scale (larger = smoother function)
	lengthScale float64
	// Initial signal variance (controls the amplitude of the function)
	signalVar float64
}

// NewSquaredExponential creates a squared exponential kernel with the given
// initial hyperparameters. It panics on non-positive values.
func NewSquaredExponential(lengthScale, signalVar float64) *SquaredExponential {
	checkPositive([]string{"lengthScale", "signalVar"}, []float64{lengthScale, signalVar})
	return &SquaredExponential{
		lengthScale: lengthScale,
		signalVar:   signalVar,
	}
}

func (k *SquaredExponential) Name() string { return TypeSquaredExponential }

func (k *SquaredExponential) ParamNames() []string {
	return []string{"length_scale", "signal_variance"}
}

func (k *SquaredExponential) Defaults() []float64 {
	return []float64{k.lengthScale, k.signalVar}
}

func (k *SquaredExponential) Dims() int { return 0 }

// Eval computes the kernel value between x1 and x2
func (k *SquaredExponential) Eval(x1, x2, theta []float64) float64 {
	l := math.Exp(theta[0])
	r2 := squaredDistance(x1, x2) / (l * l)
	return math.Exp(theta[1]) * math.Exp(-0.5*r2)
}

// EvalGrad computes the kernel value and its log-parameter gradient.
func (k *SquaredExponential) EvalGrad(x1, x2, theta, grad []float64) float64 {
	l := math.Exp(theta[0])
	r2 := squaredDistance(x1, x2) / (l * l)
	v := math.Exp(theta[1]) * math.Exp(-0.5*r2)
	grad[0] = v * r2
	grad[1] = v
	return v
}

func (k *SquaredExponential) Spec() Spec {
	return Spec{Type: TypeSquaredExponential, Defaults: k.Defaults()}
}

// Matern52 implements the Matérn 5/2 kernel
//
//	k(r) = s * (1 + sqrt(5) r + 5/3 r^2) * exp(-sqrt(5) r),  r = |x - x'| / l
type Matern52 struct {
	lengthScale float64
	signalVar   float64
}

// NewMatern52 creates a new Matérn 5/2 kernel with the given initial
// hyperparameters. It panics on non-positive values.
func NewMatern52(lengthScale, signalVar float64) *Matern52 {
	checkPositive([]string{"lengthScale", "signalVar"}, []float64{lengthScale, signalVar})
	return &Matern52{
		lengthScale: lengthScale,
		signalVar:   signalVar,
	}
}

func (k *Matern52) Name() string { return TypeMatern52 }

func (k *Matern52) ParamNames() []string {
	return []string{"length_scale", "signal_variance"}
}

func (k *Matern52) Defaults() []float64 {
	return []float64{k.lengthScale, k.signalVar}
}

func (k *Matern52) Dims() int { return 0 }

// Eval computes the Matérn 5/2 kernel value between x1 and x2
func (k *Matern52) Eval(x1, x2, theta []float64) float64 {
	r := math.Sqrt(squaredDistance(x1, x2)) / math.Exp(theta[0])
	polyTerm := 1.0 + math.Sqrt(5)*r + (5.0/3.0)*r*r
	expTerm := math.Exp(-math.Sqrt(5) * r)
	return math.Exp(theta[1]) * polyTerm * expTerm
}

// EvalGrad computes the kernel value and its log-parameter gradient.
// dk/dlog(l) = 5/3 s r^2 (1 + sqrt(5) r) exp(-sqrt(5) r).
func (k *Matern52) EvalGrad(x1, x2, theta, grad []float64) float64 {
	s := math.Exp(theta[1])
	r := math.Sqrt(squaredDistance(x1, x2)) / math.Exp(theta[0])
	expTerm := math.Exp(-math.Sqrt(5) * r)
	v := s * (1.0 + math.Sqrt(5)*r + (5.0/3.0)*r*r) * expTerm
	grad[0] = (5.0 / 3.0) * s * r * r * (1 + math.Sqrt(5)*r) * expTerm
	grad[1] = v
	return v
}

func (k *Matern52) Spec() Spec {
	return Spec{Type: TypeMatern52, Defaults: k.Defaults()}
}

// Constant is a kernel with a single constant covariance c. It is mostly
// useful as a bias term inside a Sum or a scale inside a Product.
type Constant struct {
	value float64
}

// NewConstant creates a constant kernel. It panics on non-positive values.
func NewConstant(value float64) *Constant {
	checkPositive([]string{"value"}, []float64{value})
	return &Constant{value: value}
}

func (k *Constant) Name() string { return TypeConstant }

func (k *Constant) ParamNames() []string { return []string{"constant"} }

func (k *Constant) Defaults() []float64 { return []float64{k.value} }

func (k *Constant) Dims() int { return 0 }

func (k *Constant) Eval(_, _, theta []float64) float64 { return math.Exp(theta[0]) }

func (k *Constant) EvalGrad(_, _, theta, grad []float64) float64 {
	v := math.Exp(theta[0])
	grad[0] = v
	return v
}

func (k *Constant) Spec() Spec {
	return Spec{Type: TypeConstant, Defaults: k.Defaults()}
}
