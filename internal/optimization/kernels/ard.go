package kernels

import (
	"fmt"
	"math"
)

// ARD is the squared exponential kernel with one length scale per input
// dimension (automatic relevance determination)
//
//	k(x, x') = s * exp(-1/2 sum_d (x_d - x'_d)^2 / l_d^2)
//
// Parameters are length_scale_0 ... length_scale_{D-1}, signal_variance.
type ARD struct {
	lengthScales []float64
	signalVar    float64
}

// NewARD creates an ARD kernel over len(lengthScales) dimensions.
// It panics on an empty or non-positive input.
func NewARD(lengthScales []float64, signalVar float64) *ARD {
	if len(lengthScales) == 0 {
		panic("ARD kernel needs at least one length scale")
	}
	k := &ARD{
		lengthScales: append([]float64(nil), lengthScales...),
		signalVar:    signalVar,
	}
	checkPositive(k.ParamNames(), k.Defaults())
	return k
}

// NewARDUniform creates an ARD kernel over dims dimensions that starts every
// length scale at lengthScale.
func NewARDUniform(dims int, lengthScale, signalVar float64) *ARD {
	ls := make([]float64, dims)
	for i := range ls {
		ls[i] = lengthScale
	}
	return NewARD(ls, signalVar)
}

func (k *ARD) Name() string { return TypeARD }

func (k *ARD) ParamNames() []string {
	names := make([]string, 0, len(k.lengthScales)+1)
	for i := range k.lengthScales {
		names = append(names, fmt.Sprintf("length_scale_%d", i))
	}
	return append(names, "signal_variance")
}

func (k *ARD) Defaults() []float64 {
	return append(append([]float64(nil), k.lengthScales...), k.signalVar)
}

func (k *ARD) Dims() int { return len(k.lengthScales) }

func (k *ARD) Eval(x1, x2, theta []float64) float64 {
	d := len(k.lengthScales)
	r2 := 0.0
	for i := 0; i < d; i++ {
		diff := (x1[i] - x2[i]) / math.Exp(theta[i])
		r2 += diff * diff
	}
	return math.Exp(theta[d]) * math.Exp(-0.5*r2)
}

func (k *ARD) EvalGrad(x1, x2, theta, grad []float64) float64 {
	d := len(k.lengthScales)
	r2 := 0.0
	for i := 0; i < d; i++ {
		diff := (x1[i] - x2[i]) / math.Exp(theta[i])
		grad[i] = diff * diff
		r2 += grad[i]
	}
	v := math.Exp(theta[d]) * math.Exp(-0.5*r2)
	for i := 0; i < d; i++ {
		grad[i] *= v
	}
	grad[d] = v
	return v
}

func (k *ARD) Spec() Spec {
	return Spec{Type: TypeARD, Defaults: k.Defaults()}
}
