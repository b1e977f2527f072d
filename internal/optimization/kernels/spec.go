package kernels

import (
	"strings"

	"github.com/copyleftdev/surrogate/internal/optimization"
)

// Kernel type tags.
const (
	TypeSquaredExponential = "squared_exponential"
	TypeARD                = "ard"
	TypeMatern52           = "matern52"
	TypeConstant           = "constant"
	TypeSum                = "sum"
	TypeProduct            = "product"
)

// Spec is a serializable description of a kernel tree.
type Spec struct {
	Type     string    `json:"type" yaml:"type"`
	Defaults []float64 `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	Children []Spec    `json:"children,omitempty" yaml:"children,omitempty"`
}

// FromSpec rebuilds a kernel from its Spec.
func FromSpec(s Spec) (k Kernel, err error) {
	// Constructors panic on invalid values; surface those as errors here.
	defer func() {
		if r := recover(); r != nil {
			k, err = nil, optimization.NewErrorf("invalid %s kernel spec: %v", s.Type, r).
				WithOperation("FromSpec").WithComponent("kernels")
		}
	}()

	switch s.Type {
	case TypeSquaredExponential, TypeMatern52:
		if len(s.Defaults) != 2 {
			return nil, optimization.NewErrorf("%s kernel expects 2 defaults, got %d", s.Type, len(s.Defaults)).
				WithOperation("FromSpec").WithComponent("kernels")
		}
		if s.Type == TypeMatern52 {
			return NewMatern52(s.Defaults[0], s.Defaults[1]), nil
		}
		return NewSquaredExponential(s.Defaults[0], s.Defaults[1]), nil
	case TypeARD:
		if len(s.Defaults) < 2 {
			return nil, optimization.NewErrorf("ard kernel expects at least 2 defaults, got %d", len(s.Defaults)).
				WithOperation("FromSpec").WithComponent("kernels")
		}
		n := len(s.Defaults)
		return NewARD(s.Defaults[:n-1], s.Defaults[n-1]), nil
	case TypeConstant:
		if len(s.Defaults) != 1 {
			return nil, optimization.NewErrorf("constant kernel expects 1 default, got %d", len(s.Defaults)).
				WithOperation("FromSpec").WithComponent("kernels")
		}
		return NewConstant(s.Defaults[0]), nil
	case TypeSum, TypeProduct:
		children := make([]Kernel, len(s.Children))
		for i, cs := range s.Children {
			if children[i], err = FromSpec(cs); err != nil {
				return nil, err
			}
		}
		if s.Type == TypeSum {
			return NewSum(children...), nil
		}
		return NewProduct(children...), nil
	default:
		return nil, optimization.NewErrorf("unknown kernel type %q", s.Type).
			WithOperation("FromSpec").WithComponent("kernels")
	}
}

// New builds a single-level kernel by name. dims is only used by "ard".
func New(name string, dims int, lengthScale, signalVar float64) (Kernel, error) {
	switch strings.ToLower(name) {
	case TypeSquaredExponential, "rbf", "gaussian":
		return FromSpec(Spec{Type: TypeSquaredExponential, Defaults: []float64{lengthScale, signalVar}})
	case TypeMatern52:
		return FromSpec(Spec{Type: TypeMatern52, Defaults: []float64{lengthScale, signalVar}})
	case TypeARD:
		if dims < 1 {
			return nil, optimization.NewErrorf("ard kernel needs a positive dimension, got %d", dims).
				WithOperation("New").WithComponent("kernels")
		}
		defaults := make([]float64, dims+1)
		for i := 0; i < dims; i++ {
			defaults[i] = lengthScale
		}
		defaults[dims] = signalVar
		return FromSpec(Spec{Type: TypeARD, Defaults: defaults})
	default:
		return nil, optimization.NewErrorf("unknown kernel %q", name).
			WithOperation("New").WithComponent("kernels")
	}
}
