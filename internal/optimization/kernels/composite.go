package kernels

import "fmt"

// composite holds the children of a Sum or Product and the theta offset of
// each child. Child parameter names are prefixed with "k<i>.".
type composite struct {
	children []Kernel
	offsets  []int
	nParams  int
	dims     int
}

func newComposite(children []Kernel) composite {
	if len(children) < 2 {
		panic("composite kernel needs at least two children")
	}
	c := composite{children: children, offsets: make([]int, len(children))}
	for i, k := range children {
		c.offsets[i] = c.nParams
		c.nParams += NumParams(k)
		if d := k.Dims(); d > 0 {
			if c.dims > 0 && c.dims != d {
				panic(fmt.Sprintf("composite kernel children disagree on dimension: %d vs %d", c.dims, d))
			}
			c.dims = d
		}
	}
	return c
}

func (c composite) paramNames() []string {
	names := make([]string, 0, c.nParams)
	for i, k := range c.children {
		for _, n := range k.ParamNames() {
			names = append(names, fmt.Sprintf("k%d.%s", i, n))
		}
	}
	return names
}

func (c composite) defaults() []float64 {
	out := make([]float64, 0, c.nParams)
	for _, k := range c.children {
		out = append(out, k.Defaults()...)
	}
	return out
}

func (c composite) slice(i int, theta []float64) []float64 {
	return theta[c.offsets[i] : c.offsets[i]+NumParams(c.children[i])]
}

func (c composite) spec(typ string) Spec {
	s := Spec{Type: typ}
	for _, k := range c.children {
		s.Children = append(s.Children, k.Spec())
	}
	return s
}

// Sum is the sum of two or more kernels.
type Sum struct {
	composite
}

// NewSum returns k1 + k2 + ...
func NewSum(children ...Kernel) *Sum {
	return &Sum{composite: newComposite(children)}
}

func (k *Sum) Name() string { return TypeSum }

func (k *Sum) ParamNames() []string { return k.paramNames() }

func (k *Sum) Defaults() []float64 { return k.defaults() }

func (k *Sum) Dims() int { return k.dims }

func (k *Sum) Eval(x1, x2, theta []float64) float64 {
	v := 0.0
	for i, child := range k.children {
		v += child.Eval(x1, x2, k.slice(i, theta))
	}
	return v
}

func (k *Sum) EvalGrad(x1, x2, theta, grad []float64) float64 {
	v := 0.0
	for i, child := range k.children {
		v += child.EvalGrad(x1, x2, k.slice(i, theta), k.slice(i, grad))
	}
	return v
}

func (k *Sum) Spec() Spec { return k.spec(TypeSum) }

// Product is the product of two or more kernels.
type Product struct {
	composite
}

// NewProduct returns k1 * k2 * ...
func NewProduct(children ...Kernel) *Product {
	return &Product{composite: newComposite(children)}
}

func (k *Product) Name() string { return TypeProduct }

func (k *Product) ParamNames() []string { return k.paramNames() }

func (k *Product) Defaults() []float64 { return k.defaults() }

func (k *Product) Dims() int { return k.dims }

func (k *Product) Eval(x1, x2, theta []float64) float64 {
	v := 1.0
	for i, child := range k.children {
		v *= child.Eval(x1, x2, k.slice(i, theta))
	}
	return v
}

// EvalGrad applies the product rule: the gradient block of child i is
// scaled by the values of every other child.
func (k *Product) EvalGrad(x1, x2, theta, grad []float64) float64 {
	values := make([]float64, len(k.children))
	for i, child := range k.children {
		values[i] = child.EvalGrad(x1, x2, k.slice(i, theta), k.slice(i, grad))
	}
	v := 1.0
	for _, cv := range values {
		v *= cv
	}
	for i := range k.children {
		others := 1.0
		for j, cv := range values {
			if j != i {
				others *= cv
			}
		}
		g := k.slice(i, grad)
		for p := range g {
			g[p] *= others
		}
	}
	return v
}

func (k *Product) Spec() Spec { return k.spec(TypeProduct) }
