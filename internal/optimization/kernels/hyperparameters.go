package kernels

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/copyleftdev/surrogate/internal/optimization"
)

// Hyperparameters is a named, ordered set of strictly positive values. The
// values are stored as logarithms so any log-space vector maps back to a
// valid (positive) setting.
type Hyperparameters struct {
	names     []string
	logValues []float64
}

// NewHyperparameters builds a set from natural-scale values. Every value
// must be positive and finite.
func NewHyperparameters(names []string, values []float64) (*Hyperparameters, error) {
	if len(names) != len(values) {
		return nil, optimization.NewErrorf("expected %d hyperparameters, got %d", len(names), len(values)).
			WithOperation("NewHyperparameters").WithComponent("kernels")
	}
	logs := make([]float64, len(values))
	for i, v := range values {
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, optimization.NewErrorf("hyperparameter %s must be positive, got %v", names[i], v).
				WithOperation("NewHyperparameters").WithComponent("kernels")
		}
		logs[i] = math.Log(v)
	}
	return &Hyperparameters{names: append([]string(nil), names...), logValues: logs}, nil
}

// FromLog builds a set from log-space values.
func FromLog(names []string, logValues []float64) *Hyperparameters {
	if len(names) != len(logValues) {
		panic(fmt.Sprintf("expected %d log hyperparameters, got %d", len(names), len(logValues)))
	}
	return &Hyperparameters{
		names:     append([]string(nil), names...),
		logValues: append([]float64(nil), logValues...),
	}
}

// FromMap orders a name->value map by names.
func FromMap(names []string, values map[string]float64) (*Hyperparameters, error) {
	ordered := make([]float64, len(names))
	for i, n := range names {
		v, ok := values[n]
		if !ok {
			return nil, optimization.NewErrorf("missing hyperparameter %s", n).
				WithOperation("FromMap").WithComponent("kernels")
		}
		ordered[i] = v
	}
	if len(values) != len(names) {
		return nil, optimization.NewErrorf("expected %d hyperparameters, got %d", len(names), len(values)).
			WithOperation("FromMap").WithComponent("kernels")
	}
	return NewHyperparameters(names, ordered)
}

// Len returns the number of hyperparameters.
func (h *Hyperparameters) Len() int { return len(h.names) }

// Names returns the hyperparameter names in order.
func (h *Hyperparameters) Names() []string { return append([]string(nil), h.names...) }

// Log returns a copy of the log-space values.
func (h *Hyperparameters) Log() []float64 { return append([]float64(nil), h.logValues...) }

// Values returns the natural-scale values.
func (h *Hyperparameters) Values() []float64 {
	out := make([]float64, len(h.logValues))
	for i, lv := range h.logValues {
		out[i] = math.Exp(lv)
	}
	return out
}

// Value returns the natural-scale value of name.
func (h *Hyperparameters) Value(name string) (float64, bool) {
	for i, n := range h.names {
		if n == name {
			return math.Exp(h.logValues[i]), true
		}
	}
	return 0, false
}

// Map returns the values keyed by name.
func (h *Hyperparameters) Map() map[string]float64 {
	m := make(map[string]float64, len(h.names))
	for i, n := range h.names {
		m[n] = math.Exp(h.logValues[i])
	}
	return m
}

// Clone returns a deep copy.
func (h *Hyperparameters) Clone() *Hyperparameters {
	return FromLog(h.names, h.logValues)
}

func (h *Hyperparameters) String() string {
	parts := make([]string, len(h.names))
	for i, n := range h.names {
		parts[i] = fmt.Sprintf("%s=%.6g", n, math.Exp(h.logValues[i]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// MarshalJSON encodes the set as a name -> value object.
func (h *Hyperparameters) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Map())
}
