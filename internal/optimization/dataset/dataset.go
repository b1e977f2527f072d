// Package dataset holds the labeled feature vectors a Gaussian process is
// trained and validated on.
package dataset

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/surrogate/internal/optimization"
)

// FeatureVector is a fixed-dimension numeric descriptor. Callers must not
// modify a vector after handing it to a Dataset.
type FeatureVector []float64

// NewFeatureVector copies values into a new FeatureVector.
func NewFeatureVector(values ...float64) FeatureVector {
	return append(FeatureVector(nil), values...)
}

// Validate checks that every feature is finite. row is reported in the error.
func (v FeatureVector) Validate(row int) error {
	if len(v) == 0 {
		return optimization.NewInvalidFeatureError(row, -1, 0, "empty feature vector")
	}
	for j, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return optimization.NewInvalidFeatureError(row, j, x, "feature is not finite")
		}
	}
	return nil
}

// Row is one labeled observation.
type Row struct {
	ID       string        `json:"id"`
	Features FeatureVector `json:"features"`
	Label    float64       `json:"label"`
}

// Dataset is an insertion-ordered set of rows sharing one dimension.
// Row identities are unique.
type Dataset struct {
	dim   int
	rows  []Row
	index map[string]int
}

// New returns an empty dataset. A dim of zero is fixed by the first row.
func New(dim int) *Dataset {
	return &Dataset{
		dim:   dim,
		index: make(map[string]int),
	}
}

// FromMatrix builds a dataset from a feature matrix and label vector,
// assigning fresh row identities.
func FromMatrix(X *mat.Dense, y *mat.VecDense) (*Dataset, error) {
	if X == nil || y == nil {
		return nil, optimization.NewInvalidFeatureError(-1, -1, 0, "input matrices must not be nil")
	}
	r, c := X.Dims()
	if r != y.Len() {
		return nil, optimization.NewInvalidFeatureError(-1, -1, 0, "feature rows and labels differ in length")
	}
	ds := New(c)
	for i := 0; i < r; i++ {
		if _, err := ds.Add("", NewFeatureVector(X.RawRowView(i)...), y.AtVec(i)); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// Add appends a row. An empty id is replaced by a random UUID. The features
// are copied.
func (d *Dataset) Add(id string, features FeatureVector, label float64) (string, error) {
	row := len(d.rows)
	if err := features.Validate(row); err != nil {
		return "", err
	}
	if math.IsNaN(label) || math.IsInf(label, 0) {
		return "", optimization.NewInvalidFeatureError(row, -1, label, "label is not finite")
	}
	if d.dim == 0 {
		d.dim = len(features)
	}
	if len(features) != d.dim {
		return "", optimization.NewInvalidFeatureError(row, -1, 0, "feature dimension does not match dataset")
	}
	if id == "" {
		id = uuid.NewString()
	}
	if _, dup := d.index[id]; dup {
		return "", optimization.NewInvalidFeatureError(row, -1, 0, "duplicate row id "+id)
	}
	d.index[id] = row
	d.rows = append(d.rows, Row{ID: id, Features: NewFeatureVector(features...), Label: label})
	return id, nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.rows)
}

// Dim returns the feature dimension (zero for an empty, unsized dataset).
func (d *Dataset) Dim() int { return d.dim }

// Row returns the i-th row in insertion order.
func (d *Dataset) Row(i int) Row { return d.rows[i] }

// Rows returns the rows in insertion order. The slice must not be modified.
func (d *Dataset) Rows() []Row { return d.rows }

// Lookup returns the row with the given id.
func (d *Dataset) Lookup(id string) (Row, bool) {
	i, ok := d.index[id]
	if !ok {
		return Row{}, false
	}
	return d.rows[i], true
}

// Prefix returns a new dataset with the first n rows.
func (d *Dataset) Prefix(n int) (*Dataset, error) {
	if n < 0 || n > d.Len() {
		return nil, optimization.NewInsufficientDataError(n, d.Len())
	}
	out := New(d.dim)
	out.rows = append(out.rows, d.rows[:n]...)
	for i, r := range out.rows {
		out.index[r.ID] = i
	}
	return out, nil
}

// Clone returns an independent copy sharing the immutable feature vectors.
func (d *Dataset) Clone() *Dataset {
	out, _ := d.Prefix(d.Len())
	return out
}

// Matrix returns the features as an n x dim matrix.
func (d *Dataset) Matrix() *mat.Dense {
	if d.Len() == 0 {
		return &mat.Dense{}
	}
	data := make([]float64, 0, len(d.rows)*d.dim)
	for _, r := range d.rows {
		data = append(data, r.Features...)
	}
	return mat.NewDense(len(d.rows), d.dim, data)
}

// Labels returns the labels as a vector.
func (d *Dataset) Labels() *mat.VecDense {
	if d.Len() == 0 {
		return &mat.VecDense{}
	}
	y := make([]float64, len(d.rows))
	for i, r := range d.rows {
		y[i] = r.Label
	}
	return mat.NewVecDense(len(y), y)
}

// Fingerprint hashes the ordered rows. Two datasets with the same rows in
// the same order share a fingerprint.
func (d *Dataset) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(d.dim))
	_, _ = h.Write(buf[:])
	for _, r := range d.rows {
		_, _ = h.WriteString(r.ID)
		for _, x := range r.Features {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
			_, _ = h.Write(buf[:])
		}
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(r.Label))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// MatrixFromVectors stacks query vectors into a matrix, validating that they
// are finite and all have dimension dim.
func MatrixFromVectors(vectors []FeatureVector, dim int) (*mat.Dense, error) {
	if len(vectors) == 0 {
		return &mat.Dense{}, nil
	}
	data := make([]float64, 0, len(vectors)*dim)
	for i, v := range vectors {
		if err := v.Validate(i); err != nil {
			return nil, err
		}
		if len(v) != dim {
			return nil, optimization.NewInvalidFeatureError(i, -1, 0, "feature dimension does not match model")
		}
		data = append(data, v...)
	}
	return mat.NewDense(len(vectors), dim, data), nil
}
