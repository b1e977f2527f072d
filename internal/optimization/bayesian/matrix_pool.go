package bayesian

import "gonum.org/v1/gonum/mat"

// MatrixPool provides a pool of reusable matrices to reduce allocations
// across the many likelihood evaluations of one hyperparameter search.
// Matrices are pooled by size. A pool belongs to one GP and is not safe for
// concurrent use.
type MatrixPool struct {
	symPools map[int][]*mat.SymDense
	vecPools map[int][]*mat.VecDense
}

// NewMatrixPool returns an empty pool.
func NewMatrixPool() *MatrixPool {
	return &MatrixPool{
		symPools: make(map[int][]*mat.SymDense),
		vecPools: make(map[int][]*mat.VecDense),
	}
}

// GetSymDense returns an n x n symmetric matrix from the pool or creates a
// new one. Pooled matrices keep their old contents.
func (p *MatrixPool) GetSymDense(n int) *mat.SymDense {
	if free := p.symPools[n]; len(free) > 0 {
		m := free[len(free)-1]
		p.symPools[n] = free[:len(free)-1]
		return m
	}
	return mat.NewSymDense(n, nil)
}

// PutSymDense hands m back for reuse by a later evaluation of the same size.
func (p *MatrixPool) PutSymDense(m *mat.SymDense) {
	if m == nil {
		return
	}
	n := m.SymmetricDim()
	p.symPools[n] = append(p.symPools[n], m)
}

// GetSymDenses returns count matrices of size n.
func (p *MatrixPool) GetSymDenses(n, count int) []*mat.SymDense {
	out := make([]*mat.SymDense, count)
	for i := range out {
		out[i] = p.GetSymDense(n)
	}
	return out
}

// PutSymDenses returns every matrix in ms to the pool.
func (p *MatrixPool) PutSymDenses(ms []*mat.SymDense) {
	for _, m := range ms {
		p.PutSymDense(m)
	}
}

// GetVecDense returns a length-n vector, reusing a pooled one when possible.
func (p *MatrixPool) GetVecDense(n int) *mat.VecDense {
	if free := p.vecPools[n]; len(free) > 0 {
		v := free[len(free)-1]
		p.vecPools[n] = free[:len(free)-1]
		return v
	}
	return mat.NewVecDense(n, nil)
}

// PutVecDense hands v back for reuse.
func (p *MatrixPool) PutVecDense(v *mat.VecDense) {
	if v == nil {
		return
	}
	p.vecPools[v.Len()] = append(p.vecPools[v.Len()], v)
}
