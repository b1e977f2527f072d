package bayesian

// likelihoodEval is one evaluation of the log marginal likelihood.
type likelihoodEval struct {
	theta  []float64
	value  float64
	grad   []float64 // nil when only the value was requested
	jitter float64
	err    error
}

// likelihoodCache remembers the most recent likelihood evaluation of one
// model. gonum's optimizers call Func and Grad at the same point back to
// back, so a single entry lets both calls share one factorization.
//
// The cache is keyed by the training set fingerprint so a re-fit on other
// data never reuses a stale entry. It belongs to exactly one GP.
type likelihoodCache struct {
	fingerprint uint64
	last        *likelihoodEval

	hits   int
	misses int
}

func newLikelihoodCache() *likelihoodCache {
	return &likelihoodCache{}
}

// get returns the cached evaluation at theta, if it has what the caller needs.
func (c *likelihoodCache) get(fingerprint uint64, theta []float64, needGrad bool) (*likelihoodEval, bool) {
	if c == nil {
		return nil, false
	}
	e := c.last
	if e == nil || c.fingerprint != fingerprint || !sameTheta(e.theta, theta) {
		c.misses++
		return nil, false
	}
	if needGrad && e.grad == nil && e.err == nil {
		c.misses++
		return nil, false
	}
	c.hits++
	return e, true
}

func (c *likelihoodCache) put(fingerprint uint64, e *likelihoodEval) {
	if c == nil {
		return
	}
	c.fingerprint = fingerprint
	c.last = e
}

// reset drops the cached entry and the counters.
func (c *likelihoodCache) reset() {
	if c == nil {
		return
	}
	*c = likelihoodCache{}
}

func sameTheta(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
