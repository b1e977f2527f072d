package acquisition

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/surrogate/internal/optimization"
)

func newRanker(t *testing.T, cfg Config) *Ranker {
	t.Helper()
	r, err := NewRanker(cfg)
	require.NoError(t, err)
	return r
}

func TestSelectIsStable(t *testing.T) {
	r := newRanker(t, Config{Strategy: Exploit, Direction: optimization.Maximize})

	selected, err := r.Select([]float64{0.5, 0.9, 0.9, 0.1}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, selected)

	minimizer := newRanker(t, Config{Strategy: Exploit, Direction: optimization.Minimize})
	selected, err = minimizer.Select([]float64{0.5, 0.1, 0.9, 0.1}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 0}, selected)
}

func TestSelectTop(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		k      int
		order  Order
		want   []int
	}{
		{"k larger than input", []float64{1, 3, 2}, 10, Descending, []int{1, 2, 0}},
		{"k zero", []float64{1, 2}, 0, Descending, []int{}},
		{"empty", nil, 3, Ascending, []int{}},
		{"nan sorts last", []float64{math.NaN(), 1, 2}, 3, Ascending, []int{1, 2, 0}},
		{"all ties keep order", []float64{4, 4, 4, 4}, 4, Descending, []int{0, 1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectTop(tt.scores, tt.k, tt.order))
		})
	}

	r := newRanker(t, DefaultConfig())
	_, err := r.Select([]float64{1}, -1)
	assert.Error(t, err)
}

func TestScoreStrategies(t *testing.T) {
	predictions := []optimization.Prediction{
		{Mean: 1.0, Variance: 0.04},
		{Mean: 0.0, Variance: 1.00},
		{Mean: 2.0, Variance: 0.25},
	}
	inc := 1.0

	tests := []struct {
		name  string
		cfg   Config
		want  []float64
		order Order
		top   int
	}{
		{
			name:  "exploit minimize",
			cfg:   Config{Strategy: Exploit, Direction: optimization.Minimize},
			want:  []float64{1, 0, 2},
			order: Ascending,
			top:   1,
		},
		{
			name:  "exploit maximize",
			cfg:   Config{Strategy: Exploit, Direction: optimization.Maximize},
			want:  []float64{1, 0, 2},
			order: Descending,
			top:   2,
		},
		{
			name:  "explore",
			cfg:   Config{Strategy: Explore, Direction: optimization.Minimize},
			want:  []float64{0.04, 1, 0.25},
			order: Descending,
			top:   1,
		},
		{
			name:  "upper confidence bound",
			cfg:   Config{Strategy: ConfidenceBound, Direction: optimization.Maximize, Kappa: 2},
			want:  []float64{1.4, 2, 3},
			order: Descending,
			top:   2,
		},
		{
			name:  "lower confidence bound",
			cfg:   Config{Strategy: ConfidenceBound, Direction: optimization.Minimize, Kappa: 2},
			want:  []float64{0.6, -2, 1},
			order: Ascending,
			top:   1,
		},
		{
			name:  "kappa zero is exploit",
			cfg:   Config{Strategy: ConfidenceBound, Direction: optimization.Minimize},
			want:  []float64{1, 0, 2},
			order: Ascending,
			top:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRanker(t, tt.cfg)
			scores, err := r.Score(predictions)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, scores, 1e-12)
			assert.Equal(t, tt.order, r.Order())

			selected, err := r.Select(scores, 1)
			require.NoError(t, err)
			assert.Equal(t, []int{tt.top}, selected)
		})
	}

	t.Run("expected improvement", func(t *testing.T) {
		r := newRanker(t, Config{Strategy: ExpectedImprovementStrategy, Direction: optimization.Minimize, Incumbent: &inc})
		scores, err := r.Score(predictions)
		require.NoError(t, err)
		ei := NewExpectedImprovement(inc, 0, optimization.Minimize)
		for i, p := range predictions {
			assert.InDelta(t, ei.Compute(p.Mean, p.Std()), scores[i], 1e-15)
		}
		assert.Equal(t, Descending, r.Order())
	})

	t.Run("probability of improvement defaults to best mean", func(t *testing.T) {
		r := newRanker(t, Config{Strategy: ProbabilityOfImprovementStrategy, Direction: optimization.Minimize})
		assert.True(t, r.NeedsIncumbent())
		scores, err := r.Score(predictions)
		require.NoError(t, err)
		// The best predicted mean is 0, reached by candidate 1 itself.
		assert.InDelta(t, 0.5, scores[1], 1e-12)
		assert.False(t, r.WithIncumbent(3).NeedsIncumbent())
	})

	t.Run("thompson is reproducible", func(t *testing.T) {
		r := newRanker(t, Config{Strategy: Thompson, Direction: optimization.Maximize, Seed: 42})
		a, err := r.Score(predictions)
		require.NoError(t, err)
		b, err := r.Score(predictions)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestScoreDoesNotMutatePredictions(t *testing.T) {
	predictions := []optimization.Prediction{{Mean: 1, Variance: 2}, {Mean: 3, Variance: 4}}
	before := append([]optimization.Prediction(nil), predictions...)
	for _, s := range Strategies {
		r := newRanker(t, Config{Strategy: s, Kappa: 1})
		_, err := r.Score(predictions)
		require.NoError(t, err)
	}
	assert.Equal(t, before, predictions)
}

func TestScoreRejectsInvalidPredictions(t *testing.T) {
	r := newRanker(t, DefaultConfig())
	_, err := r.Score([]optimization.Prediction{{Mean: math.NaN(), Variance: 1}})
	assert.Error(t, err)
	_, err = r.Score([]optimization.Prediction{{Mean: 0, Variance: -1}})
	assert.Error(t, err)

	scores, err := r.Score(nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestNewRankerValidation(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown strategy", Config{Strategy: "greedy"}},
		{"negative kappa", Config{Strategy: ConfidenceBound, Kappa: -1}},
		{"negative xi", Config{Strategy: ExpectedImprovementStrategy, Xi: -0.1}},
		{"bad direction", Config{Strategy: Exploit, Direction: optimization.Direction(7)}},
		{"nan incumbent", Config{Strategy: ExpectedImprovementStrategy, Incumbent: &nan}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRanker(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestParseStrategy(t *testing.T) {
	tests := map[string]Strategy{
		"ucb":                  ConfidenceBound,
		"LCB":                  ConfidenceBound,
		"ei":                   ExpectedImprovementStrategy,
		"pi":                   ProbabilityOfImprovementStrategy,
		"thompson":             Thompson,
		"explore":              Explore,
		"":                     Exploit,
		"expected_improvement": ExpectedImprovementStrategy,
	}
	for in, want := range tests {
		got, err := ParseStrategy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStrategy("random")
	assert.Error(t, err)
}
