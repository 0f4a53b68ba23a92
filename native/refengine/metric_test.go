package refengine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetric(t *testing.T) {
	tests := []struct {
		spec    string
		arg     float64
		wantErr bool
	}{
		{spec: "rmse"},
		{spec: "ndcg@3", arg: 3},
		{spec: "error@0.7", arg: 0.7},
		{spec: "map@x", wantErr: true},
		{spec: "gini", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			fn, arg, err := parseMetric(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, fn)
			assert.Equal(t, tt.arg, arg)
		})
	}
}

func TestRegressionMetrics(t *testing.T) {
	d := &dataset{rows: 4, labels: []float32{1, 2, 3, 4}}
	p := []float64{1, 2, 3, 6}
	assert.InDelta(t, 1.0, rmseMetric(d, p, 1, 0), 1e-12)
	assert.InDelta(t, 0.5, maeMetric(d, p, 1, 0), 1e-12)

	d.weights = []float32{1, 1, 1, 0}
	assert.InDelta(t, 0.0, rmseMetric(d, p, 1, 0), 1e-12)
}

func TestClassificationMetrics(t *testing.T) {
	d := &dataset{rows: 4, labels: []float32{0, 0, 1, 1}}

	assert.InDelta(t, 0.25, errorMetric(d, []float64{0.1, 0.6, 0.8, 0.9}, 1, 0), 1e-12)
	assert.InDelta(t, 0.0, errorMetric(d, []float64{0.1, 0.6, 0.8, 0.9}, 1, 0.7), 1e-12)
	assert.InDelta(t, -math.Log(0.5), loglossMetric(d, []float64{0.5, 0.5, 0.5, 0.5}, 1, 0), 1e-12)

	assert.InDelta(t, 1.0, aucMetric(d, []float64{0.1, 0.2, 0.8, 0.9}, 1, 0), 1e-12)
	assert.InDelta(t, 0.75, aucMetric(d, []float64{0.1, 0.8, 0.2, 0.9}, 1, 0), 1e-12)

	single := &dataset{rows: 2, labels: []float32{1, 1}}
	assert.True(t, math.IsNaN(aucMetric(single, []float64{0.2, 0.4}, 1, 0)))
}

func TestMulticlassMetrics(t *testing.T) {
	d := &dataset{rows: 2, labels: []float32{0, 2}}
	probs := []float64{
		0.7, 0.2, 0.1,
		0.5, 0.1, 0.4,
	}
	assert.InDelta(t, 0.5, merrorMetric(d, probs, 3, 0), 1e-12)
	assert.InDelta(t, -(math.Log(0.7)+math.Log(0.4))/2, mloglossMetric(d, probs, 3, 0), 1e-12)
}

func TestRankingMetrics(t *testing.T) {
	d := &dataset{rows: 4, labels: []float32{0, 1, 1, 0}, groupPtr: []int{0, 2, 4}}
	perfect := []float64{0, 1, 1, 0}
	assert.InDelta(t, 1.0, ndcgMetric(d, perfect, 1, 0), 1e-12)
	assert.InDelta(t, 1.0, mapMetric(d, perfect, 1, 0), 1e-12)

	inverted := []float64{1, 0, 0, 1}
	// Relevant item at rank 2 of 2 in both groups.
	assert.InDelta(t, 0.5, mapMetric(d, inverted, 1, 0), 1e-12)
	assert.InDelta(t, 1/math.Log2(3), ndcgMetric(d, inverted, 1, 0), 1e-12)
	assert.InDelta(t, 0.0, ndcgMetric(d, inverted, 1, 1), 1e-12)
}
