package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
	"github.com/YuminosukeSato/xgbwrap/xgboost"
)

func keys(p xgboost.Params) []string {
	out := make([]string, len(p))
	for i, kv := range p {
		out[i] = kv.Key
	}
	return out
}

func TestDefaultConfigParams(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	p := cfg.Params()
	assert.Equal(t, []string{
		"silent", "seed",
		"booster", "learning_rate", "gamma", "max_depth", "min_child_weight",
		"max_delta_step", "subsample", "colsample_bytree", "colsample_bylevel",
		"lambda", "alpha", "tree_method", "sketch_eps", "scale_pos_weight",
	}, keys(p))

	get := func(k string) string {
		v, ok := p.Get(k)
		require.True(t, ok, k)
		return v
	}
	assert.Equal(t, "gbtree", get("booster"))
	assert.Equal(t, "0.3", get("learning_rate"))
	assert.Equal(t, "6", get("max_depth"))
	assert.Equal(t, "0.03", get("sketch_eps"))
	assert.Equal(t, "1", get("silent"))
	_, ok := p.Get("objective")
	assert.False(t, ok)
}

func TestBoosterTables(t *testing.T) {
	t.Run("dart", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Booster = DartBooster
		cfg.Dart.RateDrop = 0.1
		require.NoError(t, cfg.Validate())
		p := cfg.Params()
		v, _ := p.Get("booster")
		assert.Equal(t, "dart", v)
		v, _ = p.Get("rate_drop")
		assert.Equal(t, "0.1", v)
		v, _ = p.Get("normalize_type")
		assert.Equal(t, "tree", v)
	})

	t.Run("linear", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Booster = LinearBooster
		require.NoError(t, cfg.Validate())
		p := cfg.Params()
		assert.Equal(t, []string{"silent", "seed", "booster", "lambda", "alpha", "lambda_bias"}, keys(p))
		v, _ := p.Get("lambda")
		assert.Equal(t, "0", v)
		v, _ = p.Get("lambda_bias")
		assert.Equal(t, "1", v)
	})
}

func TestConfigExtrasAndMetrics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NThread = 2
	cfg.EvalMetric = []string{"auc", "logloss"}
	cfg.Extra = xgboost.Params{{Key: "max_depth", Value: "3"}, {Key: "num_parallel_tree", Value: "2"}}
	require.NoError(t, cfg.Validate())

	p := cfg.Params()
	v, _ := p.Get("nthread")
	assert.Equal(t, "2", v)
	v, _ = p.Get("max_depth")
	assert.Equal(t, "3", v)
	v, _ = p.Get("num_parallel_tree")
	assert.Equal(t, "2", v)

	var metrics []string
	for _, kv := range p {
		if kv.Key == "eval_metric" {
			metrics = append(metrics, kv.Value)
		}
	}
	assert.Equal(t, []string{"auc", "logloss"}, metrics)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		param  string
	}{
		{"rounds", func(c *Config) { c.Rounds = 0 }, "rounds"},
		{"gamma", func(c *Config) { c.Tree.Gamma = -1 }, "gamma"},
		{"max depth", func(c *Config) { c.Tree.MaxDepth = 1 }, "max_depth"},
		{"subsample", func(c *Config) { c.Tree.Subsample = 0 }, "subsample"},
		{"colsample", func(c *Config) { c.Tree.ColsampleByTree = 1.5 }, "colsample_bytree"},
		{"sketch", func(c *Config) { c.Tree.SketchEps = 0 }, "sketch_eps"},
		{"scale pos weight", func(c *Config) { c.Tree.ScalePosWeight = -1 }, "scale_pos_weight"},
		{"tree method", func(c *Config) { c.Tree.TreeMethod = "hist" }, "tree_method"},
		{"metric", func(c *Config) { c.EvalMetric = []string{"f1"} }, "eval_metric"},
		{"rate drop", func(c *Config) { c.Booster = DartBooster; c.Dart.RateDrop = 2 }, "rate_drop"},
		{"sample type", func(c *Config) { c.Booster = DartBooster; c.Dart.SampleType = "x" }, "sample_type"},
		{"linear alpha", func(c *Config) { c.Booster = LinearBooster; c.Linear.Alpha = -1 }, "alpha"},
		{"booster", func(c *Config) { c.Booster = BoosterKind(9) }, "booster"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var verr *errors.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.param, verr.ParamName)
		})
	}

	// The linear booster ignores tree settings.
	cfg := DefaultConfig()
	cfg.Booster = LinearBooster
	cfg.Tree.MaxDepth = 0
	assert.NoError(t, cfg.Validate())
}
