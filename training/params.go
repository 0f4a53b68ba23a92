package training

import (
	"strconv"

	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
	"github.com/YuminosukeSato/xgbwrap/xgboost"
)

// BoosterKind selects the native booster family.
type BoosterKind int

const (
	TreeBooster BoosterKind = iota
	DartBooster
	LinearBooster
)

func (k BoosterKind) String() string {
	switch k {
	case DartBooster:
		return "dart"
	case LinearBooster:
		return "gblinear"
	default:
		return "gbtree"
	}
}

// Evaluation metrics accepted by Config.EvalMetric.
var knownMetrics = map[string]bool{
	"rmse": true, "mae": true, "logloss": true, "error": true,
	"merror": true, "mlogloss": true, "auc": true,
	"ndcg": true, "map": true,
	"ndcg@1": true, "ndcg@3": true, "ndcg@5": true,
	"map@1": true, "map@3": true, "map@5": true,
}

// TreeParams configures gbtree and dart boosters.
type TreeParams struct {
	LearningRate     float64
	Gamma            float64
	MaxDepth         int
	MinChildWeight   float64
	MaxDeltaStep     float64
	Subsample        float64
	ColsampleByTree  float64
	ColsampleByLevel float64
	Lambda           float64
	Alpha            float64
	TreeMethod       string // auto, exact or approx
	SketchEps        float64
	ScalePosWeight   float64
}

// DartParams adds dropout settings on top of TreeParams.
type DartParams struct {
	SampleType    string // uniform or weighted
	NormalizeType string // tree or forest
	RateDrop      float64
	SkipDrop      float64
}

// LinearParams configures the gblinear booster.
type LinearParams struct {
	Lambda     float64
	Alpha      float64
	LambdaBias float64
}

// Config holds every tunable passed to the native booster.
type Config struct {
	Rounds  int
	Booster BoosterKind

	// Objective overrides the task's default objective when set.
	Objective string

	Silent bool
	// NThread is omitted from the native parameters when 0.
	NThread    int
	Seed       int
	EvalMetric []string

	// Verbose turns on periodic evaluation of the training set.
	Verbose bool

	Tree   TreeParams
	Dart   DartParams
	Linear LinearParams

	// Extra is appended after the catalog and wins over it.
	Extra xgboost.Params
}

// DefaultConfig returns the native library defaults with 10 rounds.
func DefaultConfig() Config {
	return Config{
		Rounds:  10,
		Booster: TreeBooster,
		Silent:  true,
		Tree: TreeParams{
			LearningRate:     0.3,
			MaxDepth:         6,
			MinChildWeight:   1,
			Subsample:        1,
			ColsampleByTree:  1,
			ColsampleByLevel: 1,
			Lambda:           1,
			TreeMethod:       "auto",
			SketchEps:        0.03,
			ScalePosWeight:   1,
		},
		Dart: DartParams{
			SampleType:    "uniform",
			NormalizeType: "tree",
		},
		Linear: LinearParams{
			LambdaBias: 1,
		},
	}
}

type paramEntry struct {
	key    string
	format func(c *Config) (string, bool)
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func always(f func(c *Config) string) func(c *Config) (string, bool) {
	return func(c *Config) (string, bool) { return f(c), true }
}

var commonParams = []paramEntry{
	{"silent", always(func(c *Config) string {
		if c.Silent {
			return "1"
		}
		return "0"
	})},
	{"nthread", func(c *Config) (string, bool) { return strconv.Itoa(c.NThread), c.NThread > 0 }},
	{"seed", always(func(c *Config) string { return strconv.Itoa(c.Seed) })},
}

var treeParams = []paramEntry{
	{"booster", always(func(c *Config) string { return c.Booster.String() })},
	{"learning_rate", always(func(c *Config) string { return formatFloat(c.Tree.LearningRate) })},
	{"gamma", always(func(c *Config) string { return formatFloat(c.Tree.Gamma) })},
	{"max_depth", always(func(c *Config) string { return strconv.Itoa(c.Tree.MaxDepth) })},
	{"min_child_weight", always(func(c *Config) string { return formatFloat(c.Tree.MinChildWeight) })},
	{"max_delta_step", always(func(c *Config) string { return formatFloat(c.Tree.MaxDeltaStep) })},
	{"subsample", always(func(c *Config) string { return formatFloat(c.Tree.Subsample) })},
	{"colsample_bytree", always(func(c *Config) string { return formatFloat(c.Tree.ColsampleByTree) })},
	{"colsample_bylevel", always(func(c *Config) string { return formatFloat(c.Tree.ColsampleByLevel) })},
	{"lambda", always(func(c *Config) string { return formatFloat(c.Tree.Lambda) })},
	{"alpha", always(func(c *Config) string { return formatFloat(c.Tree.Alpha) })},
	{"tree_method", always(func(c *Config) string { return c.Tree.TreeMethod })},
	{"sketch_eps", always(func(c *Config) string { return formatFloat(c.Tree.SketchEps) })},
	{"scale_pos_weight", always(func(c *Config) string { return formatFloat(c.Tree.ScalePosWeight) })},
}

var dartParams = []paramEntry{
	{"sample_type", always(func(c *Config) string { return c.Dart.SampleType })},
	{"normalize_type", always(func(c *Config) string { return c.Dart.NormalizeType })},
	{"rate_drop", always(func(c *Config) string { return formatFloat(c.Dart.RateDrop) })},
	{"skip_drop", always(func(c *Config) string { return formatFloat(c.Dart.SkipDrop) })},
}

var linearParams = []paramEntry{
	{"booster", always(func(c *Config) string { return c.Booster.String() })},
	{"lambda", always(func(c *Config) string { return formatFloat(c.Linear.Lambda) })},
	{"alpha", always(func(c *Config) string { return formatFloat(c.Linear.Alpha) })},
	{"lambda_bias", always(func(c *Config) string { return formatFloat(c.Linear.LambdaBias) })},
}

func (c *Config) tables() [][]paramEntry {
	switch c.Booster {
	case DartBooster:
		return [][]paramEntry{commonParams, treeParams, dartParams}
	case LinearBooster:
		return [][]paramEntry{commonParams, linearParams}
	default:
		return [][]paramEntry{commonParams, treeParams}
	}
}

// Params renders the configuration as ordered native parameters. The
// objective is not included; the label policy adds it.
func (c *Config) Params() xgboost.Params {
	var out xgboost.Params
	for _, table := range c.tables() {
		for _, e := range table {
			if v, ok := e.format(c); ok {
				out.Add(e.key, v)
			}
		}
	}
	for _, m := range c.EvalMetric {
		out.Add("eval_metric", m)
	}
	for _, p := range c.Extra {
		out.Set(p.Key, p.Value)
	}
	return out
}

// Validate checks the ranges of every field the selected booster uses.
func (c *Config) Validate() error {
	if c.Rounds < 1 {
		return errors.NewValidationError("rounds", "must be at least 1", c.Rounds)
	}
	if c.NThread < 0 {
		return errors.NewValidationError("nthread", "must be >= 0", c.NThread)
	}
	for _, m := range c.EvalMetric {
		if !knownMetrics[m] {
			return errors.NewValidationError("eval_metric", "unknown metric", m)
		}
	}
	switch c.Booster {
	case TreeBooster:
		return c.Tree.validate()
	case DartBooster:
		if err := c.Tree.validate(); err != nil {
			return err
		}
		return c.Dart.validate()
	case LinearBooster:
		return c.Linear.validate()
	default:
		return errors.NewValidationError("booster", "unknown booster kind", int(c.Booster))
	}
}

func inUnit(v float64) bool { return v > 0 && v <= 1 }
func inClosedUnit(v float64) bool { return v >= 0 && v <= 1 }

func (t *TreeParams) validate() error {
	switch {
	case t.LearningRate <= 0:
		return errors.NewValidationError("learning_rate", "must be > 0", t.LearningRate)
	case t.Gamma < 0:
		return errors.NewValidationError("gamma", "must be >= 0", t.Gamma)
	case t.MaxDepth <= 1:
		return errors.NewValidationError("max_depth", "must be > 1", t.MaxDepth)
	case t.MinChildWeight < 0:
		return errors.NewValidationError("min_child_weight", "must be >= 0", t.MinChildWeight)
	case t.MaxDeltaStep < 0:
		return errors.NewValidationError("max_delta_step", "must be >= 0", t.MaxDeltaStep)
	case !inUnit(t.Subsample):
		return errors.NewValidationError("subsample", "must be in (0,1]", t.Subsample)
	case !inUnit(t.ColsampleByTree):
		return errors.NewValidationError("colsample_bytree", "must be in (0,1]", t.ColsampleByTree)
	case !inUnit(t.ColsampleByLevel):
		return errors.NewValidationError("colsample_bylevel", "must be in (0,1]", t.ColsampleByLevel)
	case t.Lambda < 0:
		return errors.NewValidationError("lambda", "must be >= 0", t.Lambda)
	case t.Alpha < 0:
		return errors.NewValidationError("alpha", "must be >= 0", t.Alpha)
	case !inUnit(t.SketchEps):
		return errors.NewValidationError("sketch_eps", "must be in (0,1]", t.SketchEps)
	case t.ScalePosWeight < 0:
		return errors.NewValidationError("scale_pos_weight", "must be >= 0", t.ScalePosWeight)
	}
	switch t.TreeMethod {
	case "auto", "exact", "approx":
	default:
		return errors.NewValidationError("tree_method", "must be auto, exact or approx", t.TreeMethod)
	}
	return nil
}

func (d *DartParams) validate() error {
	switch {
	case d.SampleType != "uniform" && d.SampleType != "weighted":
		return errors.NewValidationError("sample_type", "must be uniform or weighted", d.SampleType)
	case d.NormalizeType != "tree" && d.NormalizeType != "forest":
		return errors.NewValidationError("normalize_type", "must be tree or forest", d.NormalizeType)
	case !inClosedUnit(d.RateDrop):
		return errors.NewValidationError("rate_drop", "must be in [0,1]", d.RateDrop)
	case !inClosedUnit(d.SkipDrop):
		return errors.NewValidationError("skip_drop", "must be in [0,1]", d.SkipDrop)
	}
	return nil
}

func (l *LinearParams) validate() error {
	switch {
	case l.Lambda < 0:
		return errors.NewValidationError("lambda", "must be >= 0", l.Lambda)
	case l.Alpha < 0:
		return errors.NewValidationError("alpha", "must be >= 0", l.Alpha)
	case l.LambdaBias < 0:
		return errors.NewValidationError("lambda_bias", "must be >= 0", l.LambdaBias)
	}
	return nil
}
