package refengine

import (
	"strconv"
	"strings"

	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
)

// Booster kinds.
const (
	boosterTree   = "gbtree"
	boosterDart   = "dart"
	boosterLinear = "gblinear"
)

// config is the parsed view of the parameters set on a booster.
type config struct {
	booster   string
	objective string
	numClass  int

	baseScore    float64
	baseScoreSet bool

	eta              float64
	gamma            float64
	maxDepth         int
	minChildWeight   float64
	maxDeltaStep     float64
	subsample        float64
	colsampleByTree  float64
	colsampleByLevel float64
	lambda           float64
	alpha            float64
	lambdaBias       float64
	scalePosWeight   float64

	sampleType    string
	normalizeType string
	rateDrop      float64
	skipDrop      float64

	seed        int64
	nthread     int
	evalMetrics []string
}

func defaultConfig() config {
	return config{
		booster:          boosterTree,
		objective:        "reg:squarederror",
		baseScore:        0.5,
		eta:              0.3,
		maxDepth:         6,
		minChildWeight:   1,
		subsample:        1,
		colsampleByTree:  1,
		colsampleByLevel: 1,
		lambda:           1,
		scalePosWeight:   1,
		sampleType:       "uniform",
		normalizeType:    "tree",
		nthread:          defaultThreads(),
	}
}

// parseConfig applies params in order. Unknown keys are accepted and ignored,
// as the native library only warns about them.
func parseConfig(params []param) (config, error) {
	c := defaultConfig()
	for _, p := range params {
		if err := c.set(p.name, p.value); err != nil {
			return c, errors.Wrapf(err, "parameter %s=%q", p.name, p.value)
		}
	}
	// The linear booster is unregularized unless asked otherwise.
	if c.booster == boosterLinear && !hasParam(params, "lambda", "reg_lambda") {
		c.lambda = 0
	}
	return c, c.validate()
}

func hasParam(params []param, names ...string) bool {
	for _, p := range params {
		for _, n := range names {
			if p.name == n {
				return true
			}
		}
	}
	return false
}

func (c *config) set(name, value string) error {
	var err error
	switch name {
	case "booster":
		c.booster = value
	case "objective":
		c.objective = value
	case "num_class":
		c.numClass, err = strconv.Atoi(value)
	case "base_score":
		c.baseScore, err = strconv.ParseFloat(value, 64)
		c.baseScoreSet = true
	case "eta", "learning_rate":
		c.eta, err = strconv.ParseFloat(value, 64)
	case "gamma", "min_split_loss":
		c.gamma, err = strconv.ParseFloat(value, 64)
	case "max_depth":
		c.maxDepth, err = strconv.Atoi(value)
	case "min_child_weight":
		c.minChildWeight, err = strconv.ParseFloat(value, 64)
	case "max_delta_step":
		c.maxDeltaStep, err = strconv.ParseFloat(value, 64)
	case "subsample":
		c.subsample, err = strconv.ParseFloat(value, 64)
	case "colsample_bytree":
		c.colsampleByTree, err = strconv.ParseFloat(value, 64)
	case "colsample_bylevel":
		c.colsampleByLevel, err = strconv.ParseFloat(value, 64)
	case "lambda", "reg_lambda":
		c.lambda, err = strconv.ParseFloat(value, 64)
	case "alpha", "reg_alpha":
		c.alpha, err = strconv.ParseFloat(value, 64)
	case "lambda_bias":
		c.lambdaBias, err = strconv.ParseFloat(value, 64)
	case "scale_pos_weight":
		c.scalePosWeight, err = strconv.ParseFloat(value, 64)
	case "sample_type":
		c.sampleType = value
	case "normalize_type":
		c.normalizeType = value
	case "rate_drop":
		c.rateDrop, err = strconv.ParseFloat(value, 64)
	case "skip_drop":
		c.skipDrop, err = strconv.ParseFloat(value, 64)
	case "seed":
		c.seed, err = strconv.ParseInt(value, 10, 64)
	case "nthread":
		c.nthread, err = strconv.Atoi(value)
		if err == nil && c.nthread <= 0 {
			c.nthread = defaultThreads()
		}
	case "eval_metric":
		// Repeated settings accumulate, as in the native library.
		for _, m := range strings.Split(value, ",") {
			m = strings.TrimSpace(m)
			if m != "" && !containsString(c.evalMetrics, m) {
				c.evalMetrics = append(c.evalMetrics, m)
			}
		}
	}
	return err
}

func (c *config) validate() error {
	switch c.booster {
	case boosterTree, boosterDart, boosterLinear:
	default:
		return errors.Newf("unknown booster %q", c.booster)
	}
	if _, ok := objectives[c.objective]; !ok {
		return errors.Newf("unknown objective function: `%s`", c.objective)
	}
	if strings.HasPrefix(c.objective, "multi:") && c.numClass < 1 {
		return errors.New("num_class must be set for multi-class objectives")
	}
	if c.maxDepth < 0 {
		return errors.Newf("max_depth must be non-negative, got %d", c.maxDepth)
	}
	if c.lambda < 0 || c.alpha < 0 || c.gamma < 0 {
		return errors.New("lambda, alpha and gamma must be non-negative")
	}
	if c.subsample <= 0 || c.subsample > 1 {
		return errors.Newf("subsample must be in (0,1], got %g", c.subsample)
	}
	for _, m := range c.evalMetrics {
		if _, _, err := parseMetric(m); err != nil {
			return err
		}
	}
	return nil
}

// numOutputGroups is 1 for scalar objectives and num_class for multi-class.
func (c *config) numOutputGroups() int {
	if strings.HasPrefix(c.objective, "multi:") {
		return c.numClass
	}
	return 1
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
