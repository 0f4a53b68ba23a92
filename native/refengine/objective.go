package refengine

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
)

// objective computes first and second order gradients from margins and maps
// margins to the output space.
type objective struct {
	defaultMetric string
	// logistic objectives take base_score as a probability.
	logistic  bool
	gradients func(c *config, d *dataset, margins []float64, k int, grad, hess []float64) error
	transform func(margins []float64, k int, out []float64)
	// outputs is the number of values predicted per row when not in margin mode.
	outputs func(k int) int
}

const hessEps = 1e-16

var objectives = map[string]*objective{
	"reg:squarederror": regression,
	"reg:linear":       regression,
	"reg:logistic": {
		defaultMetric: "rmse", logistic: true,
		gradients: logisticGradients, transform: sigmoidTransform, outputs: scalarOutputs,
	},
	"binary:logistic": {
		defaultMetric: "logloss", logistic: true,
		gradients: logisticGradients, transform: sigmoidTransform, outputs: scalarOutputs,
	},
	"binary:logitraw": {
		defaultMetric: "auc",
		gradients:     logisticGradients, transform: identityTransform, outputs: scalarOutputs,
	},
	"multi:softprob": {
		defaultMetric: "mlogloss",
		gradients:     softmaxGradients, transform: softmaxTransform, outputs: func(k int) int { return k },
	},
	"multi:softmax": {
		defaultMetric: "merror",
		gradients:     softmaxGradients, transform: argmaxTransform, outputs: scalarOutputs,
	},
	"rank:pairwise": {
		defaultMetric: "map",
		gradients:     pairwiseGradients, transform: identityTransform, outputs: scalarOutputs,
	},
}

var regression = &objective{
	defaultMetric: "rmse",
	gradients:     squaredErrorGradients,
	transform:     identityTransform,
	outputs:       scalarOutputs,
}

func scalarOutputs(int) int { return 1 }

func weightOf(d *dataset, i int) float64 {
	if d.weights == nil {
		return 1
	}
	return float64(d.weights[i])
}

func checkLabels(d *dataset) error {
	if len(d.labels) != d.rows {
		return errors.Newf("label size %d does not match %d rows", len(d.labels), d.rows)
	}
	return nil
}

func squaredErrorGradients(_ *config, d *dataset, margins []float64, _ int, grad, hess []float64) error {
	if err := checkLabels(d); err != nil {
		return err
	}
	for i := 0; i < d.rows; i++ {
		w := weightOf(d, i)
		grad[i] = (margins[i] - float64(d.labels[i])) * w
		hess[i] = w
	}
	return nil
}

func logisticGradients(c *config, d *dataset, margins []float64, _ int, grad, hess []float64) error {
	if err := checkLabels(d); err != nil {
		return err
	}
	for i := 0; i < d.rows; i++ {
		y := float64(d.labels[i])
		if y < 0 || y > 1 {
			return errors.Newf("label must be in [0,1] for logistic regression, got %g at row %d", y, i)
		}
		w := weightOf(d, i)
		if y == 1 {
			w *= c.scalePosWeight
		}
		p := sigmoid(margins[i])
		grad[i] = (p - y) * w
		hess[i] = math.Max(p*(1-p), hessEps) * w
	}
	return nil
}

func softmaxGradients(_ *config, d *dataset, margins []float64, k int, grad, hess []float64) error {
	if err := checkLabels(d); err != nil {
		return err
	}
	p := make([]float64, k)
	for i := 0; i < d.rows; i++ {
		label := int(d.labels[i])
		if label < 0 || label >= k || float64(label) != float64(d.labels[i]) {
			return errors.Newf("label must be an integer in [0, num_class), got %g at row %d", d.labels[i], i)
		}
		softmax(margins[i*k:(i+1)*k], p)
		w := weightOf(d, i)
		for j := 0; j < k; j++ {
			target := 0.0
			if j == label {
				target = 1
			}
			grad[i*k+j] = (p[j] - target) * w
			hess[i*k+j] = math.Max(2*p[j]*(1-p[j]), hessEps) * w
		}
	}
	return nil
}

// pairwiseGradients applies the RankNet pairwise loss inside each group.
func pairwiseGradients(_ *config, d *dataset, margins []float64, _ int, grad, hess []float64) error {
	if err := checkLabels(d); err != nil {
		return err
	}
	for i := range grad {
		grad[i], hess[i] = 0, 0
	}
	ptr := d.groups()
	for g := 0; g+1 < len(ptr); g++ {
		for i := ptr[g]; i < ptr[g+1]; i++ {
			for j := ptr[g]; j < ptr[g+1]; j++ {
				if d.labels[i] <= d.labels[j] {
					continue
				}
				w := (weightOf(d, i) + weightOf(d, j)) / 2
				p := sigmoid(margins[i] - margins[j])
				h := math.Max(p*(1-p), hessEps) * w
				grad[i] += (p - 1) * w
				grad[j] -= (p - 1) * w
				hess[i] += h
				hess[j] += h
			}
		}
	}
	for i := range hess {
		if hess[i] == 0 {
			hess[i] = hessEps
		}
	}
	return nil
}

func identityTransform(margins []float64, _ int, out []float64) {
	copy(out, margins)
}

func sigmoidTransform(margins []float64, _ int, out []float64) {
	for i, m := range margins {
		out[i] = sigmoid(m)
	}
}

func softmaxTransform(margins []float64, k int, out []float64) {
	for i := 0; i+k <= len(margins); i += k {
		softmax(margins[i:i+k], out[i:i+k])
	}
}

func argmaxTransform(margins []float64, k int, out []float64) {
	for i := 0; i*k < len(margins); i++ {
		out[i] = float64(floats.MaxIdx(margins[i*k : (i+1)*k]))
	}
}

func sigmoid(x float64) float64 {
	if x > 0 {
		return 1 / (1 + math.Exp(-x))
	}
	ex := math.Exp(x)
	return ex / (1 + ex)
}

func logit(p float64) float64 {
	p = math.Min(math.Max(p, 1e-16), 1-1e-16)
	return math.Log(p / (1 - p))
}

// softmax writes the normalized exponentials of m into dst.
func softmax(m, dst []float64) {
	maxM := floats.Max(m)
	sum := 0.0
	for j, v := range m {
		dst[j] = math.Exp(v - maxM)
		sum += dst[j]
	}
	floats.Scale(1/sum, dst)
}
