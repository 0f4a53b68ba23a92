package refengine

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
)

// metricFunc scores probabilities (n*k values, row-major) against d's labels.
type metricFunc func(d *dataset, probs []float64, k int, param float64) float64

var metrics = map[string]metricFunc{
	"rmse":     rmseMetric,
	"mae":      maeMetric,
	"logloss":  loglossMetric,
	"error":    errorMetric,
	"merror":   merrorMetric,
	"mlogloss": mloglossMetric,
	"auc":      aucMetric,
	"ndcg":     ndcgMetric,
	"map":      mapMetric,
}

// parseMetric splits "name@param". A missing param is 0 (ndcg/map: whole
// group, error: threshold 0.5).
func parseMetric(spec string) (metricFunc, float64, error) {
	name, arg, hasArg := strings.Cut(spec, "@")
	fn, ok := metrics[name]
	if !ok {
		return nil, 0, errors.Newf("unknown evaluation metric %q", spec)
	}
	if !hasArg {
		return fn, 0, nil
	}
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return nil, 0, errors.Newf("invalid metric argument in %q", spec)
	}
	return fn, v, nil
}

func weightedMean(d *dataset, perRow func(i int) float64) float64 {
	num, den := 0.0, 0.0
	for i := 0; i < d.rows; i++ {
		w := weightOf(d, i)
		num += w * perRow(i)
		den += w
	}
	if den == 0 {
		return math.NaN()
	}
	return num / den
}

func rmseMetric(d *dataset, p []float64, _ int, _ float64) float64 {
	return math.Sqrt(weightedMean(d, func(i int) float64 {
		diff := p[i] - float64(d.labels[i])
		return diff * diff
	}))
}

func maeMetric(d *dataset, p []float64, _ int, _ float64) float64 {
	return weightedMean(d, func(i int) float64 {
		return math.Abs(p[i] - float64(d.labels[i]))
	})
}

func clipProb(p float64) float64 {
	return math.Min(math.Max(p, 1e-16), 1-1e-16)
}

func loglossMetric(d *dataset, p []float64, _ int, _ float64) float64 {
	return weightedMean(d, func(i int) float64 {
		y := float64(d.labels[i])
		q := clipProb(p[i])
		return -(y*math.Log(q) + (1-y)*math.Log(1-q))
	})
}

func errorMetric(d *dataset, p []float64, _ int, threshold float64) float64 {
	if threshold == 0 {
		threshold = 0.5
	}
	return weightedMean(d, func(i int) float64 {
		predicted := p[i] > threshold
		actual := d.labels[i] > 0.5
		if predicted != actual {
			return 1
		}
		return 0
	})
}

func merrorMetric(d *dataset, p []float64, k int, _ float64) float64 {
	return weightedMean(d, func(i int) float64 {
		if floats.MaxIdx(p[i*k:(i+1)*k]) != int(d.labels[i]) {
			return 1
		}
		return 0
	})
}

func mloglossMetric(d *dataset, p []float64, k int, _ float64) float64 {
	return weightedMean(d, func(i int) float64 {
		label := int(d.labels[i])
		if label < 0 || label >= k {
			return math.Inf(1)
		}
		return -math.Log(clipProb(p[i*k+label]))
	})
}

// aucMetric integrates the ROC curve. It is NaN when only one class is present.
func aucMetric(d *dataset, p []float64, _ int, _ float64) float64 {
	n := d.rows
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return p[order[a]] < p[order[b]] })

	scores := make([]float64, n)
	classes := make([]bool, n)
	var weights []float64
	if d.weights != nil {
		weights = make([]float64, n)
	}
	pos := 0
	for i, idx := range order {
		scores[i] = p[idx]
		classes[i] = d.labels[idx] > 0.5
		if classes[i] {
			pos++
		}
		if weights != nil {
			weights[i] = float64(d.weights[idx])
		}
	}
	if pos == 0 || pos == n {
		return math.NaN()
	}
	tpr, fpr, _ := stat.ROC(nil, scores, classes, weights)
	return integrate.Trapezoidal(fpr, tpr)
}

// groupRanking returns row indices of group g ordered by descending score.
func groupRanking(ptr []int, g int, p []float64) []int {
	idx := make([]int, 0, ptr[g+1]-ptr[g])
	for i := ptr[g]; i < ptr[g+1]; i++ {
		idx = append(idx, i)
	}
	sort.SliceStable(idx, func(a, b int) bool { return p[idx[a]] > p[idx[b]] })
	return idx
}

func ndcgMetric(d *dataset, p []float64, _ int, at float64) float64 {
	ptr := d.groups()
	total := 0.0
	for g := 0; g+1 < len(ptr); g++ {
		ranked := groupRanking(ptr, g, p)
		k := cutoff(len(ranked), at)

		ideal := make([]float64, len(ranked))
		for i, idx := range ranked {
			ideal[i] = float64(d.labels[idx])
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(ideal)))

		dcg, idcg := 0.0, 0.0
		for i := 0; i < k; i++ {
			discount := math.Log2(float64(i) + 2)
			dcg += (math.Exp2(float64(d.labels[ranked[i]])) - 1) / discount
			idcg += (math.Exp2(ideal[i]) - 1) / discount
		}
		if idcg == 0 {
			total += 1
		} else {
			total += dcg / idcg
		}
	}
	return total / float64(len(ptr)-1)
}

func mapMetric(d *dataset, p []float64, _ int, at float64) float64 {
	ptr := d.groups()
	total := 0.0
	for g := 0; g+1 < len(ptr); g++ {
		ranked := groupRanking(ptr, g, p)
		k := cutoff(len(ranked), at)

		hits, sumPrec := 0, 0.0
		for i := 0; i < k; i++ {
			if d.labels[ranked[i]] > 0 {
				hits++
				sumPrec += float64(hits) / float64(i+1)
			}
		}
		if hits == 0 {
			total += 1
		} else {
			total += sumPrec / float64(hits)
		}
	}
	return total / float64(len(ptr)-1)
}

func cutoff(n int, at float64) int {
	if at <= 0 || int(at) > n {
		return n
	}
	return int(at)
}
