package refengine

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/YuminosukeSato/xgbwrap/core/model"
	"github.com/YuminosukeSato/xgbwrap/core/parallel"
	"github.com/YuminosukeSato/xgbwrap/native"
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
)

const modelMagic = "XGBRMDL1"

// gbModel is the serialized state of a booster.
type gbModel struct {
	Booster    string
	Objective  string
	NumFeature int
	NumGroup   int
	BaseScore  float64
	Rounds     int

	Trees       []Tree
	TreeGroup   []int
	TreeWeights []float64
	// TreeRound maps each tree to the boosting round that produced it.
	TreeRound []int

	// Linear weights are laid out feature-major with the bias row last.
	Linear []float64
}

type param struct {
	name, value string
}

type booster struct {
	// mu guards configuration; prediction reads the model without it.
	mu         sync.Mutex
	params     []param
	caches     []*dataset
	cfg        config
	obj        *objective
	model      *gbModel
	configured bool

	predOut []float32
	rawOut  []byte
	evalOut string
}

// configure parses parameters and sizes the model. It is idempotent until the
// next SetParam.
func (b *booster) configure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.configured {
		return nil
	}
	cfg, err := parseConfig(b.params)
	if err != nil {
		return err
	}

	numFeature := 0
	for _, d := range b.caches {
		if d.cols > numFeature {
			numFeature = d.cols
		}
	}

	m := b.model
	if m == nil {
		m = &gbModel{Booster: cfg.booster, Objective: cfg.objective, BaseScore: cfg.baseScore}
	} else {
		if hasParam(b.params, "objective") {
			m.Objective = cfg.objective
		} else {
			cfg.objective = m.Objective
		}
		if hasParam(b.params, "booster") {
			if m.Rounds > 0 && cfg.booster != m.Booster && !(isTreeBooster(cfg.booster) && isTreeBooster(m.Booster)) {
				return errors.Newf("cannot continue a %s model with booster %s", m.Booster, cfg.booster)
			}
			m.Booster = cfg.booster
		} else {
			cfg.booster = m.Booster
		}
		if cfg.baseScoreSet {
			m.BaseScore = cfg.baseScore
		}
		if m.NumGroup > 1 && !hasParam(b.params, "num_class") {
			cfg.numClass = m.NumGroup
		}
		if err := cfg.validate(); err != nil {
			return err
		}
	}
	groups := cfg.numOutputGroups()
	if m.Rounds > 0 && m.NumGroup != groups {
		return errors.Newf("model has %d output groups but the parameters require %d", m.NumGroup, groups)
	}
	m.NumGroup = groups
	if numFeature > m.NumFeature {
		if m.Linear != nil {
			return errors.Newf("linear model has %d features, data has %d", m.NumFeature, numFeature)
		}
		m.NumFeature = numFeature
	}

	b.cfg = cfg
	b.obj = objectives[cfg.objective]
	b.model = m
	b.configured = true
	return nil
}

func isTreeBooster(name string) bool {
	return name == boosterTree || name == boosterDart
}

// baseMarginFor returns the initial margin of row i of d, group k.
func (b *booster) baseMarginFor(d *dataset, i, k int) float64 {
	if d != nil && d.baseMargin != nil {
		return float64(d.baseMargin[(i*b.model.NumGroup+k)%len(d.baseMargin)])
	}
	if b.obj.logistic {
		return logit(b.model.BaseScore)
	}
	return b.model.BaseScore
}

// treeLimit converts a round limit into a tree count.
func (b *booster) treeLimit(ntreeLimit uint32) int {
	m := b.model
	if ntreeLimit == 0 {
		return len(m.Trees)
	}
	n := 0
	for n < len(m.Trees) && m.TreeRound[n] < int(ntreeLimit) {
		n++
	}
	return n
}

// marginRow adds model contributions for one feature vector to out (len NumGroup).
func (b *booster) marginRow(fvec []float32, out []float64, limit int, dropped map[int]bool) {
	m := b.model
	if m.Linear != nil {
		k := m.NumGroup
		for g := 0; g < k; g++ {
			out[g] += m.Linear[m.NumFeature*k+g]
		}
		for j := 0; j < m.NumFeature && j < len(fvec); j++ {
			v := fvec[j]
			if v != v {
				continue
			}
			for g := 0; g < k; g++ {
				out[g] += m.Linear[j*k+g] * float64(v)
			}
		}
		return
	}
	for t := 0; t < limit; t++ {
		if dropped != nil && dropped[m.TreeRound[t]] {
			continue
		}
		out[m.TreeGroup[t]] += m.TreeWeights[t] * float64(m.Trees[t].leafValue(fvec))
	}
}

// margins computes n*NumGroup margins for d.
func (b *booster) margins(d *dataset, ntreeLimit uint32, dropped map[int]bool) []float64 {
	k := b.model.NumGroup
	out := make([]float64, d.rows*k)
	limit := b.treeLimit(ntreeLimit)
	parallel.ParallelizeWithThreshold(d.rows, 256, b.cfg.nthread, func(start, end int) {
		fvec := make([]float32, d.cols)
		for i := start; i < end; i++ {
			d.row(i, fvec)
			row := out[i*k : (i+1)*k]
			for g := range row {
				row[g] = b.baseMarginFor(d, i, g)
			}
			b.marginRow(fvec, row, limit, dropped)
		}
	})
	return out
}

func (b *booster) checkFeatures(d *dataset) error {
	if b.model.Rounds > 0 && d.cols > b.model.NumFeature {
		return errors.Newf("data has %d features but the model was trained with %d", d.cols, b.model.NumFeature)
	}
	return nil
}

// BoosterCreate implements native.Library.
func (e *Engine) BoosterCreate(dmats []native.DatasetHandle, out *native.BoosterHandle) int {
	return e.call("XGBoosterCreate", func() error {
		b := &booster{}
		for _, h := range dmats {
			d, err := e.dataset(h)
			if err != nil {
				return err
			}
			b.caches = append(b.caches, d)
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		h := native.BoosterHandle(e.allocHandle())
		e.boosters[h] = b
		*out = h
		return nil
	})
}

// BoosterFree implements native.Library.
func (e *Engine) BoosterFree(h native.BoosterHandle) int {
	return e.call("XGBoosterFree", func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.boosters[h]; !ok {
			return errors.Newf("invalid Booster handle %d", h)
		}
		delete(e.boosters, h)
		return nil
	})
}

// BoosterSetParam implements native.Library.
func (e *Engine) BoosterSetParam(h native.BoosterHandle, name, value string) int {
	return e.call("XGBoosterSetParam", func() error {
		b, err := e.booster(h)
		if err != nil {
			return err
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		b.params = append(b.params, param{name: name, value: value})
		b.configured = false
		return nil
	})
}

// BoosterLoadModelFromBuffer implements native.Library.
func (e *Engine) BoosterLoadModelFromBuffer(h native.BoosterHandle, buf []byte) int {
	return e.call("XGBoosterLoadModelFromBuffer", func() error {
		b, err := e.booster(h)
		if err != nil {
			return err
		}
		var m gbModel
		if err := model.Unmarshal(buf, modelMagic, &m); err != nil {
			return errors.Wrap(err, "invalid model buffer")
		}
		if len(m.Trees) != len(m.TreeGroup) || len(m.Trees) != len(m.TreeWeights) || len(m.Trees) != len(m.TreeRound) {
			return errors.New("invalid model buffer: inconsistent tree tables")
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		b.model = &m
		b.configured = false
		return nil
	})
}

// BoosterGetModelRaw implements native.Library.
func (e *Engine) BoosterGetModelRaw(h native.BoosterHandle, out *[]byte) int {
	return e.call("XGBoosterGetModelRaw", func() error {
		b, err := e.booster(h)
		if err != nil {
			return err
		}
		if err := b.configure(); err != nil {
			return err
		}
		raw, err := model.Marshal(modelMagic, b.model)
		if err != nil {
			return err
		}
		b.rawOut = raw
		*out = b.rawOut
		return nil
	})
}

// BoosterBoostedRounds implements native.Library.
func (e *Engine) BoosterBoostedRounds(h native.BoosterHandle, out *int) int {
	return e.call("XGBoosterBoostedRounds", func() error {
		b, err := e.booster(h)
		if err != nil {
			return err
		}
		if b.model == nil {
			*out = 0
			return nil
		}
		*out = b.model.Rounds
		return nil
	})
}

// BoosterUpdateOneIter implements native.Library.
func (e *Engine) BoosterUpdateOneIter(h native.BoosterHandle, iter int, dtrain native.DatasetHandle) int {
	return e.call("XGBoosterUpdateOneIter", func() error {
		b, d, err := e.trainingPair(h, dtrain)
		if err != nil {
			return err
		}
		rng := rand.New(rand.NewSource(b.cfg.seed + int64(iter)))
		dropped := b.selectDropped(rng)

		k := b.model.NumGroup
		margins := b.margins(d, 0, dropped)
		grad := make([]float64, d.rows*k)
		hess := make([]float64, d.rows*k)
		if err := b.obj.gradients(&b.cfg, d, margins, k, grad, hess); err != nil {
			return err
		}
		return b.boost(d, grad, hess, rng, dropped)
	})
}

// BoosterBoostOneIter implements native.Library.
func (e *Engine) BoosterBoostOneIter(h native.BoosterHandle, dtrain native.DatasetHandle, grad, hess []float32) int {
	return e.call("XGBoosterBoostOneIter", func() error {
		b, d, err := e.trainingPair(h, dtrain)
		if err != nil {
			return err
		}
		n := d.rows * b.model.NumGroup
		if len(grad) != n || len(hess) != n {
			return errors.Newf("grad/hess length %d/%d does not match %d", len(grad), len(hess), n)
		}
		g := make([]float64, n)
		hs := make([]float64, n)
		for i := range g {
			g[i], hs[i] = float64(grad[i]), float64(hess[i])
		}
		rng := rand.New(rand.NewSource(b.cfg.seed + int64(b.model.Rounds)))
		return b.boost(d, g, hs, rng, nil)
	})
}

func (e *Engine) trainingPair(h native.BoosterHandle, dtrain native.DatasetHandle) (*booster, *dataset, error) {
	b, err := e.booster(h)
	if err != nil {
		return nil, nil, err
	}
	d, err := e.dataset(dtrain)
	if err != nil {
		return nil, nil, err
	}
	if err := b.configure(); err != nil {
		return nil, nil, err
	}
	if d.rows == 0 {
		return nil, nil, errors.New("cannot train on an empty DMatrix")
	}
	if err := b.checkFeatures(d); err != nil {
		return nil, nil, err
	}
	return b, d, nil
}

// boost appends one round fitted to grad/hess (n*k, row-major).
func (b *booster) boost(d *dataset, grad, hess []float64, rng *rand.Rand, dropped map[int]bool) error {
	m := b.model
	k := m.NumGroup
	n := d.rows

	if m.Booster == boosterLinear {
		if m.Linear == nil {
			m.Linear = make([]float64, (m.NumFeature+1)*k)
		}
		updateLinear(d, m, &b.cfg, grad, hess)
		m.Rounds++
		return nil
	}

	rows := sampleRows(n, b.cfg.subsample, rng)
	g := make([]float64, n)
	h := make([]float64, n)
	newWeight := 1.0
	if m.Booster == boosterDart && len(dropped) > 0 {
		newWeight = b.normalizeDropped(dropped)
	}
	for group := 0; group < k; group++ {
		for i := 0; i < n; i++ {
			g[i] = grad[i*k+group]
			h[i] = hess[i*k+group]
		}
		tree := buildTree(d, g, h, rows, &b.cfg, rng)
		m.Trees = append(m.Trees, tree)
		m.TreeGroup = append(m.TreeGroup, group)
		m.TreeWeights = append(m.TreeWeights, newWeight)
		m.TreeRound = append(m.TreeRound, m.Rounds)
	}
	m.Rounds++
	return nil
}

func sampleRows(n int, ratio float64, rng *rand.Rand) []int {
	rows := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if ratio >= 1 || rng.Float64() < ratio {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		rows = append(rows, rng.Intn(n))
	}
	return rows
}

// selectDropped picks the rounds a DART update leaves out.
func (b *booster) selectDropped(rng *rand.Rand) map[int]bool {
	m := b.model
	if m.Booster != boosterDart || m.Rounds == 0 || b.cfg.rateDrop <= 0 {
		return nil
	}
	if b.cfg.skipDrop > 0 && rng.Float64() < b.cfg.skipDrop {
		return nil
	}
	weights := make([]float64, m.Rounds)
	for t, r := range m.TreeRound {
		weights[r] = m.TreeWeights[t]
	}
	total := 0.0
	for _, w := range weights {
		total += w
	}
	dropped := map[int]bool{}
	for r, w := range weights {
		p := b.cfg.rateDrop
		if b.cfg.sampleType == "weighted" && total > 0 {
			p = b.cfg.rateDrop * w * float64(m.Rounds) / total
		}
		if rng.Float64() < p {
			dropped[r] = true
		}
	}
	return dropped
}

// normalizeDropped rescales dropped trees and returns the new trees' weight.
func (b *booster) normalizeDropped(dropped map[int]bool) float64 {
	k := float64(len(dropped))
	lr := b.cfg.eta
	var factor, newWeight float64
	if b.cfg.normalizeType == "forest" {
		factor = 1 / (1 + lr)
		newWeight = factor
	} else {
		factor = k / (k + lr)
		newWeight = 1 / (k + lr)
	}
	m := b.model
	for t, r := range m.TreeRound {
		if dropped[r] {
			m.TreeWeights[t] *= factor
		}
	}
	return newWeight
}

// BoosterEvalOneIter implements native.Library.
func (e *Engine) BoosterEvalOneIter(h native.BoosterHandle, iter int, dmats []native.DatasetHandle, names []string, out *string) int {
	return e.call("XGBoosterEvalOneIter", func() error {
		if len(dmats) != len(names) {
			return errors.Newf("%d datasets but %d names", len(dmats), len(names))
		}
		b, err := e.booster(h)
		if err != nil {
			return err
		}
		if err := b.configure(); err != nil {
			return err
		}
		metricNames := b.cfg.evalMetrics
		if len(metricNames) == 0 {
			metricNames = []string{b.obj.defaultMetric}
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "[%d]", iter)
		for i, dh := range dmats {
			d, err := e.dataset(dh)
			if err != nil {
				return err
			}
			if len(d.labels) != d.rows {
				return errors.Newf("dataset %q has no labels", names[i])
			}
			probs := b.evalProbabilities(d)
			for _, name := range metricNames {
				fn, arg, err := parseMetric(name)
				if err != nil {
					return err
				}
				v := fn(d, probs, b.model.NumGroup, arg)
				fmt.Fprintf(&sb, "\t%s-%s:%s", names[i], name, strconv.FormatFloat(v, 'f', 6, 64))
			}
		}
		b.evalOut = sb.String()
		*out = b.evalOut
		return nil
	})
}

// evalProbabilities maps margins to the space metrics expect: probabilities
// for every class of multi-class objectives, the transformed value otherwise.
func (b *booster) evalProbabilities(d *dataset) []float64 {
	k := b.model.NumGroup
	margins := b.margins(d, 0, nil)
	out := make([]float64, len(margins))
	switch {
	case k > 1:
		softmaxTransform(margins, k, out)
	case b.obj.logistic:
		sigmoidTransform(margins, k, out)
	default:
		copy(out, margins)
	}
	return out
}

// outputsPerRow is the per-row prediction length for optionMask.
func (b *booster) outputsPerRow(optionMask int) int {
	if optionMask&native.PredictOutputMargin != 0 {
		return b.model.NumGroup
	}
	return b.obj.outputs(b.model.NumGroup)
}

// BoosterPredict implements native.Library. The result aliases a buffer
// owned by the booster and is overwritten by the next call.
func (e *Engine) BoosterPredict(h native.BoosterHandle, dmat native.DatasetHandle, optionMask int, ntreeLimit uint32, out *[]float32) int {
	return e.call("XGBoosterPredict", func() error {
		b, err := e.booster(h)
		if err != nil {
			return err
		}
		d, err := e.dataset(dmat)
		if err != nil {
			return err
		}
		if err := b.configure(); err != nil {
			return err
		}
		if err := b.checkFeatures(d); err != nil {
			return err
		}
		k := b.model.NumGroup
		margins := b.margins(d, ntreeLimit, nil)
		per := b.outputsPerRow(optionMask)
		values := margins
		if optionMask&native.PredictOutputMargin == 0 {
			values = make([]float64, d.rows*per)
			b.obj.transform(margins, k, values)
		}
		if cap(b.predOut) < len(values) {
			b.predOut = make([]float32, len(values))
		}
		b.predOut = b.predOut[:len(values)]
		for i, v := range values {
			b.predOut[i] = float32(v)
		}
		*out = b.predOut
		return nil
	})
}

// updateLinear runs one pass of coordinate descent over the bias and every feature.
func updateLinear(d *dataset, m *gbModel, c *config, grad, hess []float64) {
	k := m.NumGroup
	for g := 0; g < k; g++ {
		// bias
		sumGrad, sumHess := 0.0, 0.0
		for i := 0; i < d.rows; i++ {
			sumGrad += grad[i*k+g]
			sumHess += hess[i*k+g]
		}
		if sumHess > 1e-5 {
			biasIdx := m.NumFeature*k + g
			dw := -(sumGrad + c.lambdaBias*m.Linear[biasIdx]) / (sumHess + c.lambdaBias) * c.eta
			m.Linear[biasIdx] += dw
			for i := 0; i < d.rows; i++ {
				grad[i*k+g] += hess[i*k+g] * dw
			}
		}

		for j := 0; j < d.cols; j++ {
			sumGrad, sumHess = 0, 0
			for i := 0; i < d.rows; i++ {
				v := d.at(i, j)
				if math.IsNaN(v) {
					continue
				}
				sumGrad += grad[i*k+g] * v
				sumHess += hess[i*k+g] * v * v
			}
			w := m.Linear[j*k+g]
			dw := coordinateDelta(sumGrad, sumHess, w, c.alpha, c.lambda) * c.eta
			if dw == 0 {
				continue
			}
			m.Linear[j*k+g] += dw
			for i := 0; i < d.rows; i++ {
				v := d.at(i, j)
				if !math.IsNaN(v) {
					grad[i*k+g] += hess[i*k+g] * v * dw
				}
			}
		}
	}
}

func coordinateDelta(sumGrad, sumHess, w, alpha, lambda float64) float64 {
	if sumHess < 1e-5 {
		return 0
	}
	denom := sumHess + lambda
	tmp := w - (sumGrad+lambda*w)/denom
	if tmp >= 0 {
		return math.Max(-(sumGrad+lambda*w+alpha)/denom, -w)
	}
	return math.Min(-(sumGrad+lambda*w-alpha)/denom, -w)
}
