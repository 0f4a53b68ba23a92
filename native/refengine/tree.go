package refengine

import (
	"math"
	"math/rand"
	"sort"
)

// Tree is a regression tree stored as a flat node array; node 0 is the root.
type Tree struct {
	Nodes []Node
}

// Node is a split when Left >= 0 and a leaf otherwise. A row goes left when
// its value is below Threshold; a missing value follows DefaultLeft.
type Node struct {
	Left, Right int32
	Feature     int32
	Threshold   float32
	DefaultLeft bool
	Leaf        float32
	Cover       float64
}

func (n *Node) isLeaf() bool { return n.Left < 0 }

// leafValue walks fvec (NaN = missing) to a leaf.
func (t *Tree) leafValue(fvec []float32) float32 {
	if len(t.Nodes) == 0 {
		return 0
	}
	i := int32(0)
	for {
		n := &t.Nodes[i]
		if n.isLeaf() {
			return n.Leaf
		}
		var v float32 = float32(math.NaN())
		if int(n.Feature) < len(fvec) {
			v = fvec[n.Feature]
		}
		switch {
		case v != v:
			if n.DefaultLeft {
				i = n.Left
			} else {
				i = n.Right
			}
		case v < n.Threshold:
			i = n.Left
		default:
			i = n.Right
		}
	}
}

// treeBuilder grows one tree from per-row gradient statistics using exact
// greedy split search.
type treeBuilder struct {
	data *dataset
	grad []float64
	hess []float64
	cfg  *config
	rng  *rand.Rand

	features []int
	nodes    []Node
}

type splitInfo struct {
	feature     int
	threshold   float32
	defaultLeft bool
	gain        float64
}

func buildTree(data *dataset, grad, hess []float64, rows []int, cfg *config, rng *rand.Rand) Tree {
	b := &treeBuilder{data: data, grad: grad, hess: hess, cfg: cfg, rng: rng}
	b.features = sampleFeatures(allFeatures(data.cols), cfg.colsampleByTree, rng)
	b.grow(rows, 0, b.features)
	return Tree{Nodes: b.nodes}
}

func allFeatures(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func sampleFeatures(features []int, ratio float64, rng *rand.Rand) []int {
	if ratio >= 1 || len(features) == 0 {
		return features
	}
	n := int(math.Round(float64(len(features)) * ratio))
	if n < 1 {
		n = 1
	}
	perm := rng.Perm(len(features))
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = features[perm[i]]
	}
	sort.Ints(out)
	return out
}

func (b *treeBuilder) grow(rows []int, depth int, features []int) int32 {
	sumGrad, sumHess := 0.0, 0.0
	for _, r := range rows {
		sumGrad += b.grad[r]
		sumHess += b.hess[r]
	}

	id := int32(len(b.nodes))
	b.nodes = append(b.nodes, Node{Left: -1, Right: -1, Cover: sumHess})

	if depth >= b.cfg.maxDepth || sumHess < 2*b.cfg.minChildWeight {
		b.nodes[id].Leaf = float32(b.leafWeight(sumGrad, sumHess))
		return id
	}

	levelFeatures := sampleFeatures(features, b.cfg.colsampleByLevel, b.rng)
	best := b.findBestSplit(rows, sumGrad, sumHess, levelFeatures)
	if best.gain <= b.cfg.gamma || best.gain <= 1e-6 {
		b.nodes[id].Leaf = float32(b.leafWeight(sumGrad, sumHess))
		return id
	}

	leftRows, rightRows := b.splitRows(rows, best)
	left := b.grow(leftRows, depth+1, features)
	right := b.grow(rightRows, depth+1, features)

	n := &b.nodes[id]
	n.Left, n.Right = left, right
	n.Feature = int32(best.feature)
	n.Threshold = best.threshold
	n.DefaultLeft = best.defaultLeft
	return id
}

type featureValue struct {
	value float64
	row   int
}

func (b *treeBuilder) findBestSplit(rows []int, sumGrad, sumHess float64, features []int) splitInfo {
	best := splitInfo{gain: math.Inf(-1)}
	parentGain := b.gainOf(sumGrad, sumHess)
	values := make([]featureValue, 0, len(rows))

	consider := func(gl, hl float64, feature int, threshold float32, defaultLeft bool) {
		gr, hr := sumGrad-gl, sumHess-hl
		if hl < b.cfg.minChildWeight || hr < b.cfg.minChildWeight {
			return
		}
		gain := b.gainOf(gl, hl) + b.gainOf(gr, hr) - parentGain
		if gain > best.gain {
			best = splitInfo{feature: feature, threshold: threshold, defaultLeft: defaultLeft, gain: gain}
		}
	}

	for _, feature := range features {
		values = values[:0]
		presentGrad, presentHess := 0.0, 0.0
		for _, r := range rows {
			v := b.data.at(r, feature)
			if math.IsNaN(v) {
				continue
			}
			values = append(values, featureValue{value: v, row: r})
			presentGrad += b.grad[r]
			presentHess += b.hess[r]
		}
		if len(values) == 0 {
			continue
		}
		sort.Slice(values, func(i, j int) bool { return values[i].value < values[j].value })

		missingGrad, missingHess := sumGrad-presentGrad, sumHess-presentHess
		hasMissing := len(values) < len(rows)

		leftGrad, leftHess := 0.0, 0.0
		for i := 0; i < len(values)-1; i++ {
			leftGrad += b.grad[values[i].row]
			leftHess += b.hess[values[i].row]
			if values[i].value == values[i+1].value {
				continue
			}
			threshold := float32(values[i+1].value)
			consider(leftGrad, leftHess, feature, threshold, false)
			if hasMissing {
				consider(leftGrad+missingGrad, leftHess+missingHess, feature, threshold, true)
			}
		}
		if hasMissing {
			// Split purely on missingness.
			consider(presentGrad, presentHess, feature, float32(math.Inf(1)), false)
			consider(missingGrad, missingHess, feature, float32(math.Inf(-1)), true)
		}
	}
	return best
}

func (b *treeBuilder) splitRows(rows []int, s splitInfo) ([]int, []int) {
	left := make([]int, 0, len(rows)/2)
	right := make([]int, 0, len(rows)/2)
	for _, r := range rows {
		v := b.data.at(r, s.feature)
		goLeft := s.defaultLeft
		if !math.IsNaN(v) {
			goLeft = float32(v) < s.threshold
		}
		if goLeft {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return left, right
}

func thresholdL1(g, alpha float64) float64 {
	switch {
	case g > alpha:
		return g - alpha
	case g < -alpha:
		return g + alpha
	default:
		return 0
	}
}

func (b *treeBuilder) gainOf(g, h float64) float64 {
	if h+b.cfg.lambda <= 0 {
		return 0
	}
	t := thresholdL1(g, b.cfg.alpha)
	return t * t / (h + b.cfg.lambda)
}

// leafWeight is the regularized Newton step, clipped by max_delta_step and
// scaled by the learning rate.
func (b *treeBuilder) leafWeight(g, h float64) float64 {
	if h+b.cfg.lambda <= 0 {
		return 0
	}
	w := -thresholdL1(g, b.cfg.alpha) / (h + b.cfg.lambda)
	if mds := b.cfg.maxDeltaStep; mds > 0 {
		w = math.Max(-mds, math.Min(mds, w))
	}
	return w * b.cfg.eta
}
