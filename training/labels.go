package training

import (
	"math"
	"sort"
	"strconv"

	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
	"github.com/YuminosukeSato/xgbwrap/xgboost"
)

// Task is the learning task. It picks the default objective and the label
// policy applied before the labels reach the native library.
type Task int

const (
	Regression Task = iota
	BinaryClassification
	MulticlassClassification
	Ranking
)

func (t Task) String() string {
	switch t {
	case BinaryClassification:
		return "binary"
	case MulticlassClassification:
		return "multiclass"
	case Ranking:
		return "ranking"
	default:
		return "regression"
	}
}

// DefaultObjective is used when the parameters carry no objective.
func (t Task) DefaultObjective() string {
	switch t {
	case BinaryClassification:
		return "binary:logistic"
	case MulticlassClassification:
		return "multi:softprob"
	case Ranking:
		return "rank:pairwise"
	default:
		return "reg:linear"
	}
}

// ClassInfo describes how multiclass labels were remapped.
type ClassInfo struct {
	// NumClass is the width of the caller's label space: the number of
	// distinct labels, or the declared key cardinality.
	NumClass int

	// Mapping[i] is the caller label of native class i. nil means identity.
	Mapping []int32

	// IsFloatLabel is true when labels were given as plain numbers rather
	// than keys with a declared cardinality.
	IsFloatLabel bool
}

// labelPolicy rewrites labels and params for task and returns the class
// remapping for multiclass tasks. keyCount > 0 declares key labels with that
// cardinality.
func labelPolicy(task Task, labels []float32, params *xgboost.Params, hasGroups bool, keyCount int) (ClassInfo, error) {
	if _, ok := params.Get("objective"); !ok {
		params.Set("objective", task.DefaultObjective())
	}
	switch task {
	case BinaryClassification:
		return ClassInfo{}, resolveScalePosWeight(labels, params)
	case MulticlassClassification:
		return remapClasses(labels, params, keyCount)
	case Ranking:
		if !hasGroups {
			return ClassInfo{}, errors.NewValidationError("group", "ranking requires a group column", nil)
		}
	}
	return ClassInfo{}, nil
}

// resolveScalePosWeight replaces an explicit scale_pos_weight of 0 with the
// negative/positive ratio, each count floored at 1.
func resolveScalePosWeight(labels []float32, params *xgboost.Params) error {
	raw, ok := params.Get("scale_pos_weight")
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return errors.NewValidationError("scale_pos_weight", "unable to parse as a number", raw)
	}
	if v < 0 {
		return errors.NewValidationError("scale_pos_weight", "must be >= 0", v)
	}
	if v != 0 {
		return nil
	}
	var neg, pos int
	for _, y := range labels {
		if y == 1 {
			pos++
		} else {
			neg++
		}
	}
	ratio := math.Max(float64(neg), 1) / math.Max(float64(pos), 1)
	params.Set("scale_pos_weight", strconv.FormatFloat(ratio, 'g', -1, 64))
	return nil
}

// remapClasses rewrites labels in place to dense indices 0..k-1 in ascending
// label order and sets num_class when absent.
func remapClasses(labels []float32, params *xgboost.Params, keyCount int) (ClassInfo, error) {
	if len(labels) == 0 {
		return ClassInfo{}, errors.ErrEmptyData
	}
	seen := make(map[int32]struct{})
	for _, y := range labels {
		if y != float32(math.Trunc(float64(y))) || math.IsInf(float64(y), 0) {
			return ClassInfo{}, errors.NewValidationError("label", "multiclass labels must be integral", y)
		}
		seen[int32(y)] = struct{}{}
	}
	distinct := make([]int32, 0, len(seen))
	for c := range seen {
		distinct = append(distinct, c)
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i] < distinct[j] })
	if distinct[0] < 0 {
		return ClassInfo{}, errors.NewValidationError("label", "negative labels are not allowed", distinct[0])
	}

	index := make(map[int32]float32, len(distinct))
	for i, c := range distinct {
		index[c] = float32(i)
	}
	for i, y := range labels {
		labels[i] = index[int32(y)]
	}

	if _, ok := params.Get("num_class"); !ok {
		params.Set("num_class", strconv.Itoa(len(distinct)))
	}

	info := ClassInfo{NumClass: len(distinct), Mapping: distinct, IsFloatLabel: true}
	if keyCount > 0 {
		info.IsFloatLabel = false
		if int(distinct[len(distinct)-1]) >= keyCount {
			return ClassInfo{}, errors.NewValidationError("label", "label exceeds the declared class count", distinct[len(distinct)-1])
		}
		info.NumClass = keyCount
		if keyCount == len(distinct) {
			info.Mapping = nil
		}
	}
	return info, nil
}
