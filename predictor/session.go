package predictor

import (
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
	"github.com/YuminosukeSato/xgbwrap/training"
	"github.com/YuminosukeSato/xgbwrap/xgboost"
)

// Session scores rows with memory it owns. Returned slices alias that memory
// and are overwritten by the next call on the same session.
type Session struct {
	p   *Predictor
	buf *xgboost.PredictionBuffer

	// Sparse rows are filtered into these before reaching the booster.
	indices []int32
	values  []float32
	scores  []float32
}

// Score returns the prediction of a regression, binary or ranking model.
// Binary models yield a probability unless the predictor was built with
// WithRawScore.
func (s *Session) Score(row xgboost.Row) (float32, error) {
	if s.p.model.Kind == training.MulticlassClassification {
		return 0, errors.NewValidationError("kind", "multiclass models are scored with Scores", s.p.model.Kind.String())
	}
	out, err := s.predict(row)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, errors.Newf("booster returned no output")
	}
	return out[0], nil
}

// Scores returns one score per class of a multiclass model. Classes that
// never occurred in training score 0.
func (s *Session) Scores(row xgboost.Row) ([]float32, error) {
	if s.p.model.Kind != training.MulticlassClassification {
		return nil, errors.NewValidationError("kind", "only multiclass models have per-class scores", s.p.model.Kind.String())
	}
	out, err := s.predict(row)
	if err != nil {
		return nil, err
	}
	mapping := s.p.model.ClassMapping
	if len(mapping) == 0 {
		s.scores = append(s.scores[:0], out...)
		return s.scores, nil
	}

	if cap(s.scores) < s.p.outputs {
		s.scores = make([]float32, s.p.outputs)
	}
	s.scores = s.scores[:s.p.outputs]
	for i := range s.scores {
		s.scores[i] = 0
	}
	for i, class := range mapping {
		if i >= len(out) {
			break
		}
		if int(class) < len(s.scores) {
			s.scores[class] = out[i]
		}
	}
	return s.scores, nil
}

// predict checks row against the caller width and narrows it to the native
// width before scoring.
func (s *Session) predict(row xgboost.Row) ([]float32, error) {
	caller := s.p.model.NumFeaturesCaller
	native := s.p.model.NumFeaturesNative

	var narrowed xgboost.Row
	if row.Indices == nil {
		if len(row.Values) != caller {
			return nil, errors.NewValidationError("features", "row length must equal the model feature count", len(row.Values))
		}
		narrowed = xgboost.DenseRow(row.Values[:native])
	} else {
		if row.Length != 0 && row.Length != caller {
			return nil, errors.NewValidationError("features", "row length must equal the model feature count", row.Length)
		}
		if len(row.Indices) != len(row.Values) {
			return nil, errors.NewValidationError("indices", "length must equal len(values)", len(row.Indices))
		}
		s.indices, s.values = s.indices[:0], s.values[:0]
		for i, idx := range row.Indices {
			if idx < 0 || int(idx) >= caller {
				return nil, errors.NewValidationError("indices", "feature index out of range", idx)
			}
			if int(idx) < native {
				s.indices = append(s.indices, idx)
				s.values = append(s.values, row.Values[i])
			}
		}
		narrowed = xgboost.SparseRow(s.indices, s.values, native)
	}
	return s.p.booster.PredictOneOff(narrowed, s.buf, s.p.opts.rawScore, s.p.opts.treeLimit)
}
