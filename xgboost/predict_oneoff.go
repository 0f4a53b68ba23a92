package xgboost

import (
	"github.com/YuminosukeSato/xgbwrap/native"
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
)

// Row is one example to score. A nil Indices makes Values a dense row whose
// position is the feature index; otherwise Values[i] belongs to feature
// Indices[i] and Length is the width of the feature space (0 means the
// booster's feature count).
type Row struct {
	Values  []float32
	Indices []int32
	Length  int
}

// DenseRow wraps a dense feature vector.
func DenseRow(values []float32) Row {
	return Row{Values: values, Length: len(values)}
}

// SparseRow wraps a sparse feature vector of the given width.
func SparseRow(indices []int32, values []float32, length int) Row {
	return Row{Values: values, Indices: indices, Length: length}
}

// validate rejects rows wider than the model, matching what batch prediction
// does for a DMatrix with too many columns.
func (r Row) validate(numFeatures int) error {
	if r.Indices == nil {
		if numFeatures > 0 && len(r.Values) > numFeatures {
			return errors.NewValidationError("features", "row is wider than the model feature count", len(r.Values))
		}
		return nil
	}
	if r.Length < 0 || (numFeatures > 0 && r.Length > numFeatures) {
		return errors.NewValidationError("features", "row is wider than the model feature count", r.Length)
	}
	if len(r.Indices) != len(r.Values) {
		return errors.NewValidationError("indices", "length must equal len(values)", len(r.Indices))
	}
	length := r.Length
	if length == 0 {
		length = numFeatures
	}
	for _, idx := range r.Indices {
		if idx < 0 || int(idx) >= length {
			return errors.NewValidationError("indices", "feature index out of range", idx)
		}
	}
	return nil
}

// PredictOneOff scores a single row using only buf's memory.
//
// The size phase encodes the row into buf's entry region and asks the
// library for the output and scratch lengths. The fill phase grows buf as
// needed and predicts into it. The returned slice aliases buf and is
// overwritten by the next call with the same buffer.
func (b *Booster) PredictOneOff(row Row, buf *PredictionBuffer, outputMargin bool, treeLimit int) ([]float32, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, errors.NewValidationError("buffer", "prediction buffer is required", nil)
	}
	if err := row.validate(b.numFeatures); err != nil {
		return nil, err
	}
	if b.ext == nil {
		if b.batchFallback {
			return b.predictRowBatch(row, buf, outputMargin, treeLimit)
		}
		return nil, errors.Wrapf(errors.ErrExtendedLibraryRequired, "backend %q", b.lib.Name())
	}

	mask := optionMask(outputMargin)
	limit := uint32(treeLimit)

	buf.ensureEntries(len(row.Values))
	n := uint32(len(row.Values))
	status := b.ext.CopyEntries(buf.entries, &n, row.Values, row.Indices, MissingValue)
	if err := native.Check(b.lib, "XGBCopyEntries", status); err != nil {
		return nil, err
	}

	var outLen, scratchLen uint64
	status = b.ext.BoosterPredictOutputSize(b.handle, buf.entries, n, mask, limit, &outLen, &scratchLen)
	if err := native.Check(b.lib, "XGBoosterPredictOutputSize", status); err != nil {
		return nil, err
	}

	buf.ensureOutput(int(outLen))
	buf.ensureScratch(int(scratchLen))
	status = b.ext.BoosterPredictNoInsideCache(b.handle, buf.entries, n, mask, limit,
		outLen, scratchLen, buf.output, buf.scratch, buf.counters)
	if err := native.Check(b.lib, "XGBoosterPredictNoInsideCache", status); err != nil {
		return nil, err
	}
	return buf.output[:outLen], nil
}

// predictRowBatch scores row through a temporary single-row DMatrix under the
// batch lock. The result is copied into buf's output region.
func (b *Booster) predictRowBatch(row Row, buf *PredictionBuffer, outputMargin bool, treeLimit int) ([]float32, error) {
	width := row.Length
	if width == 0 {
		width = b.numFeatures
	}
	var (
		d   *DMatrix
		err error
	)
	if row.Indices == nil {
		d, err = NewDenseDMatrix(b.lib, DenseData{Values: row.Values, Rows: 1, Cols: len(row.Values)})
	} else {
		indices := make([]uint32, len(row.Indices))
		for i, idx := range row.Indices {
			indices[i] = uint32(idx)
		}
		d, err = NewCSRDMatrix(b.lib, CSRData{
			RowPointers: []uint64{0, uint64(len(row.Values))},
			Indices:     indices,
			Values:      row.Values,
			Rows:        1,
			Cols:        width,
		})
	}
	if err != nil {
		return nil, err
	}
	defer d.Close()

	b.mu.Lock()
	dh, err := d.live()
	var out []float32
	if err == nil {
		out, err = b.predictLocked(dh, outputMargin, treeLimit)
	}
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	buf.ensureOutput(len(out))
	copy(buf.output, out)
	return buf.output[:len(out)], nil
}
