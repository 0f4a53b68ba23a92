package refengine

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/xgbwrap/core/model"
	"github.com/YuminosukeSato/xgbwrap/native"
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
)

const datasetMagic = "XGBRDMX1"

// dataset holds a DMatrix as a dense gonum matrix where NaN marks a missing value.
type dataset struct {
	x          *mat.Dense
	rows, cols int
	nnz        int

	labels     []float32
	weights    []float32
	baseMargin []float32
	// groupPtr holds group boundaries: group g spans rows [groupPtr[g], groupPtr[g+1]).
	groupPtr []int
}

func newDataset(rows, cols int) *dataset {
	d := &dataset{rows: rows, cols: cols}
	if rows > 0 && cols > 0 {
		raw := make([]float64, rows*cols)
		for i := range raw {
			raw[i] = math.NaN()
		}
		d.x = mat.NewDense(rows, cols, raw)
	}
	return d
}

func (d *dataset) at(i, j int) float64 {
	return d.x.At(i, j)
}

// row copies row i into dst (len >= cols) as float32.
func (d *dataset) row(i int, dst []float32) {
	if d.x == nil {
		return
	}
	raw := d.x.RawRowView(i)
	for j, v := range raw {
		dst[j] = float32(v)
	}
}

func (d *dataset) groups() []int {
	if len(d.groupPtr) > 0 {
		return d.groupPtr
	}
	return []int{0, d.rows}
}

// DMatrixCreateFromMat implements native.Library.
func (e *Engine) DMatrixCreateFromMat(data []float32, nrow, ncol uint64, missing float32, out *native.DatasetHandle) int {
	return e.call("XGDMatrixCreateFromMat", func() error {
		rows, cols := int(nrow), int(ncol)
		if uint64(len(data)) != nrow*ncol {
			return errors.Newf("data length %d does not match %d x %d", len(data), nrow, ncol)
		}
		d := newDataset(rows, cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				v := data[i*cols+j]
				if native.IsMissing(v, missing) {
					continue
				}
				d.x.Set(i, j, float64(v))
				d.nnz++
			}
		}
		*out = e.putDataset(d)
		return nil
	})
}

// DMatrixCreateFromCSR implements native.Library. ncol == 0 infers the
// column count from the largest index.
func (e *Engine) DMatrixCreateFromCSR(indptr []uint64, indices []uint32, data []float32, ncol uint64, out *native.DatasetHandle) int {
	return e.call("XGDMatrixCreateFromCSREx", func() error {
		if len(indptr) == 0 {
			return errors.New("indptr must hold at least one element")
		}
		if len(indices) != len(data) {
			return errors.Newf("indices length %d does not match data length %d", len(indices), len(data))
		}
		rows := len(indptr) - 1
		if indptr[rows] != uint64(len(data)) {
			return errors.Newf("indptr ends at %d but %d values were given", indptr[rows], len(data))
		}
		cols := int(ncol)
		if cols == 0 {
			for _, idx := range indices {
				if int(idx)+1 > cols {
					cols = int(idx) + 1
				}
			}
		}
		d := newDataset(rows, cols)
		for i := 0; i < rows; i++ {
			if indptr[i] > indptr[i+1] {
				return errors.Newf("indptr is decreasing at row %d", i)
			}
			for k := indptr[i]; k < indptr[i+1]; k++ {
				j := int(indices[k])
				if j >= cols {
					return errors.Newf("column index %d out of range for %d columns", j, cols)
				}
				v := data[k]
				if v != v {
					continue
				}
				d.x.Set(i, j, float64(v))
				d.nnz++
			}
		}
		*out = e.putDataset(d)
		return nil
	})
}

func (e *Engine) putDataset(d *dataset) native.DatasetHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := native.DatasetHandle(e.allocHandle())
	e.datasets[h] = d
	return h
}

// DMatrixFree implements native.Library.
func (e *Engine) DMatrixFree(h native.DatasetHandle) int {
	return e.call("XGDMatrixFree", func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.datasets[h]; !ok {
			return errors.Newf("invalid DMatrix handle %d", h)
		}
		delete(e.datasets, h)
		return nil
	})
}

// DMatrixSetFloatInfo implements native.Library.
func (e *Engine) DMatrixSetFloatInfo(h native.DatasetHandle, field string, data []float32) int {
	return e.call("XGDMatrixSetFloatInfo", func() error {
		d, err := e.dataset(h)
		if err != nil {
			return err
		}
		values := append([]float32(nil), data...)
		switch field {
		case native.FieldLabel:
			if len(values) != d.rows {
				return errors.Newf("label size %d does not match %d rows", len(values), d.rows)
			}
			d.labels = values
		case native.FieldWeight:
			if len(values) != d.rows {
				return errors.Newf("weight size %d does not match %d rows", len(values), d.rows)
			}
			d.weights = values
		case native.FieldBaseMargin:
			if d.rows == 0 || len(values)%d.rows != 0 {
				return errors.Newf("base_margin size %d is not a multiple of %d rows", len(values), d.rows)
			}
			d.baseMargin = values
		default:
			return errors.Newf("unknown float field %q", field)
		}
		return nil
	})
}

// DMatrixSetGroup implements native.Library.
func (e *Engine) DMatrixSetGroup(h native.DatasetHandle, group []uint32) int {
	return e.call("XGDMatrixSetGroup", func() error {
		d, err := e.dataset(h)
		if err != nil {
			return err
		}
		ptr := make([]int, 0, len(group)+1)
		ptr = append(ptr, 0)
		total := 0
		for _, g := range group {
			total += int(g)
			ptr = append(ptr, total)
		}
		if total != d.rows {
			return errors.Newf("group sizes sum to %d but the matrix has %d rows", total, d.rows)
		}
		d.groupPtr = ptr
		return nil
	})
}

// DMatrixNumRow implements native.Library.
func (e *Engine) DMatrixNumRow(h native.DatasetHandle, out *uint64) int {
	return e.call("XGDMatrixNumRow", func() error {
		d, err := e.dataset(h)
		if err != nil {
			return err
		}
		*out = uint64(d.rows)
		return nil
	})
}

// DMatrixNumCol implements native.Library.
func (e *Engine) DMatrixNumCol(h native.DatasetHandle, out *uint64) int {
	return e.call("XGDMatrixNumCol", func() error {
		d, err := e.dataset(h)
		if err != nil {
			return err
		}
		*out = uint64(d.cols)
		return nil
	})
}

// datasetSnapshot is the on-disk form written by DMatrixSaveBinary.
type datasetSnapshot struct {
	Rows, Cols int
	Values     []float64
	Labels     []float32
	Weights    []float32
	BaseMargin []float32
	GroupPtr   []int
}

// DMatrixSaveBinary implements native.Library.
func (e *Engine) DMatrixSaveBinary(h native.DatasetHandle, path string, _ bool) int {
	return e.call("XGDMatrixSaveBinary", func() error {
		d, err := e.dataset(h)
		if err != nil {
			return err
		}
		snap := datasetSnapshot{
			Rows: d.rows, Cols: d.cols,
			Labels: d.labels, Weights: d.weights, BaseMargin: d.baseMargin, GroupPtr: d.groupPtr,
		}
		if d.x != nil {
			snap.Values = mat.DenseCopyOf(d.x).RawMatrix().Data
		}
		return model.SaveFile(path, datasetMagic, &snap)
	})
}

// LoadBinaryDataset reads a file written by DMatrixSaveBinary into a new handle.
func (e *Engine) LoadBinaryDataset(path string, out *native.DatasetHandle) int {
	return e.call("XGDMatrixCreateFromFile", func() error {
		var snap datasetSnapshot
		if err := model.LoadFile(path, datasetMagic, &snap); err != nil {
			return err
		}
		d := newDataset(snap.Rows, snap.Cols)
		if d.x != nil {
			if len(snap.Values) != snap.Rows*snap.Cols {
				return errors.New("corrupt dataset dump")
			}
			d.x = mat.NewDense(snap.Rows, snap.Cols, snap.Values)
			for _, v := range snap.Values {
				if !math.IsNaN(v) {
					d.nnz++
				}
			}
		}
		d.labels, d.weights, d.baseMargin, d.groupPtr = snap.Labels, snap.Weights, snap.BaseMargin, snap.GroupPtr
		*out = e.putDataset(d)
		return nil
	})
}
