package xgboost

import (
	"math"
	"sync"

	"github.com/YuminosukeSato/xgbwrap/native"
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
)

// ArrayMaxSize is the largest element count a single buffer handed to the
// native library may hold.
const ArrayMaxSize = 0x7FFFFFC7

// MissingValue is the sentinel for absent feature values.
var MissingValue = float32(math.NaN())

// DenseData is a row-major matrix.
type DenseData struct {
	Values []float32
	Rows   int
	Cols   int
}

// CSRData is a compressed sparse row matrix. RowPointers has Rows+1 entries
// and RowPointers[Rows] equals the number of stored values.
type CSRData struct {
	RowPointers []uint64
	Indices     []uint32
	Values      []float32
	Rows        int
	Cols        int
}

// DMatrixOption configures a DMatrix at construction.
type DMatrixOption func(*dmatrixOptions)

type dmatrixOptions struct {
	labels       []float32
	weights      []float32
	baseMargin   []float32
	groups       []uint32
	featureNames []string
	featureTypes []string
	missing      float32
}

// WithLabels sets one label per row.
func WithLabels(labels []float32) DMatrixOption {
	return func(o *dmatrixOptions) { o.labels = labels }
}

// WithWeights sets one weight per row.
func WithWeights(weights []float32) DMatrixOption {
	return func(o *dmatrixOptions) { o.weights = weights }
}

// WithBaseMargin sets the initial margin (rows or rows*numClass values).
func WithBaseMargin(margin []float32) DMatrixOption {
	return func(o *dmatrixOptions) { o.baseMargin = margin }
}

// WithGroupSizes sets ranking group sizes. They must sum to the row count.
func WithGroupSizes(groups []uint32) DMatrixOption {
	return func(o *dmatrixOptions) { o.groups = groups }
}

// WithFeatureNames attaches feature names.
func WithFeatureNames(names []string) DMatrixOption {
	return func(o *dmatrixOptions) { o.featureNames = names }
}

// WithFeatureTypes attaches feature types ("q" numeric, "int", "i" indicator).
func WithFeatureTypes(types []string) DMatrixOption {
	return func(o *dmatrixOptions) { o.featureTypes = types }
}

// WithMissing overrides the missing-value sentinel for dense input.
func WithMissing(missing float32) DMatrixOption {
	return func(o *dmatrixOptions) { o.missing = missing }
}

// DMatrix owns a native dataset handle.
type DMatrix struct {
	lib native.Library

	mu     sync.Mutex
	handle native.DatasetHandle
	closed bool

	labels       []float32
	featureNames []string
	featureTypes []string
}

// NewDenseDMatrix builds a dataset from a dense row-major matrix.
func NewDenseDMatrix(lib native.Library, data DenseData, opts ...DMatrixOption) (*DMatrix, error) {
	o := applyDMatrixOptions(opts)
	if data.Cols < 1 {
		return nil, errors.NewValidationError("cols", "must be at least 1", data.Cols)
	}
	if data.Rows < 0 {
		return nil, errors.NewValidationError("rows", "must be non-negative", data.Rows)
	}
	if uint64(data.Rows)*uint64(data.Cols) > ArrayMaxSize {
		return nil, errors.NewValidationError("rows*cols", "dataset is too large", uint64(data.Rows)*uint64(data.Cols))
	}
	if len(data.Values) != data.Rows*data.Cols {
		return nil, errors.NewValidationError("values", "length must equal rows*cols", len(data.Values))
	}

	var h native.DatasetHandle
	status := lib.DMatrixCreateFromMat(data.Values, uint64(data.Rows), uint64(data.Cols), o.missing, &h)
	if err := native.Check(lib, "XGDMatrixCreateFromMat", status); err != nil {
		return nil, err
	}
	return finishDMatrix(lib, h, data.Rows, o)
}

// NewCSRDMatrix builds a dataset from CSR arrays.
func NewCSRDMatrix(lib native.Library, data CSRData, opts ...DMatrixOption) (*DMatrix, error) {
	o := applyDMatrixOptions(opts)
	if err := validateCSR(data); err != nil {
		return nil, err
	}

	var h native.DatasetHandle
	status := lib.DMatrixCreateFromCSR(data.RowPointers, data.Indices, data.Values, uint64(data.Cols), &h)
	if err := native.Check(lib, "XGDMatrixCreateFromCSREx", status); err != nil {
		return nil, err
	}
	return finishDMatrix(lib, h, data.Rows, o)
}

func validateCSR(data CSRData) error {
	if data.Cols < 1 {
		return errors.NewValidationError("cols", "must be at least 1", data.Cols)
	}
	if data.Rows < 0 {
		return errors.NewValidationError("rows", "must be non-negative", data.Rows)
	}
	if len(data.RowPointers) != data.Rows+1 {
		return errors.NewValidationError("row_pointers", "length must be rows+1", len(data.RowPointers))
	}
	if len(data.Values) > ArrayMaxSize {
		return errors.NewValidationError("values", "dataset is too large", len(data.Values))
	}
	if len(data.Indices) != len(data.Values) {
		return errors.NewValidationError("indices", "length must equal the number of values", len(data.Indices))
	}
	if data.RowPointers[0] != 0 {
		return errors.NewValidationError("row_pointers", "must start at 0", data.RowPointers[0])
	}
	for i := 1; i < len(data.RowPointers); i++ {
		if data.RowPointers[i] < data.RowPointers[i-1] {
			return errors.NewValidationError("row_pointers", "must be non-decreasing", i)
		}
	}
	if nnz := data.RowPointers[data.Rows]; nnz != uint64(len(data.Values)) {
		return errors.NewValidationError("row_pointers", "last entry must equal the number of values", nnz)
	}
	for _, idx := range data.Indices {
		if int(idx) >= data.Cols {
			return errors.NewValidationError("indices", "column index out of range", idx)
		}
	}
	return nil
}

func applyDMatrixOptions(opts []DMatrixOption) *dmatrixOptions {
	o := &dmatrixOptions{missing: MissingValue}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// finishDMatrix attaches row metadata, freeing h when any step fails.
func finishDMatrix(lib native.Library, h native.DatasetHandle, rows int, o *dmatrixOptions) (*DMatrix, error) {
	d := &DMatrix{lib: lib, handle: h}
	if err := d.apply(rows, o); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *DMatrix) apply(rows int, o *dmatrixOptions) error {
	if len(o.featureNames) > 0 && len(o.featureTypes) > 0 && len(o.featureNames) != len(o.featureTypes) {
		return errors.NewValidationError("feature_types", "length must match feature_names", len(o.featureTypes))
	}
	if err := checkRowInfos(rows, o); err != nil {
		return err
	}
	infos := []struct {
		field  string
		values []float32
	}{
		{native.FieldLabel, o.labels},
		{native.FieldWeight, o.weights},
		{native.FieldBaseMargin, o.baseMargin},
	}
	for _, info := range infos {
		if info.values == nil {
			continue
		}
		if err := d.SetFloatInfo(info.field, info.values); err != nil {
			return err
		}
	}
	if o.groups != nil {
		total := 0
		for _, g := range o.groups {
			total += int(g)
		}
		if total != rows {
			return errors.NewValidationError("groups", "group sizes must sum to the row count", total)
		}
		if err := native.Check(d.lib, "XGDMatrixSetGroup", d.lib.DMatrixSetGroup(d.handle, o.groups)); err != nil {
			return err
		}
	}
	d.labels = append([]float32(nil), o.labels...)
	d.featureNames = append([]string(nil), o.featureNames...)
	d.featureTypes = append([]string(nil), o.featureTypes...)
	return nil
}

// checkRowInfos holds labels and weights to one finite value per row. A base
// margin carries one value per row and output group.
func checkRowInfos(rows int, o *dmatrixOptions) error {
	if o.labels != nil {
		if err := errors.CheckLength("labels", rows, len(o.labels)); err != nil {
			return err
		}
		if err := errors.CheckFinite("labels", o.labels); err != nil {
			return err
		}
	}
	if o.weights != nil {
		if err := errors.CheckLength("weights", rows, len(o.weights)); err != nil {
			return err
		}
		if err := errors.CheckFinite("weights", o.weights); err != nil {
			return err
		}
	}
	if o.baseMargin != nil {
		n := len(o.baseMargin)
		if rows == 0 || n == 0 || n%rows != 0 {
			if err := errors.CheckLength("base_margin", rows, n); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetFloatInfo sets "label", "weight" or "base_margin".
func (d *DMatrix) SetFloatInfo(field string, values []float32) error {
	h, err := d.live()
	if err != nil {
		return err
	}
	if err := native.Check(d.lib, "XGDMatrixSetFloatInfo", d.lib.DMatrixSetFloatInfo(h, field, values)); err != nil {
		return err
	}
	if field == native.FieldLabel {
		d.labels = append([]float32(nil), values...)
	}
	return nil
}

func (d *DMatrix) live() (native.DatasetHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errors.Wrap(errors.ErrClosed, "DMatrix")
	}
	return d.handle, nil
}

// NumRows queries the native row count.
func (d *DMatrix) NumRows() (int, error) {
	h, err := d.live()
	if err != nil {
		return 0, err
	}
	var n uint64
	if err := native.Check(d.lib, "XGDMatrixNumRow", d.lib.DMatrixNumRow(h, &n)); err != nil {
		return 0, err
	}
	return int(n), nil
}

// NumCols queries the native column count.
func (d *DMatrix) NumCols() (int, error) {
	h, err := d.live()
	if err != nil {
		return 0, err
	}
	var n uint64
	if err := native.Check(d.lib, "XGDMatrixNumCol", d.lib.DMatrixNumCol(h, &n)); err != nil {
		return 0, err
	}
	return int(n), nil
}

// Labels returns the labels supplied when the matrix was built.
func (d *DMatrix) Labels() []float32 { return d.labels }

// FeatureNames returns the attached feature names, possibly empty.
func (d *DMatrix) FeatureNames() []string { return d.featureNames }

// FeatureTypes returns the attached feature types, possibly empty.
func (d *DMatrix) FeatureTypes() []string { return d.featureTypes }

// SaveBinary dumps the dataset in the library's binary format.
func (d *DMatrix) SaveBinary(path string) error {
	h, err := d.live()
	if err != nil {
		return err
	}
	return native.Check(d.lib, "XGDMatrixSaveBinary", d.lib.DMatrixSaveBinary(h, path, true))
}

// Close frees the native handle. Later calls are no-ops.
func (d *DMatrix) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return native.Check(d.lib, "XGDMatrixFree", d.lib.DMatrixFree(d.handle))
}
