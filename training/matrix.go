package training

import (
	"math"

	"github.com/YuminosukeSato/xgbwrap/native"
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
	"github.com/YuminosukeSato/xgbwrap/xgboost"
)

// ProbeRows is the default number of rows inspected by the density probe.
const ProbeRows = 10

// matrixData is the training set gathered from a RowSource before it is
// handed to the native library.
type matrixData struct {
	sparse bool
	rows   int
	cols   int

	dense []float32

	indptr  []uint64
	indices []uint32
	values  []float32

	labels  []float32
	weights []float32
	groups  []uint32

	dropped int
	total   int
}

// probeDensity reads up to n rows and reports whether any is sparse.
func probeDensity(src RowSource, n int) (bool, error) {
	cur, err := src.Cursor()
	if err != nil {
		return false, err
	}
	defer cur.Close()
	for i := 0; i < n && cur.Next(); i++ {
		if cur.Example().Sparse() {
			return true, nil
		}
	}
	return false, cur.Err()
}

// groupBuilder turns a row-ordered group id column into group sizes.
type groupBuilder struct {
	sizes []uint32
	last  uint64
	seen  map[uint64]struct{}
}

func (g *groupBuilder) add(id uint64) error {
	if id > math.MaxUint32 {
		return errors.NewValidationError("group", "group id does not fit in uint32", id)
	}
	if len(g.sizes) > 0 && id == g.last {
		g.sizes[len(g.sizes)-1]++
		return nil
	}
	if g.seen == nil {
		g.seen = make(map[uint64]struct{})
	}
	if _, ok := g.seen[id]; ok {
		return errors.NewValidationError("group", "group ids are not contiguous", id)
	}
	g.seen[id] = struct{}{}
	g.last = id
	g.sizes = append(g.sizes, 1)
	return nil
}

// groupSizes aggregates a group id column. [1,1,1,2,2,3] -> [3,2,1].
func groupSizes(ids []uint64) ([]uint32, error) {
	var g groupBuilder
	for _, id := range ids {
		if err := g.add(id); err != nil {
			return nil, err
		}
	}
	return g.sizes, nil
}

// fillMatrix makes one pass over src. Rows with a NaN label are skipped.
// rows is the upper bound used for pre-allocation.
func fillMatrix(src RowSource, sparse bool, rows int) (*matrixData, error) {
	nf := src.NumFeatures()
	if nf < 1 {
		return nil, errors.NewValidationError("num_features", "must be at least 1", nf)
	}
	m := &matrixData{sparse: sparse, cols: nf}
	if sparse {
		capacity := 2 * rows
		if capacity > xgboost.ArrayMaxSize {
			capacity = xgboost.ArrayMaxSize
		}
		m.indptr = make([]uint64, 1, rows+1)
		m.indices = make([]uint32, 0, capacity)
		m.values = make([]float32, 0, capacity)
	} else {
		if size := uint64(nf) * uint64(rows); size > xgboost.ArrayMaxSize {
			return nil, errors.NewValidationError("rows*features", "dense dataset is too large", size)
		}
		m.dense = make([]float32, 0, nf*rows)
	}
	m.labels = make([]float32, 0, rows)
	if src.HasWeights() {
		m.weights = make([]float32, 0, rows)
	}

	cur, err := src.Cursor()
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var groups groupBuilder
	maxIndex := -1
	for cur.Next() {
		ex := cur.Example()
		m.total++
		if math.IsNaN(float64(ex.Label)) {
			m.dropped++
			continue
		}
		if err := checkExample(ex, nf); err != nil {
			return nil, err
		}
		if src.HasGroups() {
			if err := groups.add(ex.Group); err != nil {
				return nil, err
			}
		}
		if sparse {
			top, err := m.appendSparse(ex)
			if err != nil {
				return nil, err
			}
			if top > maxIndex {
				maxIndex = top
			}
		} else {
			m.appendDense(ex, nf)
		}
		m.labels = append(m.labels, ex.Label)
		if m.weights != nil {
			m.weights = append(m.weights, ex.Weight)
		}
		m.rows++
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if src.HasGroups() {
		m.groups = groups.sizes
	}
	if sparse {
		m.trim()
		// The native CSR constructor infers the width from the largest index.
		m.cols = maxIndex + 1
		if m.cols < 1 {
			m.cols = 1
		}
	}
	return m, nil
}

func checkExample(ex Example, nf int) error {
	if !ex.Sparse() {
		if len(ex.Values) != nf {
			return errors.NewValidationError("values", "dense row length must equal the feature count", len(ex.Values))
		}
		return nil
	}
	if len(ex.Indices) != len(ex.Values) {
		return errors.NewValidationError("indices", "length must equal len(values)", len(ex.Indices))
	}
	for _, idx := range ex.Indices {
		if idx < 0 || int(idx) >= nf {
			return errors.NewValidationError("indices", "feature index out of range", idx)
		}
	}
	return nil
}

func (m *matrixData) appendDense(ex Example, nf int) {
	if !ex.Sparse() {
		m.dense = append(m.dense, ex.Values...)
		return
	}
	start := len(m.dense)
	nan := float32(math.NaN())
	for j := 0; j < nf; j++ {
		m.dense = append(m.dense, nan)
	}
	for i, idx := range ex.Indices {
		m.dense[start+int(idx)] = ex.Values[i]
	}
}

// appendSparse adds the non-missing entries of ex and returns the largest
// feature index written, or -1.
func (m *matrixData) appendSparse(ex Example) (int, error) {
	need := len(m.values) + len(ex.Values)
	if need > cap(m.values) {
		if err := m.grow(need); err != nil {
			return -1, err
		}
	}
	top := -1
	for i, v := range ex.Values {
		if math.IsNaN(float64(v)) {
			continue
		}
		idx := i
		if ex.Sparse() {
			idx = int(ex.Indices[i])
		}
		m.indices = append(m.indices, uint32(idx))
		m.values = append(m.values, v)
		if idx > top {
			top = idx
		}
	}
	m.indptr = append(m.indptr, uint64(len(m.values)))
	return top, nil
}

// grow doubles the entry capacity until need fits, capped at ArrayMaxSize.
func (m *matrixData) grow(need int) error {
	if need > xgboost.ArrayMaxSize {
		return errors.NewValidationError("nonzero", "sparse dataset is too large", need)
	}
	capacity := cap(m.values)
	if capacity == 0 {
		capacity = 1
	}
	for capacity < need {
		capacity *= 2
	}
	if capacity > xgboost.ArrayMaxSize {
		capacity = xgboost.ArrayMaxSize
	}
	indices := make([]uint32, len(m.indices), capacity)
	copy(indices, m.indices)
	values := make([]float32, len(m.values), capacity)
	copy(values, m.values)
	m.indices, m.values = indices, values
	return nil
}

// trim reallocates the entry arrays when less than 75% of them is used.
func (m *matrixData) trim() {
	if len(m.values)*4 >= cap(m.values)*3 {
		return
	}
	m.indices = append(make([]uint32, 0, len(m.indices)), m.indices...)
	m.values = append(make([]float32, 0, len(m.values)), m.values...)
}

// nonZero is the number of stored entries (sparse) or cells (dense).
func (m *matrixData) nonZero() int {
	if m.sparse {
		return len(m.values)
	}
	return len(m.dense)
}

// build creates the native DMatrix. labels replaces the gathered labels.
func (m *matrixData) build(lib native.Library, labels []float32) (*xgboost.DMatrix, error) {
	opts := []xgboost.DMatrixOption{xgboost.WithLabels(labels)}
	if m.weights != nil {
		opts = append(opts, xgboost.WithWeights(m.weights))
	}
	if m.groups != nil {
		opts = append(opts, xgboost.WithGroupSizes(m.groups))
	}
	if m.sparse {
		return xgboost.NewCSRDMatrix(lib, xgboost.CSRData{
			RowPointers: m.indptr,
			Indices:     m.indices,
			Values:      m.values,
			Rows:        m.rows,
			Cols:        m.cols,
		}, opts...)
	}
	return xgboost.NewDenseDMatrix(lib, xgboost.DenseData{Values: m.dense, Rows: m.rows, Cols: m.cols}, opts...)
}
