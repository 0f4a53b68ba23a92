package xgboost_test

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/xgbwrap/native/refengine"
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
	"github.com/YuminosukeSato/xgbwrap/xgboost"
)

func sparseOf(row []float32) ([]int32, []float32) {
	var indices []int32
	var values []float32
	for j, v := range row {
		if v > 0 {
			indices = append(indices, int32(j))
			values = append(values, v)
		}
	}
	return indices, values
}

func TestOneOffMatchesBatch(t *testing.T) {
	lib := refengine.New()
	f := newFixture(60, 5, 11)
	d := f.matrix(t, lib)
	b := trainBooster(t, lib, d, 8, binaryParams)
	buf := xgboost.NewPredictionBuffer()

	for _, margin := range []bool{false, true} {
		for i := 0; i < f.rows; i++ {
			row := f.row(i)
			single, err := xgboost.NewDenseDMatrix(lib, xgboost.DenseData{Values: row, Rows: 1, Cols: f.cols})
			require.NoError(t, err)
			batch, err := b.PredictBatch(single, margin, 0)
			require.NoError(t, err)
			require.NoError(t, single.Close())

			dense, err := b.PredictOneOff(xgboost.DenseRow(row), buf, margin, 0)
			require.NoError(t, err)
			require.Len(t, dense, 1)
			assert.InDelta(t, batch[0], dense[0], 1e-5, "dense row %d", i)

			// A sparse encoding that keeps only positive values must agree with a
			// dense row carrying NaN in the other positions.
			indices, values := sparseOf(row)
			sparse, err := b.PredictOneOff(xgboost.SparseRow(indices, values, f.cols), buf, margin, 0)
			require.NoError(t, err)
			got := sparse[0]

			masked := make([]float32, f.cols)
			for j, v := range row {
				masked[j] = v
				if v <= 0 {
					masked[j] = float32(math.NaN())
				}
			}
			want, err := b.PredictOneOff(xgboost.DenseRow(masked), buf, margin, 0)
			require.NoError(t, err)
			assert.InDelta(t, want[0], got, 1e-5, "sparse row %d", i)
		}
	}
}

func TestOneOffRoundTrip(t *testing.T) {
	lib := refengine.New()
	f := newFixture(80, 4, 5)
	d := f.matrix(t, lib)
	b := trainBooster(t, lib, d, 6, binaryParams)

	raw, err := b.SaveRaw()
	require.NoError(t, err)
	loaded, err := xgboost.LoadBooster(lib, raw, f.cols)
	require.NoError(t, err)
	defer loaded.Close()

	before := xgboost.NewPredictionBuffer()
	after := xgboost.NewPredictionBuffer()
	for i := 0; i < f.rows; i++ {
		want, err := b.PredictOneOff(xgboost.DenseRow(f.row(i)), before, false, 0)
		require.NoError(t, err)
		got, err := loaded.PredictOneOff(xgboost.DenseRow(f.row(i)), after, false, 0)
		require.NoError(t, err)
		assert.Equal(t, math.Float32bits(want[0]), math.Float32bits(got[0]), "row %d", i)
	}
}

func TestPredictionBufferMonotonic(t *testing.T) {
	lib := refengine.New()
	f := newFixture(40, 60, 3)
	d := f.matrix(t, lib)
	b := trainBooster(t, lib, d, 2, binaryParams)
	buf := xgboost.NewPredictionBuffer()

	var capacities []xgboost.BufferCapacity
	for _, nnz := range []int{3, 50, 10} {
		indices := make([]int32, nnz)
		values := make([]float32, nnz)
		for j := range indices {
			indices[j] = int32(j)
			values[j] = f.x[j]
		}
		_, err := b.PredictOneOff(xgboost.SparseRow(indices, values, f.cols), buf, false, 0)
		require.NoError(t, err)
		capacities = append(capacities, buf.Capacity())
	}

	assert.GreaterOrEqual(t, capacities[0].Entries, 3)
	assert.GreaterOrEqual(t, capacities[1].Entries, 50)
	assert.GreaterOrEqual(t, capacities[2].Entries, capacities[1].Entries)
	assert.GreaterOrEqual(t, capacities[2].Scratch, capacities[1].Scratch)
	assert.GreaterOrEqual(t, capacities[1].Scratch, f.cols)
}

func TestOneOffEmptyRow(t *testing.T) {
	lib := refengine.New()
	f := newFixture(30, 2, 1)
	d := f.matrix(t, lib)
	b := trainBooster(t, lib, d, 2, binaryParams)

	out, err := b.PredictOneOff(xgboost.SparseRow(nil, nil, 2), xgboost.NewPredictionBuffer(), false, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0] > 0 && out[0] < 1)
}

func TestOneOffRowValidation(t *testing.T) {
	lib := refengine.New()
	f := newFixture(30, 3, 1)
	d := f.matrix(t, lib)
	b := trainBooster(t, lib, d, 1, binaryParams)
	buf := xgboost.NewPredictionBuffer()

	_, err := b.PredictOneOff(xgboost.SparseRow([]int32{0, 1}, []float32{1}, 3), buf, false, 0)
	assert.True(t, errors.IsValidation(err))
	_, err = b.PredictOneOff(xgboost.SparseRow([]int32{3}, []float32{1}, 3), buf, false, 0)
	assert.True(t, errors.IsValidation(err))
	_, err = b.PredictOneOff(xgboost.SparseRow([]int32{-1}, []float32{1}, 0), buf, false, 0)
	assert.True(t, errors.IsValidation(err))
	_, err = b.PredictOneOff(xgboost.DenseRow(f.row(0)), nil, false, 0)
	assert.True(t, errors.IsValidation(err))

	// The booster and buffer stay usable after a failed call.
	out, err := b.PredictOneOff(xgboost.DenseRow(f.row(0)), buf, false, 0)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestOneOffRejectsWideRows(t *testing.T) {
	lib := refengine.New()
	f := newFixture(40, 5, 3)
	d := f.matrix(t, lib)
	b := trainBooster(t, lib, d, 2, binaryParams)
	buf := xgboost.NewPredictionBuffer()

	wide := append(append([]float32(nil), f.row(0)...), 1, 2, 3)
	wideMatrix, err := xgboost.NewDenseDMatrix(lib, xgboost.DenseData{Values: wide, Rows: 1, Cols: len(wide)})
	require.NoError(t, err)
	defer wideMatrix.Close()
	_, err = b.PredictBatch(wideMatrix, false, 0)
	require.Error(t, err)

	tests := []struct {
		name string
		row  xgboost.Row
	}{
		{"dense", xgboost.DenseRow(wide)},
		{"sparse length", xgboost.SparseRow([]int32{0, 6}, []float32{1, 1}, len(wide))},
		{"negative length", xgboost.Row{Values: []float32{1}, Indices: []int32{0}, Length: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.PredictOneOff(tt.row, buf, false, 0)
			var verr *errors.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, "features", verr.ParamName)
		})
	}

	// Narrower rows are still padded with missing values.
	out, err := b.PredictOneOff(xgboost.DenseRow(f.row(0)[:3]), buf, false, 0)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestOneOffStockLibrary(t *testing.T) {
	engine := refengine.New()
	lib := stockLibrary{Library: engine}
	f := newFixture(40, 3, 9)
	d := f.matrix(t, lib)
	b := trainBooster(t, lib, d, 3, binaryParams)

	_, err := b.PredictOneOff(xgboost.DenseRow(f.row(0)), xgboost.NewPredictionBuffer(), false, 0)
	assert.True(t, errors.Is(err, errors.ErrExtendedLibraryRequired))

	fallback := trainBooster(t, lib, d, 3, binaryParams, xgboost.WithBatchFallback())
	batch, err := fallback.PredictBatch(d, false, 0)
	require.NoError(t, err)
	buf := xgboost.NewPredictionBuffer()
	for i := 0; i < f.rows; i++ {
		got, err := fallback.PredictOneOff(xgboost.DenseRow(f.row(i)), buf, false, 0)
		require.NoError(t, err)
		assert.InDelta(t, batch[i], got[0], 1e-6)
	}

	indices, values := sparseOf(f.row(0))
	_, err = fallback.PredictOneOff(xgboost.SparseRow(indices, values, f.cols), buf, false, 0)
	require.NoError(t, err)

	datasets, _ := engine.LiveHandles()
	assert.Equal(t, 1, datasets, "temporary matrices are freed")
}

func TestOneOffConcurrentBuffers(t *testing.T) {
	lib := refengine.New()
	f := newFixture(100, 4, 21)
	d := f.matrix(t, lib)
	b := trainBooster(t, lib, d, 5, binaryParams)
	want, err := b.PredictBatch(d, false, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := xgboost.NewPredictionBuffer()
			for i := 0; i < f.rows; i++ {
				out, err := b.PredictOneOff(xgboost.DenseRow(f.row(i)), buf, false, 0)
				if err != nil {
					errs <- err
					return
				}
				if math.Abs(float64(out[0]-want[i])) > 1e-5 {
					errs <- errors.Newf("row %d: got %g want %g", i, out[0], want[i])
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestOneOffMulticlass(t *testing.T) {
	lib := refengine.New()
	var x, y []float32
	for i := 0; i < 60; i++ {
		x = append(x, float32(i), float32(i%7))
		y = append(y, float32(i/20))
	}
	d, err := xgboost.NewDenseDMatrix(lib, xgboost.DenseData{Values: x, Rows: 60, Cols: 2}, xgboost.WithLabels(y))
	require.NoError(t, err)
	defer d.Close()
	b := trainBooster(t, lib, d, 5, xgboost.Params{
		{Key: "objective", Value: "multi:softprob"},
		{Key: "num_class", Value: "3"},
	})

	probs, err := b.PredictOneOff(xgboost.DenseRow([]float32{45, 3}), xgboost.NewPredictionBuffer(), false, 0)
	require.NoError(t, err)
	require.Len(t, probs, 3)
	assert.InDelta(t, 1, probs[0]+probs[1]+probs[2], 1e-5)
	assert.Greater(t, probs[2], probs[0])
}
