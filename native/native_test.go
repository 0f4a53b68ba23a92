package native_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/xgbwrap/native"
	"github.com/YuminosukeSato/xgbwrap/native/refengine"
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
)

// stockLibrary hides the extended entry points of an engine, the way a
// stock build of the native library would.
type stockLibrary struct {
	native.Library
}

func (stockLibrary) Capabilities() native.Capabilities { return native.Capabilities{} }

func TestCheck(t *testing.T) {
	lib := refengine.New()
	require.NoError(t, native.Check(lib, "XGDMatrixFree", 0))

	status := lib.DMatrixFree(native.DatasetHandle(42))
	err := native.Check(lib, "XGDMatrixFree", status)
	require.Error(t, err)

	var nativeErr *errors.NativeCallError
	require.True(t, errors.As(err, &nativeErr))
	assert.Equal(t, "XGDMatrixFree", nativeErr.Op)
	assert.Equal(t, -1, nativeErr.Status)
	assert.Contains(t, nativeErr.Message, "invalid DMatrix handle 42")
}

func TestCapabilityProbe(t *testing.T) {
	lib := refengine.New()

	ext, err := native.OneOff(lib)
	require.NoError(t, err)
	assert.NotNil(t, ext)

	col, err := native.Collective(lib)
	require.NoError(t, err)
	assert.NotNil(t, col)

	stock := stockLibrary{Library: lib}
	_, err = native.OneOff(stock)
	assert.True(t, errors.Is(err, errors.ErrExtendedLibraryRequired))
	_, err = native.Collective(stock)
	assert.True(t, errors.Is(err, errors.ErrCollectiveUnavailable))
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, native.Backends(), native.BackendReference)

	lib, err := native.Open(native.BackendReference)
	require.NoError(t, err)
	assert.Equal(t, native.BackendReference, lib.Name())

	def, err := native.OpenDefault()
	require.NoError(t, err)
	assert.NotNil(t, def)

	_, err = native.Open("cuda")
	assert.True(t, errors.IsValidation(err))

	native.Register("failing", func() (native.Library, error) {
		return nil, errors.New("library not found")
	})
	_, err = native.Open("failing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `opening backend "failing"`)
}

func TestEntries(t *testing.T) {
	buf := make([]byte, native.EntriesLen(2))
	assert.Len(t, buf, 16)

	native.PutEntry(buf, 0, 3, 1.25)
	native.PutEntry(buf, 1, 0xFFFFFFFF, float32(math.Inf(-1)))

	idx, v := native.GetEntry(buf, 0)
	assert.Equal(t, uint32(3), idx)
	assert.Equal(t, float32(1.25), v)
	assert.Equal(t, []byte{3, 0, 0, 0}, buf[:4], "index is little-endian")

	idx, v = native.GetEntry(buf, 1)
	assert.Equal(t, uint32(0xFFFFFFFF), idx)
	assert.True(t, math.IsInf(float64(v), -1))
}

func TestIsMissing(t *testing.T) {
	nan := float32(math.NaN())
	assert.True(t, native.IsMissing(nan, nan))
	assert.False(t, native.IsMissing(0, nan))
	assert.True(t, native.IsMissing(-999, -999))
	assert.False(t, native.IsMissing(nan, -999))
}
