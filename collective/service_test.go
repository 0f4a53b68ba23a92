package collective_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/xgbwrap/collective"
	"github.com/YuminosukeSato/xgbwrap/native"
	"github.com/YuminosukeSato/xgbwrap/native/refengine"
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
	"github.com/YuminosukeSato/xgbwrap/pkg/log"
)

type stockLibrary struct {
	native.Library
}

func (stockLibrary) Capabilities() native.Capabilities { return native.Capabilities{} }

func TestLocalServiceIsInert(t *testing.T) {
	s := collective.Local()
	require.NoError(t, s.Init("rabit_world_size=4"))
	assert.False(t, s.Active())
	assert.Equal(t, 0, s.Rank())
	assert.Equal(t, 1, s.WorldSize())
	assert.False(t, s.IsDistributed())
	assert.Equal(t, 0, s.VersionNumber())
	assert.Nil(t, s.Library())

	version, err := s.LoadCheckpoint(native.BoosterHandle(1))
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.NoError(t, s.SaveCheckpoint(native.BoosterHandle(1)))
	assert.NoError(t, s.CheckVersion(7))
	assert.NoError(t, s.Shutdown())
}

func TestNewRequiresCapability(t *testing.T) {
	_, err := collective.New(stockLibrary{Library: refengine.New()})
	assert.True(t, errors.Is(err, errors.ErrCollectiveUnavailable))
}

func TestServiceLifecycle(t *testing.T) {
	lib := refengine.New()
	logger, _ := log.NewTestLogger(log.LevelDebug)
	s, err := collective.New(lib, collective.WithLogger(logger))
	require.NoError(t, err)
	assert.False(t, s.Active())

	require.NoError(t, s.Init("rabit_world_size=2", "rabit_task_id=1"))
	require.NoError(t, s.Init("rabit_world_size=8"), "second Init is a no-op")
	assert.True(t, s.Active())
	assert.Equal(t, 1, s.Rank())
	assert.Equal(t, 2, s.WorldSize())
	assert.True(t, s.IsDistributed())
	assert.NotEmpty(t, s.ProcessorName())
	assert.True(t, logger.ContainsMessage("collective initialized"))

	var d native.DatasetHandle
	require.Zero(t, lib.DMatrixCreateFromMat([]float32{1, 2}, 2, 1, float32(math.NaN()), &d))
	require.Zero(t, lib.DMatrixSetFloatInfo(d, native.FieldLabel, []float32{0, 1}))
	var b native.BoosterHandle
	require.Zero(t, lib.BoosterCreate([]native.DatasetHandle{d}, &b))

	require.NoError(t, s.SaveCheckpoint(b))
	assert.Equal(t, 1, s.VersionNumber())
	assert.NoError(t, s.CheckVersion(1))
	assert.Error(t, s.CheckVersion(2))

	version, err := s.LoadCheckpoint(b)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	require.NoError(t, s.Shutdown())
	require.NoError(t, s.Shutdown())
	assert.False(t, s.Active())
}

func TestInitFailureSurfacesNativeError(t *testing.T) {
	s, err := collective.New(refengine.New())
	require.NoError(t, err)
	err = s.Init("rabit_world_size=2", "rabit_task_id=5")
	require.Error(t, err)
	assert.True(t, errors.IsNativeCall(err))
	assert.False(t, s.Active())
}
