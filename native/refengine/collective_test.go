package refengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/xgbwrap/native"
)

func TestRabitInit(t *testing.T) {
	e := New()
	assert.Equal(t, 1, e.RabitGetWorldSize())
	assert.False(t, e.RabitIsDistributed())

	ok(t, e, e.RabitInit([]string{"rabit_world_size=4", "rabit_task_id=2", "ignored"}))
	assert.Equal(t, 2, e.RabitGetRank())
	assert.Equal(t, 4, e.RabitGetWorldSize())
	assert.True(t, e.RabitIsDistributed())
	assert.NotEmpty(t, e.RabitGetProcessorName())

	assert.Equal(t, -1, e.RabitInit([]string{"rabit_world_size=2", "rabit_task_id=2"}))
	assert.Contains(t, e.GetLastError(), "invalid rank 2")
	assert.Equal(t, -1, e.RabitInit([]string{"rabit_world_size=x"}))

	ok(t, e, e.RabitFinalize())
	assert.Equal(t, 1, e.RabitGetWorldSize())
	assert.Equal(t, 0, e.RabitGetRank())
}

func TestRabitCheckpointVersions(t *testing.T) {
	e := New()
	ok(t, e, e.RabitInit(nil))
	x, y := stepData(20)
	d := dense(t, e, x, 20, 1)
	ok(t, e, e.DMatrixSetFloatInfo(d, native.FieldLabel, y))

	var b native.BoosterHandle
	ok(t, e, e.BoosterCreate([]native.DatasetHandle{d}, &b))

	var version int
	ok(t, e, e.BoosterLoadRabitCheckpoint(b, &version))
	assert.Zero(t, version)

	for i := 0; i < 2; i++ {
		ok(t, e, e.BoosterUpdateOneIter(b, i, d))
		ok(t, e, e.BoosterSaveRabitCheckpoint(b))
		ok(t, e, e.BoosterSaveRabitCheckpoint(b))
	}
	assert.Equal(t, 4, e.RabitVersionNumber())
	want := predict(t, e, b, d, native.PredictNormal, 0)

	var resumed native.BoosterHandle
	ok(t, e, e.BoosterCreate([]native.DatasetHandle{d}, &resumed))
	ok(t, e, e.BoosterLoadRabitCheckpoint(resumed, &version))
	assert.Equal(t, 4, version)

	var rounds int
	ok(t, e, e.BoosterBoostedRounds(resumed, &rounds))
	assert.Equal(t, 2, rounds)
	assert.Equal(t, want, predict(t, e, resumed, d, native.PredictNormal, 0))

	ok(t, e, e.RabitFinalize())
	assert.Zero(t, e.RabitVersionNumber())

	ok(t, e, e.BoosterLoadRabitCheckpoint(resumed, &version))
	assert.Zero(t, version)
	require.Equal(t, -1, e.BoosterSaveRabitCheckpoint(native.BoosterHandle(999)))
}
