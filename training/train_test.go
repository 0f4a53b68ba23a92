package training

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/xgbwrap/collective"
	"github.com/YuminosukeSato/xgbwrap/native/refengine"
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
	"github.com/YuminosukeSato/xgbwrap/pkg/log"
	"github.com/YuminosukeSato/xgbwrap/xgboost"
)

// recorder captures what a session reports to its callbacks.
type recorder struct {
	states     []State
	iterations []int
	evaluated  []int
	start      int
	params     xgboost.Params
	failAt     int
}

func newRecorder() *recorder { return &recorder{failAt: -1} }

func (r *recorder) Init(env *CallbackEnv) error {
	r.states = append(r.states, env.State)
	r.start = env.StartIteration
	r.params = env.Params.Clone()
	return nil
}

func (r *recorder) BeforeIteration(env *CallbackEnv) error {
	r.states = append(r.states, env.State)
	return nil
}

func (r *recorder) AfterIteration(env *CallbackEnv) error {
	r.iterations = append(r.iterations, env.Iteration)
	if env.Evaluated {
		r.evaluated = append(r.evaluated, env.Iteration)
	}
	if env.Iteration == r.failAt {
		return errors.New("stop requested")
	}
	return nil
}

func (r *recorder) Finalize(env *CallbackEnv) error {
	r.states = append(r.states, env.State)
	return nil
}

// panicking fails the session by panicking after the first iteration.
type panicking struct{ *recorder }

func (p panicking) AfterIteration(env *CallbackEnv) error {
	panic("callback exploded")
}

func regressionSource(n int, seed int64) *SliceSource {
	rng := rand.New(rand.NewSource(seed))
	src := &SliceSource{Features: 3}
	for i := 0; i < n; i++ {
		x := []float32{float32(rng.Float64()), float32(rng.Float64()), float32(rng.Float64())}
		src.Rows = append(src.Rows, Example{Label: 2*x[0] - x[1], Values: x})
	}
	return src
}

func binarySource(neg, pos int) *SliceSource {
	src := &SliceSource{Features: 2}
	for i := 0; i < neg+pos; i++ {
		label := float32(0)
		if i >= neg {
			label = 1
		}
		src.Rows = append(src.Rows, Example{Label: label, Values: []float32{label + 0.1*float32(i%3), float32(i % 5)}})
	}
	return src
}

func quietConfig(rounds int) Config {
	cfg := DefaultConfig()
	cfg.Rounds = rounds
	cfg.Tree.MaxDepth = 3
	return cfg
}

func TestTrainRegression(t *testing.T) {
	lib := refengine.New()
	src := regressionSource(80, 1)
	rec := newRecorder()

	m, err := Train(lib, src, Regression, quietConfig(5), WithCallbacks(rec), WithLogger(log.Nop()))
	require.NoError(t, err)
	defer m.Close()

	assert.NotEmpty(t, m.Raw)
	assert.Equal(t, 3, m.NumFeaturesNative)
	assert.Equal(t, 3, m.NumFeaturesCaller)
	assert.Equal(t, 5, m.NumTrees)
	assert.Equal(t, Regression, m.Task)
	assert.Nil(t, m.ClassMapping)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, rec.iterations)
	assert.Empty(t, rec.evaluated, "verbose is off")
	assert.Equal(t, MatrixBuilt, rec.states[0])
	assert.Equal(t, Iterating, rec.states[1])
	assert.Equal(t, Finalized, rec.states[len(rec.states)-1])
	objective, _ := rec.params.Get("objective")
	assert.Equal(t, "reg:linear", objective)

	rounds, err := m.Booster.BoostedRounds()
	require.NoError(t, err)
	assert.Equal(t, 5, rounds)

	datasets, boosters := lib.LiveHandles()
	assert.Zero(t, datasets, "the training matrix is released")
	assert.Equal(t, 1, boosters)
}

func TestTrainScalePosWeight(t *testing.T) {
	lib := refengine.New()
	cfg := quietConfig(2)
	cfg.Tree.ScalePosWeight = 0
	rec := newRecorder()

	m, err := Train(lib, binarySource(80, 20), BinaryClassification, cfg, WithCallbacks(rec))
	require.NoError(t, err)
	defer m.Close()

	v, _ := rec.params.Get("scale_pos_weight")
	assert.Equal(t, "4", v)
	objective, _ := rec.params.Get("objective")
	assert.Equal(t, "binary:logistic", objective)
}

func TestTrainMulticlass(t *testing.T) {
	lib := refengine.New()
	src := &SliceSource{Features: 2}
	for i := 0; i < 60; i++ {
		label := []float32{2, 5, 9}[i%3]
		src.Rows = append(src.Rows, Example{Label: label, Values: []float32{label, float32(i % 4)}})
	}
	cfg := quietConfig(3)
	cfg.Verbose = true

	m, err := Train(lib, src, MulticlassClassification, cfg)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 3, m.NumClass)
	assert.Equal(t, []int32{2, 5, 9}, m.ClassMapping)
	assert.True(t, m.IsFloatLabel)

	d, err := xgboost.NewDenseDMatrix(lib, xgboost.DenseData{Values: []float32{9, 1}, Rows: 1, Cols: 2})
	require.NoError(t, err)
	defer d.Close()
	probs, err := m.Booster.PredictBatch(d, false, 0)
	require.NoError(t, err)
	require.Len(t, probs, 3)
	assert.Greater(t, probs[2], probs[0], "label 9 maps to native class 2")
}

func TestTrainRanking(t *testing.T) {
	lib := refengine.New()
	src := &SliceSource{Features: 2, Grouped: true}
	for q := 0; q < 6; q++ {
		for r := 0; r < 5; r++ {
			rel := float32(r % 3)
			src.Rows = append(src.Rows, Example{Label: rel, Group: uint64(q + 10), Values: []float32{rel, float32(q)}})
		}
	}
	m, err := Train(lib, src, Ranking, quietConfig(3))
	require.NoError(t, err)
	require.NoError(t, m.Close())

	src.Rows[len(src.Rows)-1].Group = 10
	_, err = Train(lib, src, Ranking, quietConfig(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "group ids are not contiguous")

	src.Grouped = false
	_, err = Train(lib, src, Ranking, quietConfig(3))
	assert.True(t, errors.IsValidation(err))

	datasets, boosters := lib.LiveHandles()
	assert.Zero(t, datasets)
	assert.Zero(t, boosters, "failed sessions free their handles")
}

func TestTrainRecoversCallbackPanic(t *testing.T) {
	lib := refengine.New()
	_, err := Train(lib, regressionSource(30, 2), Regression, quietConfig(3),
		WithCallbacks(panicking{newRecorder()}), WithLogger(log.Nop()))

	var perr *errors.PanicError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, "training.Train", perr.Operation)

	datasets, boosters := lib.LiveHandles()
	assert.Zero(t, datasets)
	assert.Zero(t, boosters, "the booster is freed after a panic")
}

func TestTrainSparseSource(t *testing.T) {
	lib := refengine.New()
	src := &SliceSource{Features: 10}
	for i := 0; i < 40; i++ {
		v := float32(i % 2)
		src.Rows = append(src.Rows, Example{Label: v, Values: []float32{v, 1}, Indices: []int32{int32(i % 3), 5}})
	}
	m, err := Train(lib, src, BinaryClassification, quietConfig(2))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 6, m.NumFeaturesNative)
	assert.Equal(t, 10, m.NumFeaturesCaller)
	assert.Equal(t, 6, m.Booster.NumFeatures())
}

func TestTrainDropsMissingLabels(t *testing.T) {
	lib := refengine.New()
	src := regressionSource(30, 2)
	src.Rows[3].Label = float32(math.NaN())
	src.Rows[7].Label = float32(math.NaN())

	var warnings []error
	errors.SetZerologWarnFunc(func(w error) { warnings = append(warnings, w) })
	defer errors.SetZerologWarnFunc(nil)

	logger, buf := log.NewTestLogger(log.LevelDebug)
	m, err := Train(lib, src, Regression, quietConfig(1), WithLogger(logger))
	require.NoError(t, err)
	defer m.Close()

	require.Len(t, warnings, 1)
	var dropped *errors.DroppedRowsWarning
	require.True(t, errors.As(warnings[0], &dropped))
	assert.Equal(t, 2, dropped.Count)
	assert.Equal(t, 30, dropped.Total)
	assert.True(t, logger.ContainsField(log.DroppedRowsKey, float64(2)), buf.String())
	assert.True(t, logger.ContainsField(log.SamplesKey, float64(28)), buf.String())
}

func TestTrainEmpty(t *testing.T) {
	lib := refengine.New()
	src := &SliceSource{Features: 1, Rows: []Example{{Label: float32(math.NaN()), Values: []float32{1}}}}
	_, err := Train(lib, src, Regression, quietConfig(1))
	assert.True(t, errors.Is(err, errors.ErrEmptyData))

	cfg := quietConfig(0)
	_, err = Train(lib, regressionSource(5, 1), Regression, cfg)
	assert.True(t, errors.IsValidation(err))
}

func TestEvaluationCadence(t *testing.T) {
	lib := refengine.New()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		d := time.Duration(calls) * time.Second
		if calls >= 57 {
			d += 3 * time.Minute
		}
		return t0.Add(d)
	}

	cfg := quietConfig(200)
	cfg.Tree.MaxDepth = 2
	cfg.Verbose = true
	rec := newRecorder()
	history := NewHistory()
	m, err := Train(lib, regressionSource(40, 3), Regression, cfg,
		WithCallbacks(rec, history), withClock(clock))
	require.NoError(t, err)
	defer m.Close()

	want := []int{}
	for i := 0; i < 200; i += 10 {
		want = append(want, i)
		if i == 50 {
			want = append(want, 55)
		}
	}
	want = append(want, 199)
	assert.Equal(t, want, rec.evaluated)

	points := history.Points()
	require.Len(t, points, len(want))
	assert.Equal(t, "Train-rmse", history.MetricName())
	assert.Less(t, points[len(points)-1].Metric, points[0].Metric)

	path := filepath.Join(t.TempDir(), "curve.png")
	require.NoError(t, history.SavePlot(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestHistoryWithoutPoints(t *testing.T) {
	assert.Error(t, NewHistory().SavePlot(filepath.Join(t.TempDir(), "empty.png")))
	assert.Equal(t, "Train-logloss", metricName("[3]\tTrain-logloss:0.25"))
}

func TestTrainResumesFromCheckpoint(t *testing.T) {
	lib := refengine.New()
	svc, err := collective.New(lib, collective.WithLogger(log.Nop()))
	require.NoError(t, err)
	require.NoError(t, svc.Init("rabit_world_size=2", "rabit_task_id=0"))
	defer svc.Shutdown()

	src := regressionSource(50, 4)
	failing := newRecorder()
	failing.failAt = 2
	_, err = Train(lib, src, Regression, quietConfig(6), WithCollective(svc), WithCallbacks(failing))
	require.Error(t, err)
	assert.Equal(t, 6, svc.VersionNumber(), "two checkpoints per finished iteration")

	rec := newRecorder()
	m, err := Train(lib, src, Regression, quietConfig(6), WithCollective(svc), WithCallbacks(rec))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 3, rec.start)
	assert.Equal(t, []int{3, 4, 5}, rec.iterations)
	assert.Equal(t, 12, svc.VersionNumber())
	rounds, err := m.Booster.BoostedRounds()
	require.NoError(t, err)
	assert.Equal(t, 6, rounds)
}

func TestTrainRejectsCheckpointOutsideDistributedRun(t *testing.T) {
	lib := refengine.New()
	svc, err := collective.New(lib, collective.WithLogger(log.Nop()))
	require.NoError(t, err)
	require.NoError(t, svc.Init())
	defer svc.Shutdown()

	m, err := Train(lib, regressionSource(20, 5), Regression, quietConfig(2), WithCollective(svc))
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, err = Train(lib, regressionSource(20, 5), Regression, quietConfig(2), WithCollective(svc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside a distributed run")
}

func TestTrainContinuation(t *testing.T) {
	lib := refengine.New()
	src := regressionSource(60, 6)
	first, err := Train(lib, src, Regression, quietConfig(3))
	require.NoError(t, err)
	defer first.Close()

	second, err := Train(lib, src, Regression, quietConfig(2), WithInitModel(first.Booster))
	require.NoError(t, err)
	defer second.Close()

	rounds, err := second.Booster.BoostedRounds()
	require.NoError(t, err)
	assert.Equal(t, 5, rounds)
}

func TestTrainCustomObjectiveAndBinaryDump(t *testing.T) {
	lib := refengine.New()
	path := filepath.Join(t.TempDir(), "train.buffer")
	squared := func(margins []float32, d *xgboost.DMatrix) ([]float32, []float32, error) {
		labels := d.Labels()
		grad := make([]float32, len(margins))
		hess := make([]float32, len(margins))
		for i := range margins {
			grad[i] = margins[i] - labels[i]
			hess[i] = 1
		}
		return grad, hess, nil
	}

	m, err := Train(lib, regressionSource(40, 7), Regression, quietConfig(4),
		WithObjective(squared), SaveDMatrixBinary(path))
	require.NoError(t, err)
	defer m.Close()

	rounds, err := m.Booster.BoostedRounds()
	require.NoError(t, err)
	assert.Equal(t, 4, rounds)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
