package training

import (
	"math"
	"strconv"
	"time"

	"github.com/YuminosukeSato/xgbwrap/collective"
	"github.com/YuminosukeSato/xgbwrap/native"
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
	"github.com/YuminosukeSato/xgbwrap/pkg/log"
	"github.com/YuminosukeSato/xgbwrap/xgboost"
)

// evalInterval forces an evaluation when this much time passed since the
// previous one.
const evalInterval = 2 * time.Minute

// Model is the result of a successful training session.
type Model struct {
	// Booster stays open; the caller closes it (or calls Model.Close).
	Booster *xgboost.Booster
	Raw     []byte

	// NumFeaturesNative is the width of the native training matrix. It can be
	// smaller than NumFeaturesCaller when the sparse path inferred the width
	// from the largest index seen.
	NumFeaturesNative int
	NumFeaturesCaller int

	Task         Task
	NumClass     int
	ClassMapping []int32
	IsFloatLabel bool
	NumTrees     int
}

// Close releases the booster.
func (m *Model) Close() error {
	if m.Booster == nil {
		return nil
	}
	return m.Booster.Close()
}

// Option is a functional option for Train.
type Option func(*trainOptions)

type trainOptions struct {
	callbacks  []Callback
	initModel  *xgboost.Booster
	collective *collective.Service
	logger     log.Logger
	objective  xgboost.ObjectiveFunc
	probeRows  int
	keyCount   int
	binaryPath string
	now        func() time.Time
}

// WithCallbacks adds callbacks to the session.
func WithCallbacks(callbacks ...Callback) Option {
	return func(o *trainOptions) {
		o.callbacks = append(o.callbacks, callbacks...)
	}
}

// WithInitModel continues training from an existing booster.
func WithInitModel(b *xgboost.Booster) Option {
	return func(o *trainOptions) {
		o.initModel = b
	}
}

// WithCollective attaches a distributed checkpoint service.
func WithCollective(s *collective.Service) Option {
	return func(o *trainOptions) {
		o.collective = s
	}
}

// WithLogger sets the session logger.
func WithLogger(l log.Logger) Option {
	return func(o *trainOptions) {
		o.logger = l
	}
}

// WithObjective replaces the native objective with a gradient function.
func WithObjective(obj xgboost.ObjectiveFunc) Option {
	return func(o *trainOptions) {
		o.objective = obj
	}
}

// WithProbeRows sets how many leading rows the density probe inspects.
func WithProbeRows(n int) Option {
	return func(o *trainOptions) {
		o.probeRows = n
	}
}

// WithKeyLabels declares multiclass labels as keys in [0, count). The class
// mapping is then kept only when some keys never occur.
func WithKeyLabels(count int) Option {
	return func(o *trainOptions) {
		o.keyCount = count
	}
}

// SaveDMatrixBinary dumps the training matrix to path before boosting.
func SaveDMatrixBinary(path string) Option {
	return func(o *trainOptions) {
		o.binaryPath = path
	}
}

func withClock(now func() time.Time) Option {
	return func(o *trainOptions) {
		o.now = now
	}
}

// evalPeriod is 10^k for the largest k with 10^k <= rounds*5/100, and 1 when
// no such k exists.
func evalPeriod(rounds int) int {
	limit := float64(rounds) * 5 / 100
	period := 1
	for float64(period*10) <= limit {
		period *= 10
	}
	return period
}

// Train builds the native matrix from src and boosts cfg.Rounds rounds.
//
// The session resumes from the collective checkpoint when one exists. The
// version counter is even before an update and odd after it; each iteration
// saves two checkpoints so the local version stays equal to the engine's.
func Train(lib native.Library, src RowSource, task Task, cfg Config, opts ...Option) (model *Model, err error) {
	defer errors.Recover(&err, "training.Train")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &trainOptions{probeRows: ProbeRows, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.collective == nil {
		o.collective = collective.Local()
	}
	if o.logger == nil {
		o.logger = log.GetLogger()
	}
	logger := o.logger.With(log.ComponentKey, "training", log.TaskKey, task.String(), log.OperationKey, log.OperationTrain)

	env := &CallbackEnv{State: DensityProbe, Task: task, Rounds: cfg.Rounds, Metric: math.NaN()}
	sparse, err := probeDensity(src, o.probeRows)
	if err != nil {
		return nil, errors.Wrap(err, "density probe")
	}
	logger.Debug("density probed", log.PhaseKey, env.State.String(), log.SparseKey, sparse)

	rows, err := countRows(src)
	if err != nil {
		return nil, errors.Wrap(err, "count rows")
	}
	data, err := fillMatrix(src, sparse, rows)
	if err != nil {
		return nil, err
	}
	if data.dropped > 0 {
		errors.Warn(errors.NewDroppedRowsWarning("missing label", data.dropped, data.total))
		logger.Warn("rows with a missing label were skipped", log.DroppedRowsKey, data.dropped, log.SamplesKey, data.total)
	}
	if data.rows == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "no labelled rows")
	}

	params := cfg.Params()
	if cfg.Objective != "" {
		params.Set("objective", cfg.Objective)
	}
	labels := append([]float32(nil), data.labels...)
	classes, err := labelPolicy(task, labels, &params, data.groups != nil, o.keyCount)
	if err != nil {
		return nil, err
	}

	dmat, err := data.build(lib, labels)
	if err != nil {
		return nil, err
	}
	defer dmat.Close()
	env.State = MatrixBuilt
	env.Rows, env.Features, env.Sparse = data.rows, data.cols, data.sparse
	logger.Info("training matrix built",
		log.PhaseKey, env.State.String(),
		log.SamplesKey, data.rows,
		log.FeaturesKey, data.cols,
		log.SparseKey, data.sparse,
		log.NonZeroKey, data.nonZero(),
		log.GroupsKey, len(data.groups),
		log.ClassesKey, classes.NumClass,
	)
	if o.binaryPath != "" {
		if err := dmat.SaveBinary(o.binaryPath); err != nil {
			return nil, err
		}
	}

	boosterOpts := []xgboost.BoosterOption{
		xgboost.WithCollective(o.collective),
		xgboost.WithLogger(o.logger),
	}
	if o.initModel != nil {
		boosterOpts = append(boosterOpts, xgboost.WithContinuation(o.initModel))
	}
	b, err := xgboost.NewBooster(lib, params, dmat, boosterOpts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()
	// Runs before the close above, so a panic in a callback still frees b.
	defer errors.Recover(&err, "training.Train")
	logger = logger.With(log.EstimatorIDKey, b.ID())

	if err := runIterations(b, dmat, cfg, o, env, params, logger); err != nil {
		return nil, err
	}

	raw, err := b.SaveRaw()
	if err != nil {
		return nil, err
	}
	svc := o.collective
	if svc.IsDistributed() {
		logger.Info("distributed training finished",
			log.RankKey, svc.Rank(),
			log.WorldSizeKey, svc.WorldSize(),
			"host", svc.ProcessorName(),
		)
	}
	return &Model{
		Booster:           b,
		Raw:               raw,
		NumFeaturesNative: data.cols,
		NumFeaturesCaller: src.NumFeatures(),
		Task:              task,
		NumClass:          classes.NumClass,
		ClassMapping:      classes.Mapping,
		IsFloatLabel:      classes.IsFloatLabel,
		NumTrees:          cfg.Rounds * numParallelTree(params),
	}, nil
}

func numParallelTree(params xgboost.Params) int {
	if v, ok := params.Get("num_parallel_tree"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

func runIterations(b *xgboost.Booster, dmat *xgboost.DMatrix, cfg Config, o *trainOptions,
	env *CallbackEnv, params xgboost.Params, logger log.Logger) error {
	svc := o.collective
	version, err := b.LoadCheckpoint()
	if err != nil {
		return err
	}
	if !svc.IsDistributed() && version != 0 {
		return errors.Newf("checkpoint version %d found outside a distributed run", version)
	}
	start := version / 2
	rounds := cfg.Rounds
	period := evalPeriod(rounds)

	env.Booster = b
	env.Params = params
	env.StartIteration = start
	env.Version = version
	for _, cb := range o.callbacks {
		if err := cb.Init(env); err != nil {
			return errors.Wrap(err, "callback initialization failed")
		}
	}

	env.State = Iterating
	logger.Info("boosting started",
		log.PhaseKey, env.State.String(),
		log.RoundsKey, rounds,
		log.StartIterationKey, start,
		log.CheckpointVersionKey, version,
	)
	began := o.now()
	lastEval := began
	for iter := start; iter < rounds; iter++ {
		env.Iteration = iter
		env.Evaluated = false
		env.EvalText = ""
		for _, cb := range o.callbacks {
			if err := cb.BeforeIteration(env); err != nil {
				return err
			}
		}

		if version%2 == 0 {
			if err := b.Update(dmat, iter, o.objective); err != nil {
				return errors.Wrapf(err, "training iteration %d failed", iter)
			}
			if err := b.SaveCheckpoint(); err != nil {
				return err
			}
			version++
		}
		if err := svc.CheckVersion(version); err != nil {
			return err
		}

		now := o.now()
		env.Elapsed = now.Sub(began)
		if cfg.Verbose && (iter == start || iter == rounds-1 || iter%period == 0 || now.Sub(lastEval) > evalInterval) {
			text, err := b.EvalSet([]*xgboost.DMatrix{dmat}, []string{"Train"}, iter)
			if err != nil {
				return err
			}
			env.Evaluated = true
			env.EvalText = text
			env.Metric = xgboost.ParseEvalMetric(text, env.Metric)
			lastEval = now
		}

		if err := b.SaveCheckpoint(); err != nil {
			return err
		}
		version++
		env.Version = version
		logger.Debug("iteration done", log.IterationKey, iter, log.CheckpointVersionKey, version)

		for _, cb := range o.callbacks {
			if err := cb.AfterIteration(env); err != nil {
				return err
			}
		}
	}

	env.State = Finalized
	env.Elapsed = o.now().Sub(began)
	for _, cb := range o.callbacks {
		if err := cb.Finalize(env); err != nil {
			return err
		}
	}
	logger.Info("boosting finished", log.PhaseKey, env.State.String(), log.DurationMsKey, env.Elapsed.Milliseconds())
	return nil
}
