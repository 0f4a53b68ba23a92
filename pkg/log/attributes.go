package log

// Component and operation context.
const (
	// ComponentKey identifies the package emitting the record.
	// Examples: "xgboost", "training", "predictor"
	ComponentKey = "xgb.component"

	// EstimatorIDKey is the per-Booster identifier (a UUID).
	EstimatorIDKey = "estimator.id"

	// OperationKey names the operation being performed.
	OperationKey = "ml.operation"

	// PhaseKey indicates the lifecycle phase.
	PhaseKey = "ml.phase"

	// TaskKey names the learning task (regression, binary, multiclass, ranking).
	TaskKey = "ml.task"

	// BackendKey names the native backend ("reference", "xgboost").
	BackendKey = "xgb.backend"
)

// Data shape.
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"

	// SparseKey is true when a dataset was built through the CSR path.
	SparseKey = "data.sparse"

	// NonZeroKey is the number of stored CSR entries.
	NonZeroKey = "data.nonzero"

	// DroppedRowsKey counts rows skipped because their label was missing.
	DroppedRowsKey = "data.dropped_rows"

	// ClassesKey is the number of distinct classes after remapping.
	ClassesKey = "data.classes"

	// GroupsKey is the number of ranking groups.
	GroupsKey = "data.groups"
)

// Training progress.
const (
	IterationKey      = "training.iteration"
	RoundsKey         = "training.rounds"
	StartIterationKey = "training.start_iteration"
	MetricKey         = "training.metric"
	EvalKey           = "training.eval"
	DurationMsKey     = "perf.duration_ms"
)

// Native and collective context.
const (
	// NativeOpKey is the ABI entry point that failed.
	NativeOpKey = "native.op"

	// NativeStatusKey is the nonzero status returned by the entry point.
	NativeStatusKey = "native.status"

	// CheckpointVersionKey is the rabit-style checkpoint version
	// (even: about to update, odd: updated and not yet checkpointed).
	CheckpointVersionKey = "collective.version"

	RankKey      = "collective.rank"
	WorldSizeKey = "collective.world_size"
)

// Standard attribute values.
const (
	OperationTrain        = "train"
	OperationUpdate       = "update"
	OperationEval         = "eval"
	OperationPredict      = "predict"
	OperationPredictBatch = "predict_batch"
	OperationSave         = "save"
	OperationLoad         = "load"

	PhaseDensityProbe = "density_probe"
	PhaseMatrixBuilt  = "matrix_built"
	PhaseIterating    = "iterating"
	PhaseFinalized    = "finalized"
	PhaseInference    = "inference"
)
