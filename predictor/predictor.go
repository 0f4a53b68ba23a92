// Package predictor rebuilds a scoring model from a persisted envelope and
// serves single-row predictions through per-caller sessions.
package predictor

import (
	"io"

	"github.com/YuminosukeSato/xgbwrap/modelio"
	"github.com/YuminosukeSato/xgbwrap/native"
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
	"github.com/YuminosukeSato/xgbwrap/pkg/log"
	"github.com/YuminosukeSato/xgbwrap/training"
	"github.com/YuminosukeSato/xgbwrap/xgboost"
)

// Option configures a Predictor.
type Option func(*options)

type options struct {
	rawScore      bool
	batchFallback bool
	treeLimit     int
	logger        log.Logger
}

// WithRawScore returns margins instead of transformed scores.
func WithRawScore() Option {
	return func(o *options) { o.rawScore = true }
}

// WithBatchFallback allows scoring on backends without the one-off entry
// points, at the cost of taking the booster lock per row.
func WithBatchFallback() Option {
	return func(o *options) { o.batchFallback = true }
}

// WithTreeLimit restricts scoring to the first n trees. 0 uses all of them.
func WithTreeLimit(n int) Option {
	return func(o *options) { o.treeLimit = n }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Predictor owns a loaded booster and the envelope metadata it came from.
// It is safe for concurrent use through separate Sessions.
type Predictor struct {
	model   *modelio.Model
	booster *xgboost.Booster
	opts    options
	// outputs is the expanded multiclass width; 0 for scalar kinds.
	outputs int
}

// New loads m into lib.
func New(lib native.Library, m *modelio.Model, opts ...Option) (*Predictor, error) {
	if m == nil {
		return nil, errors.NewValidationError("model", "model is required", nil)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: log.GetLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.treeLimit < 0 {
		return nil, errors.NewValidationError("tree_limit", "must not be negative", o.treeLimit)
	}

	boosterOpts := []xgboost.BoosterOption{xgboost.WithLogger(o.logger)}
	if o.batchFallback {
		boosterOpts = append(boosterOpts, xgboost.WithBatchFallback())
	}
	b, err := xgboost.LoadBooster(lib, m.Raw, m.NumFeaturesNative, boosterOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load booster")
	}

	p := &Predictor{model: m, booster: b, opts: o, outputs: outputWidth(m)}
	o.logger.Info("predictor loaded",
		log.ComponentKey, "predictor",
		log.OperationKey, log.OperationLoad,
		log.TaskKey, m.Kind.String(),
		log.EstimatorIDKey, b.ID(),
		log.FeaturesKey, m.NumFeaturesCaller,
		log.ClassesKey, p.outputs,
	)
	return p, nil
}

// Load reads an envelope from r and loads it into lib.
func Load(lib native.Library, r io.Reader, opts ...Option) (*Predictor, error) {
	m, err := modelio.Read(r)
	if err != nil {
		return nil, err
	}
	return New(lib, m, opts...)
}

// FromTraining persists nothing; it wraps a freshly trained model so it can
// be scored and saved through the same API as a loaded one.
func FromTraining(lib native.Library, m *training.Model, opts ...Option) (*Predictor, error) {
	return New(lib, modelio.FromTraining(m), opts...)
}

// outputWidth is the length of Scores for multiclass envelopes. With a class
// mapping, float labels span 0..max(mapping) and key labels span the declared
// class count.
func outputWidth(m *modelio.Model) int {
	if m.Kind != training.MulticlassClassification {
		return 0
	}
	if len(m.ClassMapping) == 0 || !m.IsFloatLabel {
		return m.NumClass
	}
	return int(m.ClassMapping[len(m.ClassMapping)-1]) + 1
}

// Kind returns the task the model was trained for.
func (p *Predictor) Kind() training.Task { return p.model.Kind }

// NumFeatures is the row width callers must pass.
func (p *Predictor) NumFeatures() int { return p.model.NumFeaturesCaller }

// NumOutputs is the length of Scores, or 1 for scalar models.
func (p *Predictor) NumOutputs() int {
	if p.outputs == 0 {
		return 1
	}
	return p.outputs
}

// Model returns the envelope metadata.
func (p *Predictor) Model() *modelio.Model { return p.model }

// Booster exposes the loaded booster for batch scoring.
func (p *Predictor) Booster() *xgboost.Booster { return p.booster }

// Save writes the envelope to w.
func (p *Predictor) Save(w io.Writer) error {
	return modelio.Write(w, p.model)
}

// Close releases the booster. Sessions must not be used afterwards.
func (p *Predictor) Close() error {
	return p.booster.Close()
}

// NewSession returns a scoring session. A session is not safe for concurrent
// use; create one per goroutine.
func (p *Predictor) NewSession() *Session {
	return &Session{p: p, buf: xgboost.NewPredictionBuffer()}
}
