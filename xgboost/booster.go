package xgboost

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/xgbwrap/collective"
	"github.com/YuminosukeSato/xgbwrap/native"
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
	"github.com/YuminosukeSato/xgbwrap/pkg/log"
)

// ObjectiveFunc computes per-row first and second order gradients from the
// current margins of d.
type ObjectiveFunc func(margins []float32, d *DMatrix) (grad, hess []float32, err error)

// BoosterOption configures a Booster.
type BoosterOption func(*boosterOptions)

type boosterOptions struct {
	continuation  *Booster
	collective    *collective.Service
	logger        log.Logger
	batchFallback bool
}

// WithContinuation starts from prev's model instead of an empty one.
func WithContinuation(prev *Booster) BoosterOption {
	return func(o *boosterOptions) { o.continuation = prev }
}

// WithCollective attaches the checkpoint service used by LoadCheckpoint and
// SaveCheckpoint.
func WithCollective(s *collective.Service) BoosterOption {
	return func(o *boosterOptions) { o.collective = s }
}

// WithLogger overrides the logger. The default is log.GetLogger().
func WithLogger(l log.Logger) BoosterOption {
	return func(o *boosterOptions) { o.logger = l }
}

// WithBatchFallback lets PredictOneOff fall back to a locked single-row batch
// prediction when the backend lacks the one-off entry points. Without it,
// PredictOneOff fails with ErrExtendedLibraryRequired on such backends.
func WithBatchFallback() BoosterOption {
	return func(o *boosterOptions) { o.batchFallback = true }
}

// Booster owns a native model handle.
//
// Update, Boost, EvalSet, PredictBatch and SaveRaw are serialized by one
// mutex. PredictOneOff takes no lock and may run concurrently as long as each
// goroutine passes its own PredictionBuffer.
type Booster struct {
	lib    native.Library
	ext    native.OneOffLibrary
	handle native.BoosterHandle

	numFeatures   int
	id            string
	logger        log.Logger
	collective    *collective.Service
	batchFallback bool

	mu     sync.Mutex
	closed atomic.Bool

	featMu       sync.Mutex
	featCaptured bool
	featureNames []string
	featureTypes []string
}

func newBooster(lib native.Library, o *boosterOptions) *Booster {
	b := &Booster{
		lib:           lib,
		id:            uuid.NewString(),
		collective:    o.collective,
		batchFallback: o.batchFallback,
	}
	if ext, err := native.OneOff(lib); err == nil {
		b.ext = ext
	}
	if b.collective == nil {
		b.collective = collective.Local()
	}
	logger := o.logger
	if logger == nil {
		logger = log.GetLogger()
	}
	b.logger = logger.With(
		log.ComponentKey, "xgboost",
		log.EstimatorIDKey, b.id,
		log.BackendKey, lib.Name(),
	)
	return b
}

func applyBoosterOptions(opts []BoosterOption) *boosterOptions {
	o := &boosterOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewBooster creates a trainable booster over train and applies params in order.
func NewBooster(lib native.Library, params Params, train *DMatrix, opts ...BoosterOption) (*Booster, error) {
	if train == nil {
		return nil, errors.NewValidationError("train", "training matrix is required", nil)
	}
	o := applyBoosterOptions(opts)
	cols, err := train.NumCols()
	if err != nil {
		return nil, err
	}
	dh, err := train.live()
	if err != nil {
		return nil, err
	}

	b := newBooster(lib, o)
	b.numFeatures = cols
	if err := native.Check(lib, "XGBoosterCreate", lib.BoosterCreate([]native.DatasetHandle{dh}, &b.handle)); err != nil {
		return nil, err
	}

	if prev := o.continuation; prev != nil {
		if prev.numFeatures != cols {
			_ = b.Close()
			return nil, errors.NewValidationError("num_features",
				"continuation model was trained on a different feature count", prev.numFeatures)
		}
		raw, err := prev.SaveRaw()
		if err == nil {
			err = native.Check(lib, "XGBoosterLoadModelFromBuffer", lib.BoosterLoadModelFromBuffer(b.handle, raw))
		}
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		prev.featMu.Lock()
		b.featCaptured = prev.featCaptured
		b.featureNames, b.featureTypes = prev.featureNames, prev.featureTypes
		prev.featMu.Unlock()
	}

	for _, p := range params {
		if err := native.Check(lib, "XGBoosterSetParam", lib.BoosterSetParam(b.handle, p.Key, p.Value)); err != nil {
			_ = b.Close()
			return nil, err
		}
	}
	if err := b.checkFeatures(train); err != nil {
		_ = b.Close()
		return nil, err
	}
	if err := b.lazyInit(); err != nil {
		_ = b.Close()
		return nil, err
	}
	b.logger.Debug("booster created", log.FeaturesKey, cols)
	return b, nil
}

// LoadBooster reconstructs an inference booster from raw model bytes.
// numFeatures is the feature count the model was trained with.
func LoadBooster(lib native.Library, raw []byte, numFeatures int, opts ...BoosterOption) (*Booster, error) {
	if numFeatures <= 0 {
		return nil, errors.NewValidationError("num_features", "must be positive", numFeatures)
	}
	if len(raw) == 0 {
		return nil, errors.NewValidationError("raw", "model bytes are empty", 0)
	}
	b := newBooster(lib, applyBoosterOptions(opts))
	b.numFeatures = numFeatures
	if err := native.Check(lib, "XGBoosterCreate", lib.BoosterCreate(nil, &b.handle)); err != nil {
		return nil, err
	}
	if err := native.Check(lib, "XGBoosterLoadModelFromBuffer", lib.BoosterLoadModelFromBuffer(b.handle, raw)); err != nil {
		_ = b.Close()
		return nil, err
	}
	if err := b.lazyInit(); err != nil {
		_ = b.Close()
		return nil, err
	}
	b.logger.Debug("booster loaded", log.FeaturesKey, numFeatures)
	return b, nil
}

func (b *Booster) lazyInit() error {
	if b.ext == nil {
		return nil
	}
	return native.Check(b.lib, "XGBoosterLazyInit", b.ext.BoosterLazyInit(b.handle))
}

// ID is a process-unique identifier used in log records.
func (b *Booster) ID() string { return b.id }

// NumFeatures is the feature count fixed at construction.
func (b *Booster) NumFeatures() int { return b.numFeatures }

// Handle exposes the native handle for checkpoint services.
func (b *Booster) Handle() native.BoosterHandle { return b.handle }

func (b *Booster) checkOpen() error {
	if b.closed.Load() {
		return errors.Wrap(errors.ErrClosed, "Booster")
	}
	return nil
}

// checkFeatures captures the feature names and types of the first dataset and
// requires every later one to match them.
func (b *Booster) checkFeatures(d *DMatrix) error {
	b.featMu.Lock()
	defer b.featMu.Unlock()
	if !b.featCaptured {
		b.featureNames = append([]string(nil), d.featureNames...)
		b.featureTypes = append([]string(nil), d.featureTypes...)
		b.featCaptured = true
		return nil
	}
	if !equalStrings(b.featureNames, d.featureNames) {
		return errors.NewValidationError("feature_names", "dataset feature names do not match the booster", d.featureNames)
	}
	if !equalStrings(b.featureTypes, d.featureTypes) {
		return errors.NewValidationError("feature_types", "dataset feature types do not match the booster", d.featureTypes)
	}
	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Update runs one boosting iteration. A nil obj uses the configured objective;
// otherwise gradients come from obj applied to the current margins.
func (b *Booster) Update(d *DMatrix, iter int, obj ObjectiveFunc) error {
	if obj != nil {
		margins, err := b.PredictBatch(d, true, 0)
		if err != nil {
			return err
		}
		grad, hess, err := obj(margins, d)
		if err != nil {
			return errors.Wrap(err, "custom objective")
		}
		return b.Boost(d, grad, hess)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	dh, err := b.prepare(d)
	if err != nil {
		return err
	}
	return native.Check(b.lib, "XGBoosterUpdateOneIter", b.lib.BoosterUpdateOneIter(b.handle, iter, dh))
}

// Boost runs one iteration from caller-supplied gradients. grad and hess hold
// one value per row, or rows*numClass values for multi-class models.
func (b *Booster) Boost(d *DMatrix, grad, hess []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	dh, err := b.prepare(d)
	if err != nil {
		return err
	}
	rows, err := d.NumRows()
	if err != nil {
		return err
	}
	if len(grad) != len(hess) {
		return errors.NewValidationError("hess", "length must equal len(grad)", len(hess))
	}
	if len(grad) == 0 || rows == 0 || len(grad)%rows != 0 {
		return errors.NewValidationError("grad", "length must equal the row count", len(grad))
	}
	return native.Check(b.lib, "XGBoosterBoostOneIter", b.lib.BoosterBoostOneIter(b.handle, dh, grad, hess))
}

func (b *Booster) prepare(d *DMatrix) (native.DatasetHandle, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	if err := b.checkFeatures(d); err != nil {
		return 0, err
	}
	return d.live()
}

// EvalSet evaluates the configured metrics on each dataset and returns the
// native "[iter]\tname-metric:value" text.
func (b *Booster) EvalSet(ds []*DMatrix, names []string, iter int) (string, error) {
	if len(ds) != len(names) {
		return "", errors.NewValidationError("names", "need one name per dataset", len(names))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	handles := make([]native.DatasetHandle, len(ds))
	for i, d := range ds {
		h, err := b.prepare(d)
		if err != nil {
			return "", err
		}
		handles[i] = h
	}
	var out string
	if err := native.Check(b.lib, "XGBoosterEvalOneIter", b.lib.BoosterEvalOneIter(b.handle, iter, handles, names, &out)); err != nil {
		return "", err
	}
	return strings.Clone(out), nil
}

// ParseEvalMetric returns the number after the last colon of an evaluation
// string, or previous when there is none.
func ParseEvalMetric(text string, previous float64) float64 {
	i := strings.LastIndexByte(text, ':')
	if i < 0 {
		return previous
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(text[i+1:]), 64)
	if err != nil {
		return previous
	}
	return v
}

// PredictBatch predicts every row of d. treeLimit 0 uses all rounds.
func (b *Booster) PredictBatch(d *DMatrix, outputMargin bool, treeLimit int) ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dh, err := b.prepare(d)
	if err != nil {
		return nil, err
	}
	return b.predictLocked(dh, outputMargin, treeLimit)
}

func (b *Booster) predictLocked(dh native.DatasetHandle, outputMargin bool, treeLimit int) ([]float32, error) {
	var out []float32
	status := b.lib.BoosterPredict(b.handle, dh, optionMask(outputMargin), uint32(treeLimit), &out)
	if err := native.Check(b.lib, "XGBoosterPredict", status); err != nil {
		return nil, err
	}
	return append([]float32(nil), out...), nil
}

func optionMask(outputMargin bool) int {
	if outputMargin {
		return native.PredictOutputMargin
	}
	return native.PredictNormal
}

// SaveRaw serializes the model into the library's raw format.
func (b *Booster) SaveRaw() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	var raw []byte
	if err := native.Check(b.lib, "XGBoosterGetModelRaw", b.lib.BoosterGetModelRaw(b.handle, &raw)); err != nil {
		return nil, err
	}
	return append([]byte(nil), raw...), nil
}

// BoostedRounds is the number of completed boosting rounds.
func (b *Booster) BoostedRounds() (int, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	if err := native.Check(b.lib, "XGBoosterBoostedRounds", b.lib.BoosterBoostedRounds(b.handle, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

// LoadCheckpoint restores the latest collective checkpoint and returns its
// version. Without an active collective service it returns 0.
func (b *Booster) LoadCheckpoint() (int, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.collective.LoadCheckpoint(b.handle)
}

// SaveCheckpoint stores the model as the next collective checkpoint.
func (b *Booster) SaveCheckpoint() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.collective.SaveCheckpoint(b.handle)
}

// Collective returns the attached checkpoint service.
func (b *Booster) Collective() *collective.Service { return b.collective }

// Close frees the native handle. Later calls are no-ops.
func (b *Booster) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return native.Check(b.lib, "XGBoosterFree", b.lib.BoosterFree(b.handle))
}
