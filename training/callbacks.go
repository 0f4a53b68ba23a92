package training

import (
	"math"
	"strings"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
	"github.com/YuminosukeSato/xgbwrap/pkg/log"
	"github.com/YuminosukeSato/xgbwrap/xgboost"
)

// State is the lifecycle state of a training session.
type State int

const (
	NotStarted State = iota
	DensityProbe
	MatrixBuilt
	Iterating
	Finalized
)

func (s State) String() string {
	switch s {
	case DensityProbe:
		return log.PhaseDensityProbe
	case MatrixBuilt:
		return log.PhaseMatrixBuilt
	case Iterating:
		return log.PhaseIterating
	case Finalized:
		return log.PhaseFinalized
	default:
		return "not_started"
	}
}

// Callback observes a training session. Any returned error aborts training.
type Callback interface {
	Init(env *CallbackEnv) error
	BeforeIteration(env *CallbackEnv) error
	AfterIteration(env *CallbackEnv) error
	Finalize(env *CallbackEnv) error
}

// CallbackEnv holds the session state passed to callbacks.
type CallbackEnv struct {
	State          State
	Task           Task
	Iteration      int
	StartIteration int
	Rounds         int
	// Version is the checkpoint version (even: about to update, odd: updated).
	Version int

	Rows     int
	Features int
	Sparse   bool

	Booster *xgboost.Booster
	Params  xgboost.Params

	// Evaluated is true when the current iteration fetched EvalText.
	Evaluated bool
	EvalText  string
	// Metric is the most recent parsed metric, NaN before the first evaluation.
	Metric  float64
	Elapsed time.Duration
}

// LogProgress writes one structured log record every period iterations and
// on every evaluated iteration.
type LogProgress struct {
	logger log.Logger
	period int
}

// NewLogProgress creates a progress logger. A nil logger uses log.GetLogger().
func NewLogProgress(logger log.Logger, period int) *LogProgress {
	if logger == nil {
		logger = log.GetLogger()
	}
	return &LogProgress{logger: logger.With(log.ComponentKey, "training"), period: period}
}

func (cb *LogProgress) Init(env *CallbackEnv) error {
	if cb.period <= 0 {
		cb.period = 1
	}
	cb.logger.Info("training session ready",
		log.TaskKey, env.Task.String(),
		log.SamplesKey, env.Rows,
		log.FeaturesKey, env.Features,
		log.SparseKey, env.Sparse,
		log.RoundsKey, env.Rounds,
		log.StartIterationKey, env.StartIteration,
	)
	return nil
}

func (cb *LogProgress) BeforeIteration(_ *CallbackEnv) error { return nil }

func (cb *LogProgress) AfterIteration(env *CallbackEnv) error {
	if !env.Evaluated && (env.Iteration-env.StartIteration)%cb.period != 0 {
		return nil
	}
	attrs := []any{
		log.IterationKey, env.Iteration,
		log.DurationMsKey, env.Elapsed.Milliseconds(),
		log.CheckpointVersionKey, env.Version,
	}
	if env.Evaluated {
		attrs = append(attrs, log.EvalKey, env.EvalText, log.MetricKey, env.Metric)
	}
	cb.logger.Info("iteration finished", attrs...)
	return nil
}

func (cb *LogProgress) Finalize(env *CallbackEnv) error {
	cb.logger.Info("training finished",
		log.RoundsKey, env.Rounds,
		log.DurationMsKey, env.Elapsed.Milliseconds(),
		log.MetricKey, env.Metric,
	)
	return nil
}

// HistoryPoint is one evaluated iteration.
type HistoryPoint struct {
	Iteration int
	Metric    float64
	Elapsed   time.Duration
}

// History records the evaluated metric curve of a session.
type History struct {
	name   string
	points []HistoryPoint
}

// NewHistory creates an empty history.
func NewHistory() *History { return &History{} }

func (h *History) Init(_ *CallbackEnv) error {
	h.points = h.points[:0]
	return nil
}

func (h *History) BeforeIteration(_ *CallbackEnv) error { return nil }

func (h *History) AfterIteration(env *CallbackEnv) error {
	if !env.Evaluated || math.IsNaN(env.Metric) {
		return nil
	}
	if h.name == "" {
		h.name = metricName(env.EvalText)
	}
	h.points = append(h.points, HistoryPoint{Iteration: env.Iteration, Metric: env.Metric, Elapsed: env.Elapsed})
	return nil
}

func (h *History) Finalize(_ *CallbackEnv) error { return nil }

// Points returns the recorded curve.
func (h *History) Points() []HistoryPoint { return h.points }

// MetricName is the "dataset-metric" label of the first evaluation, such as
// "Train-logloss".
func (h *History) MetricName() string { return h.name }

// metricName extracts "Train-logloss" from "[3]\tTrain-logloss:0.25".
func metricName(text string) string {
	if i := strings.LastIndexByte(text, '\t'); i >= 0 {
		text = text[i+1:]
	}
	if i := strings.IndexByte(text, ':'); i >= 0 {
		text = text[:i]
	}
	return text
}

// SavePlot renders the curve as an image. The format follows the file
// extension (png, svg, pdf ...).
func (h *History) SavePlot(path string) error {
	if len(h.points) == 0 {
		return errors.New("history has no evaluated iterations")
	}
	p := plot.New()
	p.Title.Text = "Learning curve"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = h.name

	xys := make(plotter.XYs, len(h.points))
	for i, pt := range h.points {
		xys[i].X = float64(pt.Iteration)
		xys[i].Y = pt.Metric
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return errors.Wrap(err, "build learning curve")
	}
	p.Add(plotter.NewGrid(), line)
	if h.name != "" {
		p.Legend.Add(h.name, line)
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save learning curve to %s", path)
	}
	return nil
}
