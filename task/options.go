package task

import (
	"time"

	"github.com/kbukum/datagraph/completion"
	"github.com/kbukum/datagraph/engine"
	"github.com/kbukum/datagraph/timerange"
)

// Option configures a task during creation.
type Option func(*taskOptions)

// taskOptions collects all option values before applying to the task.
type taskOptions struct {
	version     *string
	eng         engine.Engine
	targetRange *timerange.TimeRange
	timeLevel   string
	checker     completion.Checker
	timeout     time.Duration
	params      map[string]any
	deps        map[string]Dependency
}

func resolveOptions(opts []Option) *taskOptions {
	o := &taskOptions{
		params: make(map[string]any),
		deps:   make(map[string]Dependency),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithVersion overrides the context's default code version.
func WithVersion(version string) Option {
	return func(o *taskOptions) { o.version = &version }
}

// WithEngine overrides the context's default persistence engine. The
// engine becomes part of the output's identity.
func WithEngine(e engine.Engine) Option {
	return func(o *taskOptions) { o.eng = e }
}

// WithTargetRange overrides the context's default target range.
func WithTargetRange(tr timerange.TimeRange) Option {
	return func(o *taskOptions) { o.targetRange = &tr }
}

// WithTimeLevel names the index level carrying the instant of a row,
// for multi-level indices.
func WithTimeLevel(level string) Option {
	return func(o *taskOptions) { o.timeLevel = level }
}

// WithChecker sets an explicit completion checker instead of deriving
// one from the inheriting dependencies.
func WithChecker(c completion.Checker) Option {
	return func(o *taskOptions) { o.checker = c }
}

// WithTimeout sets the per-run wall-clock budget enforced by the runner.
func WithTimeout(d time.Duration) Option {
	return func(o *taskOptions) { o.timeout = d }
}

// WithParam adds one scalar parameter. The value must normalise into a
// canonical Parameter; construction fails otherwise.
func WithParam(key string, value any) Option {
	return func(o *taskOptions) { o.params[key] = value }
}

// WithParams adds several scalar parameters.
func WithParams(params map[string]any) Option {
	return func(o *taskOptions) {
		for k, v := range params {
			o.params[k] = v
		}
	}
}

// WithDependency registers a parent under the parameter name the user
// function receives its payload as.
func WithDependency(name string, dep Dependency) Option {
	return func(o *taskOptions) { o.deps[name] = dep }
}

// WithTask registers a bare task as a dependency: zero lookback,
// inheritance enabled.
func WithTask(name string, t *Task) Option {
	return func(o *taskOptions) { o.deps[name] = Dep(t) }
}
