package task

import (
	"context"
	"fmt"
	"time"

	"github.com/kbukum/datagraph/completion"
	"github.com/kbukum/datagraph/dataset"
	"github.com/kbukum/datagraph/engine"
	"github.com/kbukum/datagraph/errors"
	"github.com/kbukum/datagraph/logger"
	"github.com/kbukum/datagraph/timerange"
)

// Func is a deterministic unit of computation. It receives each
// dependency's payload under the name the dependency was registered
// with, the raw scalar parameters, and the fetch window.
type Func func(ctx context.Context, in Inputs) (dataset.Payload, error)

// Inputs carries everything a user function may consume.
type Inputs struct {
	// Data holds one payload per registered dependency name.
	Data map[string]dataset.Payload
	// Params holds the scalar parameters exactly as supplied,
	// unnormalised.
	Params map[string]any
	// TimeRange is the fetch window of this run; nil for static tasks.
	TimeRange *timerange.TimeRange
}

// Series is a convenience accessor asserting a dependency payload to a
// time-indexed series.
func (in Inputs) Series(name string) (*dataset.Series, error) {
	p, ok := in.Data[name]
	if !ok {
		return nil, fmt.Errorf("no input named %q", name)
	}
	s, ok := p.(*dataset.Series)
	if !ok {
		return nil, fmt.Errorf("input %q is not a series", name)
	}
	return s, nil
}

// Task is a node in the runtime graph. Tasks are immutable after
// construction; build them through a Context.
type Task struct {
	name      string
	version   string
	static    bool
	timeLevel string
	fn        Func

	params      map[string]any
	deps        map[string]Dependency
	targetRange timerange.TimeRange
	checker     completion.Checker
	eng         engine.Engine
	timeout     time.Duration

	output *dataset.Metadata
	log    *logger.Logger
}

// Name returns the task's full (namespaced) name.
func (t *Task) Name() string { return t.name }

// Version returns the semantic code version.
func (t *Task) Version() string { return t.version }

// Static reports whether the task produces a scalar output.
func (t *Task) Static() bool { return t.static }

// Output returns the content-addressed identity of the task's output.
// It is computed once at construction and never changes.
func (t *Task) Output() *dataset.Metadata { return t.output }

// Engine returns the persistence engine that owns the output.
func (t *Task) Engine() engine.Engine { return t.eng }

// Checker returns the completion policy.
func (t *Task) Checker() completion.Checker { return t.checker }

// TargetRange returns the range the task aims to produce. Zero for
// static tasks.
func (t *Task) TargetRange() timerange.TimeRange { return t.targetRange }

// Timeout returns the per-run wall-clock budget, 0 for none.
func (t *Task) Timeout() time.Duration { return t.timeout }

// Dependencies returns the dependency map as a fresh copy.
func (t *Task) Dependencies() map[string]Dependency {
	out := make(map[string]Dependency, len(t.deps))
	for k, v := range t.deps {
		out[k] = v
	}
	return out
}

// Complete reports whether the persisted output satisfies the target.
func (t *Task) Complete(ctx context.Context) (bool, error) {
	if t.static {
		return t.eng.Exists(ctx, t.output)
	}
	existing, err := t.eng.Range(ctx, t.output)
	if err != nil {
		return false, err
	}
	return t.checker.IsComplete(t.targetRange, existing)
}

// Read returns the persisted output over the target range.
func (t *Task) Read(ctx context.Context) (dataset.Payload, error) {
	if t.static {
		return t.eng.Read(ctx, t.output, nil)
	}
	tr := t.targetRange
	return t.eng.Read(ctx, t.output, &tr)
}

// Run is idempotent: an already-complete task returns immediately
// without writing to the engine. Otherwise the missing sub-range is
// computed, dependencies are fetched over their lookback-extended
// windows, the function is invoked, and its output persisted.
func (t *Task) Run(ctx context.Context) Result {
	start := time.Now()
	res := t.run(ctx)
	res.Task = t.name
	res.Duration = time.Since(start)

	fields := logger.Fields(
		logger.FieldTask, t.name,
		logger.FieldStatus, string(res.Status),
		logger.FieldDuration, res.Duration.Milliseconds(),
	)
	if res.Err != nil {
		t.log.Error("task run failed", fields, logger.Fields(logger.FieldError, res.Err.Error()))
	} else {
		t.log.Debug("task run finished", fields)
	}
	return res
}

func (t *Task) run(ctx context.Context) Result {
	complete, err := t.Complete(ctx)
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}
	if complete {
		return Result{Status: StatusAlreadyComplete}
	}
	if t.static {
		return t.runStatic(ctx)
	}
	return t.runTimeSeries(ctx)
}

func (t *Task) runStatic(ctx context.Context) Result {
	inputs, err := t.collectInputs(ctx, nil)
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}
	payload, err := t.invoke(ctx, inputs)
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}
	if err := t.eng.Replace(ctx, t.output, payload); err != nil {
		return Result{Status: StatusFailed, Err: err}
	}
	return Result{Status: StatusSuccess}
}

func (t *Task) runTimeSeries(ctx context.Context) Result {
	existing, err := t.eng.Range(ctx, t.output)
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}

	missing := t.missingRange(existing)
	if missing.IsEmpty() {
		return Result{
			Status: StatusIncomplete,
			Reason: "no missing range but the output does not satisfy the checker",
		}
	}

	inputs, err := t.collectInputs(ctx, &missing)
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}
	payload, err := t.invoke(ctx, inputs)
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}
	series, ok := payload.(*dataset.Series)
	if !ok {
		return Result{Status: StatusFailed, Err: errors.UserFunction(t.name,
			fmt.Errorf("time-series task returned %T, want *dataset.Series", payload))}
	}
	if series.Len() == 0 {
		return Result{Status: StatusIncomplete, Reason: "function produced no rows for the missing range"}
	}

	if err := t.write(ctx, existing, series); err != nil {
		return Result{Status: StatusFailed, Err: err}
	}
	return Result{Status: StatusSuccess}
}

// missingRange narrows the target to what still needs computing: when
// the existing payload is a prefix overlapping the target, only the
// remainder is recomputed; otherwise the whole target is.
func (t *Task) missingRange(existing *timerange.TimeRange) timerange.TimeRange {
	if existing == nil || existing.IsEmpty() {
		return t.targetRange
	}
	if !existing.Start.After(t.targetRange.Start) && existing.End.After(t.targetRange.Start) {
		return t.targetRange.SubtractPrefix(*existing)
	}
	return t.targetRange
}

func (t *Task) collectInputs(ctx context.Context, missing *timerange.TimeRange) (Inputs, error) {
	data := make(map[string]dataset.Payload, len(t.deps))
	for name, dep := range t.deps {
		payload, err := t.readDependency(ctx, dep, missing)
		if err != nil {
			return Inputs{}, err
		}
		data[name] = payload
	}
	params := make(map[string]any, len(t.params))
	for k, v := range t.params {
		params[k] = v
	}
	return Inputs{Data: data, Params: params, TimeRange: missing}, nil
}

// readDependency pulls a parent's payload through the parent's own
// engine. Engine follows the metadata, not the task that references it.
func (t *Task) readDependency(ctx context.Context, dep Dependency, missing *timerange.TimeRange) (dataset.Payload, error) {
	ref := dep.Ref()
	eng := dep.ReadEngine()
	if ref.Static() || missing == nil {
		return eng.Read(ctx, ref, nil)
	}
	fetch := dep.FetchRange(*missing)
	return eng.Read(ctx, ref, &fetch)
}

func (t *Task) invoke(ctx context.Context, inputs Inputs) (payload dataset.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = errors.UserFunction(t.name, fmt.Errorf("panic: %v", r))
		}
	}()
	payload, err = t.fn(ctx, inputs)
	if err != nil {
		return nil, errors.UserFunction(t.name, err)
	}
	if payload == nil {
		return nil, errors.UserFunction(t.name, fmt.Errorf("function returned nil payload"))
	}
	return payload, nil
}

// write picks append when the new payload strictly extends the existing
// one, merge otherwise. Append violations are hard errors in the
// engine; they are never downgraded here.
func (t *Task) write(ctx context.Context, existing *timerange.TimeRange, series *dataset.Series) error {
	newRange, ok := series.Range()
	if !ok {
		return nil
	}
	if existing == nil || existing.IsEmpty() || !newRange.Start.Before(existing.End) {
		return t.eng.Append(ctx, t.output, series)
	}
	return t.eng.Merge(ctx, t.output, series)
}
