package task

import (
	"fmt"
	"sort"

	"github.com/kbukum/datagraph/completion"
	"github.com/kbukum/datagraph/dataset"
	"github.com/kbukum/datagraph/engine"
	"github.com/kbukum/datagraph/errors"
	"github.com/kbukum/datagraph/logger"
	"github.com/kbukum/datagraph/timerange"
)

// Defaults carries the values a Context injects into tasks that do not
// set them explicitly.
type Defaults struct {
	Version     string
	Engine      engine.Engine
	TargetRange *timerange.TimeRange
}

// Context is the task factory. It fills defaults, lifts bare tasks to
// dependencies, derives completion checkers, and manages namespaces.
type Context struct {
	defaults  Defaults
	namespace string
	log       *logger.Logger
}

// NewContext builds a task factory around a set of defaults.
func NewContext(defaults Defaults, log *logger.Logger) *Context {
	if log == nil {
		log = logger.Nop()
	}
	return &Context{defaults: defaults, log: log}
}

// ExtendNamespace returns a copy whose tasks are named under the
// dot-joined namespace.
func (c *Context) ExtendNamespace(namespace string) *Context {
	ns := namespace
	if c.namespace != "" {
		ns = c.namespace + "." + namespace
	}
	return &Context{defaults: c.defaults, namespace: ns, log: c.log}
}

// WithDefaults returns a copy with some defaults overridden.
func (c *Context) WithDefaults(d Defaults) *Context {
	merged := c.defaults
	if d.Version != "" {
		merged.Version = d.Version
	}
	if d.Engine != nil {
		merged.Engine = d.Engine
	}
	if d.TargetRange != nil {
		merged.TargetRange = d.TargetRange
	}
	return &Context{defaults: merged, namespace: c.namespace, log: c.log}
}

func (c *Context) qualify(name string) string {
	if c.namespace == "" {
		return name
	}
	return c.namespace + "." + name
}

// TimeSeriesTask builds a task whose output is indexed by time.
func (c *Context) TimeSeriesTask(name string, fn Func, opts ...Option) (*Task, error) {
	return c.build(name, fn, false, resolveOptions(opts))
}

// StaticTask builds a task with a scalar output: no target range, full
// dependency reads, replace-on-write.
func (c *Context) StaticTask(name string, fn Func, opts ...Option) (*Task, error) {
	return c.build(name, fn, true, resolveOptions(opts))
}

func (c *Context) build(name string, fn Func, static bool, o *taskOptions) (*Task, error) {
	if fn == nil {
		return nil, errors.InvalidParameter("function", nil).
			WithDetail("reason", "task needs a function")
	}

	version := c.defaults.Version
	if o.version != nil {
		version = *o.version
	}
	eng := c.defaults.Engine
	if o.eng != nil {
		eng = o.eng
	}
	if eng == nil {
		return nil, errors.InvalidParameter("engine", nil).
			WithDetail("reason", "no engine given and no context default")
	}

	var target timerange.TimeRange
	if !static {
		switch {
		case o.targetRange != nil:
			target = *o.targetRange
		case c.defaults.TargetRange != nil:
			target = *c.defaults.TargetRange
		default:
			return nil, errors.InvalidParameter("target_range", nil).
				WithDetail("reason", "no target range given and no context default")
		}
	}

	for pname, dep := range o.deps {
		if dep.Task == nil && dep.Upstream == nil {
			return nil, errors.InvalidParameter(pname, nil).
				WithDetail("reason", "dependency needs a task or an upstream reference")
		}
		if dep.Task == nil && dep.UpstreamEngine == nil {
			return nil, errors.InvalidParameter(pname, nil).
				WithDetail("reason", "metadata-only dependency needs its owning engine")
		}
		if dep.Task == nil && dep.Upstream.EngineID() != dep.UpstreamEngine.ID() {
			return nil, errors.InvalidParameter(pname, nil).
				WithDetail("reason", "upstream engine does not own the referenced metadata")
		}
		if _, clash := o.params[pname]; clash {
			return nil, errors.InvalidParameter(pname, nil).
				WithDetail("reason", "name used by both a parameter and a dependency")
		}
	}

	checker := o.checker
	if checker == nil && !static {
		derived, err := deriveChecker(o.deps)
		if err != nil {
			return nil, err
		}
		checker = derived
	}

	timeLevel := o.timeLevel
	if static && timeLevel != "" {
		return nil, errors.InvalidParameter("time_level", timeLevel).
			WithDetail("reason", "static tasks have no time level")
	}

	preds := make(map[string]dataset.Ref, len(o.deps))
	for pname, dep := range o.deps {
		preds[pname] = dep.Ref()
	}

	output, err := dataset.New(dataset.Spec{
		Name:         c.qualify(name),
		Version:      version,
		Static:       static,
		TimeLevel:    timeLevel,
		Params:       o.params,
		Predecessors: preds,
		EngineID:     eng.ID(),
	})
	if err != nil {
		return nil, err
	}

	return &Task{
		name:        c.qualify(name),
		version:     version,
		static:      static,
		timeLevel:   timeLevel,
		fn:          fn,
		params:      o.params,
		deps:        o.deps,
		targetRange: target,
		checker:     checker,
		eng:         eng,
		timeout:     o.timeout,
		output:      output,
		log:         c.log.WithComponent("task"),
	}, nil
}

// deriveChecker implements the default inheritance rule: collect the
// checkers of inheriting time-series dependencies; none means
// irregular, one is used directly, several combine under the strictest
// strategy.
func deriveChecker(deps map[string]Dependency) (completion.Checker, error) {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	var inherited []completion.Checker
	for _, name := range names {
		dep := deps[name]
		if !dep.InheritFrequency || dep.Task == nil || dep.Task.Static() {
			continue
		}
		if dep.Task.Checker() != nil {
			inherited = append(inherited, dep.Task.Checker())
		}
	}
	switch len(inherited) {
	case 0:
		return completion.NewIrregularChecker(), nil
	case 1:
		return inherited[0], nil
	default:
		comp, err := completion.NewComposite(completion.Strictest, inherited...)
		if err != nil {
			return nil, fmt.Errorf("deriving completion checker: %w", err)
		}
		return comp, nil
	}
}
