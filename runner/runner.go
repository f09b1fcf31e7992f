package runner

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/datagraph/dataset"
	"github.com/kbukum/datagraph/errors"
	"github.com/kbukum/datagraph/graph"
	"github.com/kbukum/datagraph/logger"
	"github.com/kbukum/datagraph/observability"
	"github.com/kbukum/datagraph/task"
)

// Config tunes a runner.
type Config struct {
	// Workers is the pool size of the parallel runner; the serial runner
	// ignores it.
	Workers int `yaml:"workers" mapstructure:"workers"`
	// MaxRetries bounds retries of transient engine errors per node.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
	// Tracing opens one span per executed node.
	Tracing bool `yaml:"tracing" mapstructure:"tracing"`
}

// ApplyDefaults applies default values to the configuration.
func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
}

// Serial executes graphs one node at a time in deterministic order:
// given identical inputs, the sequence of invocations and writes is
// identical across runs.
type Serial struct {
	cfg Config
	log *logger.Logger
}

// NewSerial builds a serial runner.
func NewSerial(cfg Config, log *logger.Logger) *Serial {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Serial{cfg: cfg, log: log.WithComponent("runner.serial")}
}

// Run executes every node reachable from the targets. It never returns
// a user-function error; per-node outcomes live in the report.
func (r *Serial) Run(ctx context.Context, targets ...*task.Task) (*Report, error) {
	g, err := graph.Build(targets...)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	report := &Report{Results: make(map[string]NodeResult, g.Len())}

	for _, node := range g.Order() {
		if ctx.Err() != nil {
			record(report, node, NodeResult{Outcome: OutcomeCancelled,
				Err: errors.Cancelled(node.Name())})
			continue
		}
		record(report, node, executeNode(ctx, r.cfg, g, report, node, r.log))
	}

	report.Duration = time.Since(start)
	logReport(r.log, g, report)
	return report, nil
}

func logReport(log *logger.Logger, g *graph.Graph, report *Report) {
	log.Info("run finished", logger.Fields(
		"nodes", g.Len(),
		"success", report.Count(OutcomeSuccess),
		"skipped", report.Count(OutcomeSkipped),
		"blocked", report.Count(OutcomeBlockedUpstream),
		"failed", report.Count(OutcomeFailed),
		logger.FieldDuration, report.Duration.Milliseconds(),
	))
}

func record(report *Report, node *graph.Node, res NodeResult) {
	res.Name = node.Name()
	res.Hash = dataset.HashString(node.Ref)
	report.Results[res.Hash] = res
}

// executeNode applies the shared per-node policy: skip when complete,
// block when a predecessor did not succeed, otherwise run with retry,
// timeout, and tracing.
func executeNode(ctx context.Context, cfg Config, g *graph.Graph, report *Report, node *graph.Node, log *logger.Logger) NodeResult {
	start := time.Now()
	res := executeNodePolicy(ctx, cfg, g, report, node, log)
	res.Duration = time.Since(start)
	return res
}

func executeNodePolicy(ctx context.Context, cfg Config, g *graph.Graph, report *Report, node *graph.Node, log *logger.Logger) NodeResult {
	if node.IsAssumption() {
		return checkAssumption(ctx, g, node)
	}

	complete, err := node.Task.Complete(ctx)
	if err != nil {
		return NodeResult{Outcome: OutcomeFailed, Err: err}
	}
	if complete {
		return NodeResult{Outcome: OutcomeSkipped}
	}

	for _, pred := range node.Predecessors() {
		predRes, ok := report.Of(pred)
		if !ok || !predRes.Outcome.terminalSuccess() {
			return NodeResult{
				Outcome: OutcomeBlockedUpstream,
				Err:     errors.UpstreamIncomplete(node.Name(), pred.Name()),
			}
		}
	}

	return runTask(ctx, cfg, node.Task, log)
}

// checkAssumption validates a metadata-only ancestor: it must already
// exist in its engine; the run cannot produce it.
func checkAssumption(ctx context.Context, g *graph.Graph, node *graph.Node) NodeResult {
	e, ok := g.Engine(node.Ref.EngineID())
	if !ok {
		return NodeResult{Outcome: OutcomeFailed,
			Err: errors.NotFound(node.Name(), dataset.HashString(node.Ref)).
				WithDetail("reason", "no engine known for id "+node.Ref.EngineID())}
	}
	exists, err := e.Exists(ctx, node.Ref)
	if err != nil {
		return NodeResult{Outcome: OutcomeFailed, Err: err}
	}
	if !exists {
		return NodeResult{Outcome: OutcomeFailed,
			Err: errors.NotFound(node.Name(), dataset.HashString(node.Ref))}
	}
	return NodeResult{Outcome: OutcomeSkipped}
}

// runTask invokes one task with tracing, per-task timeout, and bounded
// retries of transient engine errors.
func runTask(ctx context.Context, cfg Config, t *task.Task, log *logger.Logger) NodeResult {
	runCtx := ctx
	var cancel context.CancelFunc
	if t.Timeout() > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.Timeout())
		defer cancel()
	}

	if cfg.Tracing {
		var span trace.Span
		runCtx, span = observability.StartSpan(runCtx, observability.SpanRunnerNode)
		observability.SetSpanAttribute(runCtx, observability.AttrDataset, t.Name())
		observability.SetSpanAttribute(runCtx, observability.AttrHash, dataset.HashString(t.Output()))
		defer span.End()
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(cfg.MaxRetries)),
		runCtx,
	)
	var res task.Result
	err := backoff.Retry(func() error {
		res = t.Run(runCtx)
		if res.Status != task.StatusFailed {
			return nil
		}
		if errors.IsRetryable(res.Err) {
			log.Warn("transient failure, retrying", logger.ErrorFields(t.Name(), res.Err))
			return res.Err
		}
		return backoff.Permanent(res.Err)
	}, policy)

	if err != nil {
		var perm *backoff.PermanentError
		if stderrors.As(err, &perm) {
			err = perm.Err
		}
		if t.Timeout() > 0 && runCtx.Err() == context.DeadlineExceeded {
			err = errors.Timeout(t.Name(), t.Timeout()).WithCause(err)
		}
		if cfg.Tracing {
			observability.SetSpanError(runCtx, err)
			observability.SetSpanAttribute(runCtx, observability.AttrOutcome, string(OutcomeFailed))
		}
		return NodeResult{Outcome: OutcomeFailed, Err: err}
	}

	var outcome NodeResult
	switch res.Status {
	case task.StatusIncomplete:
		outcome = NodeResult{Outcome: OutcomeFailed, Err: errors.Completion(res.Reason)}
	case task.StatusAlreadyComplete:
		outcome = NodeResult{Outcome: OutcomeSkipped}
	default:
		outcome = NodeResult{Outcome: OutcomeSuccess}
	}
	if cfg.Tracing {
		observability.SetSpanAttribute(runCtx, observability.AttrOutcome, string(outcome.Outcome))
	}
	return outcome
}
