package runner

import (
	"context"
	"sync"
	"time"

	"github.com/kbukum/datagraph/errors"
	"github.com/kbukum/datagraph/graph"
	"github.com/kbukum/datagraph/logger"
	"github.com/kbukum/datagraph/task"
)

// Parallel executes independent nodes concurrently on a worker pool. A
// node becomes ready only when every predecessor reached a terminal
// state; completion of the last predecessor enqueues it.
type Parallel struct {
	cfg Config
	log *logger.Logger
}

// NewParallel builds a parallel runner.
func NewParallel(cfg Config, log *logger.Logger) *Parallel {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Parallel{cfg: cfg, log: log.WithComponent("runner.parallel")}
}

// Run executes every node reachable from the targets with cfg.Workers
// workers. Cancellation stops dispatching; in-flight tasks finish or
// observe the context, and undispatched nodes report cancelled.
func (r *Parallel) Run(ctx context.Context, targets ...*task.Task) (*Report, error) {
	g, err := graph.Build(targets...)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	run := &parallelRun{
		cfg:       r.cfg,
		log:       r.log,
		graph:     g,
		report:    &Report{Results: make(map[string]NodeResult, g.Len())},
		remaining: make(map[[32]byte]int, g.Len()),
		ready:     make(chan *graph.Node, g.Len()),
	}

	for _, node := range g.Order() {
		run.remaining[node.Hash()] = len(node.Predecessors())
	}
	for _, node := range g.Order() {
		if run.remaining[node.Hash()] == 0 {
			run.ready <- node
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run.work(ctx)
		}()
	}
	wg.Wait()

	// nodes never dispatched (cancellation) report as cancelled
	for _, node := range g.Order() {
		if _, ok := run.report.Of(node); !ok {
			run.mu.Lock()
			record(run.report, node, NodeResult{Outcome: OutcomeCancelled,
				Err: errors.Cancelled(node.Name())})
			run.mu.Unlock()
		}
	}

	run.report.Duration = time.Since(start)
	logReport(r.log, g, run.report)
	return run.report, nil
}

type parallelRun struct {
	cfg   Config
	log   *logger.Logger
	graph *graph.Graph

	mu        sync.Mutex
	report    *Report
	remaining map[[32]byte]int
	ready     chan *graph.Node
}

// work drains the ready queue until it closes or the context cancels.
func (pr *parallelRun) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case node, ok := <-pr.ready:
			if !ok {
				return
			}
			pr.execute(ctx, node)
		}
	}
}

func (pr *parallelRun) execute(ctx context.Context, node *graph.Node) {
	res := executeNode(ctx, pr.cfg, pr.graph, pr.snapshot(), node, pr.log)
	pr.finish(node, res)
}

// snapshot gives executeNode a consistent view of recorded results.
// Predecessors of a dispatched node are always terminal already, so the
// copy is race-free for the checks executeNode performs.
func (pr *parallelRun) snapshot() *Report {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	copied := &Report{Results: make(map[string]NodeResult, len(pr.report.Results))}
	for k, v := range pr.report.Results {
		copied.Results[k] = v
	}
	return copied
}

// finish records a result and enqueues dependents whose predecessors
// are now all terminal. The queue closes when every node is recorded.
func (pr *parallelRun) finish(node *graph.Node, res NodeResult) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	record(pr.report, node, res)

	for _, dep := range node.Dependents() {
		h := dep.Hash()
		pr.remaining[h]--
		if pr.remaining[h] == 0 {
			pr.ready <- dep
		}
	}

	if len(pr.report.Results) == pr.graph.Len() {
		close(pr.ready)
	}
}
