package graph

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/kbukum/datagraph/dataset"
	"github.com/kbukum/datagraph/engine"
	"github.com/kbukum/datagraph/task"
)

// Node is one dataset in the run: a task when one was constructed for
// it, otherwise a metadata-only leaf assumption.
type Node struct {
	Ref  dataset.Ref
	Task *task.Task

	predecessors []*Node
	dependents   []*Node
}

// Name returns the dataset name of the node.
func (n *Node) Name() string { return n.Ref.Name() }

// Hash returns the node's content hash.
func (n *Node) Hash() [32]byte { return n.Ref.Hash() }

// IsAssumption reports whether the node has no task in this run.
func (n *Node) IsAssumption() bool { return n.Task == nil }

// Predecessors returns the upstream nodes.
func (n *Node) Predecessors() []*Node {
	return append([]*Node(nil), n.predecessors...)
}

// Dependents returns the downstream nodes.
func (n *Node) Dependents() []*Node {
	return append([]*Node(nil), n.dependents...)
}

// Graph is the discovered DAG, ready for ordered execution.
type Graph struct {
	nodes   map[[32]byte]*Node
	order   []*Node
	engines map[string]engine.Engine
}

// Build discovers the graph reachable from the target tasks.
func Build(targets ...*task.Task) (*Graph, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("graph: no target tasks")
	}

	g := &Graph{
		nodes:   make(map[[32]byte]*Node),
		engines: make(map[string]engine.Engine),
	}

	// walk the task graph first so every constructed task claims its node
	seen := make(map[[32]byte]bool)
	var frontier []*task.Task
	frontier = append(frontier, targets...)
	for len(frontier) > 0 {
		t := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		h := t.Output().Hash()
		if seen[h] {
			continue
		}
		seen[h] = true
		g.nodes[h] = &Node{Ref: t.Output(), Task: t}
		g.engines[t.Engine().ID()] = t.Engine()
		for _, dep := range t.Dependencies() {
			if dep.Task != nil {
				frontier = append(frontier, dep.Task)
			} else if dep.UpstreamEngine != nil {
				g.engines[dep.UpstreamEngine.ID()] = dep.UpstreamEngine
			}
		}
	}

	// then the metadata graph, adding leaf assumptions for ancestors
	// that have no task in this run
	for _, t := range targets {
		for _, ref := range t.Output().Walk() {
			h := ref.Hash()
			if _, ok := g.nodes[h]; !ok {
				g.nodes[h] = &Node{Ref: ref}
			}
		}
	}

	// edges from metadata predecessors
	for _, node := range g.nodes {
		full, ok := node.Ref.(*dataset.Metadata)
		if !ok {
			continue
		}
		for _, pred := range full.Predecessors() {
			p, ok := g.nodes[pred.Hash()]
			if !ok {
				p = &Node{Ref: pred}
				g.nodes[pred.Hash()] = p
			}
			node.predecessors = append(node.predecessors, p)
			p.dependents = append(p.dependents, node)
		}
	}

	for _, node := range g.nodes {
		sortNodes(node.predecessors)
		sortNodes(node.dependents)
	}

	order, err := g.topoOrder()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// Order returns the deterministic topological order.
func (g *Graph) Order() []*Node {
	return append([]*Node(nil), g.order...)
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node for a metadata hash.
func (g *Graph) Node(hash [32]byte) (*Node, bool) {
	n, ok := g.nodes[hash]
	return n, ok
}

// Engine resolves an engine id to an engine known to this run. Leaf
// assumptions are checked through the engine their metadata names.
func (g *Graph) Engine(id string) (engine.Engine, bool) {
	e, ok := g.engines[id]
	return e, ok
}

// topoOrder runs Kahn's algorithm with hash tie-breaking. A cycle is an
// error; content addressing makes one impossible through metadata, so a
// cycle means a corrupted graph.
func (g *Graph) topoOrder() ([]*Node, error) {
	inDegree := make(map[[32]byte]int, len(g.nodes))
	for h, node := range g.nodes {
		inDegree[h] = len(node.predecessors)
	}

	var ready []*Node
	for h, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, g.nodes[h])
		}
	}
	sortNodes(ready)

	var order []*Node
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		order = append(order, node)

		changed := false
		for _, dep := range node.dependents {
			h := dep.Hash()
			inDegree[h]--
			if inDegree[h] == 0 {
				ready = append(ready, dep)
				changed = true
			}
		}
		if changed {
			sortNodes(ready)
		}
	}

	if len(order) != len(g.nodes) {
		return nil, fmt.Errorf("graph: cycle detected, ordered %d of %d nodes", len(order), len(g.nodes))
	}
	return order, nil
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		hi, hj := nodes[i].Hash(), nodes[j].Hash()
		return bytes.Compare(hi[:], hj[:]) < 0
	})
}
