// Package taskgraph runs a directed acyclic graph of tasks on per-queue
// worker pools. A node is dispatched only once every dependency succeeded,
// which is what turns a node with many parents into a barrier.
package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrDuplicateNode = errors.New("duplicate node")
	ErrUnknownDep    = errors.New("unknown dependency")
	ErrUnknownQueue  = errors.New("unknown queue")
	// ErrCancelled marks nodes that never ran because an ancestor failed.
	ErrCancelled = errors.New("cancelled: upstream task failed")
)

// Task is the unit of work of a node.
type Task func(ctx context.Context) error

// RetryPolicy requeues a failed node when RetryIf accepts the error. The
// node is re-submitted to its queue after Countdown; no worker is held while
// waiting.
type RetryPolicy struct {
	MaxRetries int
	Countdown  time.Duration
	RetryIf    func(error) bool
	// OnRequeue is called before each wait, with the 1-based number of the
	// attempt that failed.
	OnRequeue func(attempt int, err error)
}

type Node struct {
	Name  string
	Queue string
	Run   Task
	Retry *RetryPolicy

	deps []string
}

// Deps returns the names of the node's parents.
func (n *Node) Deps() []string { return n.deps }

// Graph is built incrementally. Dependencies must be added before the nodes
// that use them, so a graph can never contain a cycle.
type Graph struct {
	nodes    map[string]*Node
	order    []string
	children map[string][]string
}

func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		children: make(map[string][]string),
	}
}

// Add registers node after all of deps.
func (g *Graph) Add(node Node, deps ...string) error {
	if node.Name == "" {
		return errors.New("node name is required")
	}
	if node.Run == nil {
		return fmt.Errorf("node %s has no task", node.Name)
	}
	if _, ok := g.nodes[node.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, node.Name)
	}
	for _, dep := range deps {
		if _, ok := g.nodes[dep]; !ok {
			return fmt.Errorf("%w: %s depends on %s", ErrUnknownDep, node.Name, dep)
		}
	}

	n := node
	n.deps = append([]string(nil), deps...)
	g.nodes[n.Name] = &n
	g.order = append(g.order, n.Name)
	for _, dep := range deps {
		g.children[dep] = append(g.children[dep], n.Name)
	}
	return nil
}

// Node returns the node registered under name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Names lists nodes in insertion order, which is a topological order.
func (g *Graph) Names() []string {
	return append([]string(nil), g.order...)
}

func (g *Graph) Len() int { return len(g.order) }

// descendants returns every node reachable from name, excluding name.
func (g *Graph) descendants(name string) []string {
	var out []string
	seen := map[string]bool{}
	stack := append([]string(nil), g.children[name]...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		stack = append(stack, g.children[cur]...)
	}
	return out
}
