package taskgraph

import (
	"sync"
	"time"
)

type NodeState string

const (
	NodePending   NodeState = "pending"
	NodeRunning   NodeState = "running"
	NodeSucceeded NodeState = "succeeded"
	NodeFailed    NodeState = "failed"
	NodeCancelled NodeState = "cancelled"
)

type NodeReport struct {
	Name     string
	Queue    string
	State    NodeState
	Attempts int
	Err      error
	Started  time.Time
	Finished time.Time
}

// Report is the outcome of one Execute call.
type Report struct {
	mu    sync.Mutex
	order []string
	nodes map[string]*NodeReport
}

func newReport(g *Graph) *Report {
	r := &Report{order: g.Names(), nodes: make(map[string]*NodeReport, g.Len())}
	for _, name := range r.order {
		n := g.nodes[name]
		r.nodes[name] = &NodeReport{Name: name, Queue: n.Queue, State: NodePending}
	}
	return r
}

func (r *Report) update(name string, fn func(*NodeReport)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.nodes[name])
}

// Node returns a copy of the named node's report.
func (r *Report) Node(name string) (NodeReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[name]
	if !ok {
		return NodeReport{}, false
	}
	return *n, true
}

// Nodes returns all node reports in graph order.
func (r *Report) Nodes() []NodeReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NodeReport, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.nodes[name])
	}
	return out
}

func (r *Report) Succeeded() bool {
	for _, n := range r.Nodes() {
		if n.State != NodeSucceeded {
			return false
		}
	}
	return true
}

func (r *Report) count(state NodeState) int {
	n := 0
	for _, node := range r.Nodes() {
		if node.State == state {
			n++
		}
	}
	return n
}
