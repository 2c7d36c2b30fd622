package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
)

// ErrSchedulerStopped is returned for attempts that could not run because
// the worker pools shut down.
var ErrSchedulerStopped = errors.New("scheduler stopped")

// SchedulerConfig configures a new scheduler.
type SchedulerConfig struct {
	Logger *slog.Logger
	// Queues maps queue names to their worker count.
	Queues    map[string]int
	QueueSize int // per-queue buffer (default 1000)
}

// Scheduler owns one worker pool per queue and executes graphs on them.
// Several graphs may execute concurrently on the same pools.
type Scheduler struct {
	logger *slog.Logger
	pools  map[string]*pool

	startOnce sync.Once
}

type attempt struct {
	ctx     context.Context
	node    *Node
	started time.Time
	done    chan error
}

type pool struct {
	name    string
	workers int
	queue   chan *attempt
	stopped chan struct{}
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}
	s := &Scheduler{logger: logger, pools: make(map[string]*pool, len(cfg.Queues))}
	for name, workers := range cfg.Queues {
		if workers <= 0 {
			workers = 1
		}
		s.pools[name] = &pool{
			name:    name,
			workers: workers,
			queue:   make(chan *attempt, queueSize),
			stopped: make(chan struct{}),
		}
	}
	return s
}

// Start launches the worker goroutines. Workers exit when ctx is cancelled;
// an attempt already running is allowed to finish first.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		for _, p := range s.pools {
			var wg sync.WaitGroup
			for i := 0; i < p.workers; i++ {
				wg.Add(1)
				go func(id int) {
					defer wg.Done()
					s.worker(ctx, p, id)
				}(i)
			}
			go func(p *pool) {
				wg.Wait()
				close(p.stopped)
				s.logger.Info("worker pool stopped", "queue", p.name)
			}(p)
			s.logger.Info("worker pool started", "queue", p.name, "workers", p.workers)
		}
	})
}

func (s *Scheduler) worker(ctx context.Context, p *pool, id int) {
	logger := s.logger.With("queue", p.name, "worker_num", id)
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-p.queue:
			// the run gave up while this attempt waited in the queue
			if err := a.ctx.Err(); err != nil {
				logger.Debug("task skipped", "node", a.node.Name, "error", err)
				a.done <- err
				continue
			}
			a.started = time.Now()
			logger.Debug("task started", "node", a.node.Name)
			a.done <- runTask(a.ctx, a.node)
		}
	}
}

func runTask(ctx context.Context, n *Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", n.Name, r)
		}
	}()
	return n.Run(ctx)
}

type nodeResult struct {
	name     string
	err      error
	attempts int
	started  time.Time
	finished time.Time
}

// Execute runs g to completion and returns its report. A failed node cancels
// every descendant that has not started yet; nodes already running finish.
// The returned error joins the failures of all failed nodes.
func (s *Scheduler) Execute(ctx context.Context, g *Graph) (*Report, error) {
	report := newReport(g)
	if g.Len() == 0 {
		return report, nil
	}

	results := make(chan nodeResult, g.Len())
	state := make(map[string]NodeState, g.Len())
	for _, name := range g.order {
		state[name] = NodePending
	}

	running := 0
	dispatch := func(name string) {
		state[name] = NodeRunning
		report.update(name, func(r *NodeReport) { r.State = NodeRunning })
		running++
		node := g.nodes[name]
		go func() {
			results <- s.runNode(ctx, node)
		}()
	}
	ready := func(name string) bool {
		if state[name] != NodePending {
			return false
		}
		for _, dep := range g.nodes[name].deps {
			if state[dep] != NodeSucceeded {
				return false
			}
		}
		return true
	}

	for _, name := range g.order {
		if len(g.nodes[name].deps) == 0 {
			dispatch(name)
		}
	}

	var errs []error
	for running > 0 {
		res := <-results
		running--

		if res.err == nil {
			state[res.name] = NodeSucceeded
		} else {
			state[res.name] = NodeFailed
			errs = append(errs, fmt.Errorf("task %s: %w", res.name, res.err))
		}
		report.update(res.name, func(r *NodeReport) {
			r.State = state[res.name]
			r.Err = res.err
			r.Attempts = res.attempts
			r.Started = res.started
			r.Finished = res.finished
		})

		if res.err != nil {
			s.logger.Error("task failed", "node", res.name, "attempts", res.attempts, "error", res.err)
			for _, d := range g.descendants(res.name) {
				if state[d] != NodePending {
					continue
				}
				state[d] = NodeCancelled
				report.update(d, func(r *NodeReport) {
					r.State = NodeCancelled
					r.Err = ErrCancelled
				})
			}
			continue
		}

		for _, child := range g.children[res.name] {
			if ready(child) {
				dispatch(child)
			}
		}
	}

	s.logger.Debug("graph settled",
		"succeeded", report.count(NodeSucceeded),
		"failed", report.count(NodeFailed),
		"cancelled", report.count(NodeCancelled))
	return report, errors.Join(errs...)
}

// runNode submits the node to its queue, requeueing per its retry policy.
// The countdown between attempts is spent here, outside the worker pool.
func (s *Scheduler) runNode(ctx context.Context, n *Node) nodeResult {
	res := nodeResult{name: n.Name}
	p, ok := s.pools[n.Queue]
	if !ok {
		res.err = fmt.Errorf("%w: %q", ErrUnknownQueue, n.Queue)
		res.finished = time.Now()
		return res
	}

	attempts := uint(1)
	delay := time.Duration(0)
	retryIf := func(error) bool { return false }
	if n.Retry != nil {
		attempts += uint(max(n.Retry.MaxRetries, 0))
		delay = n.Retry.Countdown
		if n.Retry.RetryIf != nil {
			retryIf = n.Retry.RetryIf
		}
	}

	res.err = retry.Do(
		func() error {
			res.attempts++
			started, err := s.submit(ctx, p, n)
			if res.started.IsZero() {
				res.started = started
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrSchedulerStopped) && retryIf(err)
		}),
		retry.OnRetry(func(i uint, err error) {
			// also called after the final attempt, which is not a requeue
			if i+1 >= attempts {
				return
			}
			s.logger.Warn("task requeued",
				"node", n.Name,
				"queue", n.Queue,
				"attempt", i+1,
				"countdown", delay,
				"error", err)
			if n.Retry != nil && n.Retry.OnRequeue != nil {
				n.Retry.OnRequeue(int(i+1), err)
			}
		}),
	)
	res.finished = time.Now()
	return res
}

// submit queues one attempt and waits for it to settle.
func (s *Scheduler) submit(ctx context.Context, p *pool, n *Node) (time.Time, error) {
	a := &attempt{ctx: ctx, node: n, done: make(chan error, 1)}
	select {
	case p.queue <- a:
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	case <-p.stopped:
		return time.Time{}, ErrSchedulerStopped
	}

	select {
	case err := <-a.done:
		return a.started, err
	case <-ctx.Done():
		// a worker still dequeues the attempt later and skips it
		return time.Time{}, ctx.Err()
	case <-p.stopped:
		// a worker may have finished this attempt just before stopping
		select {
		case err := <-a.done:
			return a.started, err
		default:
			return time.Time{}, ErrSchedulerStopped
		}
	}
}
