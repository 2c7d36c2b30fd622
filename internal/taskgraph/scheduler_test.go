package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func newTestScheduler(t *testing.T, queues map[string]int) *Scheduler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := NewScheduler(SchedulerConfig{Queues: queues})
	s.Start(ctx)
	return s
}

func noop(context.Context) error { return nil }

func TestGraphAdd(t *testing.T) {
	g := NewGraph()
	if err := g.Add(Node{Name: "a", Queue: "q", Run: noop}); err != nil {
		t.Fatalf("Add(a) error = %v", err)
	}
	if err := g.Add(Node{Name: "a", Queue: "q", Run: noop}); !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("Add(duplicate) error = %v, want ErrDuplicateNode", err)
	}
	if err := g.Add(Node{Name: "b", Queue: "q", Run: noop}, "missing"); !errors.Is(err, ErrUnknownDep) {
		t.Errorf("Add(unknown dep) error = %v, want ErrUnknownDep", err)
	}
	if err := g.Add(Node{Name: "c", Queue: "q"}); err == nil {
		t.Error("Add(no task) succeeded")
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1", g.Len())
	}
}

func TestExecute_Barrier(t *testing.T) {
	s := newTestScheduler(t, map[string]int{"ocr": 4, "default": 1})

	var mu sync.Mutex
	var pagesDone int
	var pagesAtBarrier int

	g := NewGraph()
	must(t, g.Add(Node{Name: "root", Queue: "default", Run: noop}))
	var pages []string
	for i := 1; i <= 5; i++ {
		name := fmt.Sprintf("page-%d", i)
		delay := time.Duration(6-i) * 5 * time.Millisecond
		must(t, g.Add(Node{Name: name, Queue: "ocr", Run: func(context.Context) error {
			time.Sleep(delay)
			mu.Lock()
			pagesDone++
			mu.Unlock()
			return nil
		}}, "root"))
		pages = append(pages, name)
	}
	must(t, g.Add(Node{Name: "stitch", Queue: "default", Run: func(context.Context) error {
		mu.Lock()
		pagesAtBarrier = pagesDone
		mu.Unlock()
		return nil
	}}, pages...))

	report, err := s.Execute(context.Background(), g)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !report.Succeeded() {
		t.Fatal("report not succeeded")
	}
	if pagesAtBarrier != 5 {
		t.Errorf("stitch saw %d finished pages, want 5", pagesAtBarrier)
	}
	stitch, _ := report.Node("stitch")
	for _, name := range pages {
		page, _ := report.Node(name)
		if stitch.Started.Before(page.Finished) {
			t.Errorf("stitch started before %s finished", name)
		}
	}
}

func TestExecute_FailureCancelsDescendants(t *testing.T) {
	s := newTestScheduler(t, map[string]int{"q": 4})
	boom := errors.New("engine crashed")
	var stitchRan atomic.Bool
	var siblingFinished atomic.Bool

	g := NewGraph()
	must(t, g.Add(Node{Name: "root", Queue: "q", Run: noop}))
	must(t, g.Add(Node{Name: "bad", Queue: "q", Run: func(context.Context) error { return boom }}, "root"))
	must(t, g.Add(Node{Name: "slow", Queue: "q", Run: func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		siblingFinished.Store(true)
		return nil
	}}, "root"))
	must(t, g.Add(Node{Name: "stitch", Queue: "q", Run: func(context.Context) error {
		stitchRan.Store(true)
		return nil
	}}, "bad", "slow"))
	must(t, g.Add(Node{Name: "commit", Queue: "q", Run: noop}, "stitch"))

	report, err := s.Execute(context.Background(), g)
	if !errors.Is(err, boom) {
		t.Fatalf("Execute() error = %v, want %v", err, boom)
	}
	if stitchRan.Load() {
		t.Error("stitch ran after a page failed")
	}
	if !siblingFinished.Load() {
		t.Error("running sibling was not allowed to finish")
	}
	for name, want := range map[string]NodeState{
		"bad":    NodeFailed,
		"slow":   NodeSucceeded,
		"stitch": NodeCancelled,
		"commit": NodeCancelled,
	} {
		got, _ := report.Node(name)
		if got.State != want {
			t.Errorf("%s state = %s, want %s", name, got.State, want)
		}
	}
	commit, _ := report.Node("commit")
	if !errors.Is(commit.Err, ErrCancelled) {
		t.Errorf("commit err = %v, want ErrCancelled", commit.Err)
	}
}

func TestExecute_Retry(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		maxRetries   int
		err          error
		wantAttempts int
		wantErr      bool
	}{
		{"succeeds after transient failures", 2, 6, errTransient, 3, false},
		{"gives up after max retries", 100, 6, errTransient, 7, true},
		{"non-retryable fails at once", 100, 6, errors.New("permanent"), 1, true},
		{"no retries configured", 1, 0, errTransient, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(t, map[string]int{"q": 1})
			var calls atomic.Int32
			var requeues atomic.Int32

			g := NewGraph()
			must(t, g.Add(Node{
				Name:  "fetch",
				Queue: "q",
				Run: func(context.Context) error {
					if int(calls.Add(1)) <= tt.failures {
						return tt.err
					}
					return nil
				},
				Retry: &RetryPolicy{
					MaxRetries: tt.maxRetries,
					Countdown:  time.Millisecond,
					RetryIf:    func(err error) bool { return errors.Is(err, errTransient) },
					OnRequeue:  func(int, error) { requeues.Add(1) },
				},
			}))
			must(t, g.Add(Node{Name: "after", Queue: "q", Run: noop}, "fetch"))

			report, err := s.Execute(context.Background(), g)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			node, _ := report.Node("fetch")
			if node.Attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", node.Attempts, tt.wantAttempts)
			}
			if int(requeues.Load()) != tt.wantAttempts-1 {
				t.Errorf("requeues = %d, want %d", requeues.Load(), tt.wantAttempts-1)
			}
			if tt.wantErr && !errors.Is(err, tt.err) {
				t.Errorf("Execute() error = %v, want wrapped %v", err, tt.err)
			}
		})
	}
}

func TestExecute_CountdownDoesNotHoldWorker(t *testing.T) {
	s := newTestScheduler(t, map[string]int{"q": 1})
	var first atomic.Bool
	otherRan := make(chan time.Time, 1)

	g := NewGraph()
	must(t, g.Add(Node{
		Name:  "retrying",
		Queue: "q",
		Run: func(context.Context) error {
			if !first.Swap(true) {
				return errTransient
			}
			return nil
		},
		Retry: &RetryPolicy{MaxRetries: 1, Countdown: 100 * time.Millisecond, RetryIf: func(error) bool { return true }},
	}))
	must(t, g.Add(Node{Name: "other", Queue: "q", Run: func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		otherRan <- time.Now()
		return nil
	}}))

	start := time.Now()
	if _, err := s.Execute(context.Background(), g); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	// the single worker served "other" while "retrying" waited out its countdown
	if ran := <-otherRan; ran.Sub(start) > 90*time.Millisecond {
		t.Errorf("other ran after %v, worker was held by the countdown", ran.Sub(start))
	}
}

func TestExecute_UnknownQueue(t *testing.T) {
	s := newTestScheduler(t, map[string]int{"q": 1})
	g := NewGraph()
	must(t, g.Add(Node{Name: "lost", Queue: "nowhere", Run: noop}))

	_, err := s.Execute(context.Background(), g)
	if !errors.Is(err, ErrUnknownQueue) {
		t.Errorf("Execute() error = %v, want ErrUnknownQueue", err)
	}
}

func TestExecute_PanicBecomesError(t *testing.T) {
	s := newTestScheduler(t, map[string]int{"q": 1})
	g := NewGraph()
	must(t, g.Add(Node{Name: "p", Queue: "q", Run: func(context.Context) error { panic("bad page") }}))

	report, err := s.Execute(context.Background(), g)
	if err == nil {
		t.Fatal("Execute() error = nil, want panic error")
	}
	if n, _ := report.Node("p"); n.State != NodeFailed {
		t.Errorf("state = %s, want failed", n.State)
	}
}

func TestExecute_StoppedScheduler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(SchedulerConfig{Queues: map[string]int{"q": 1}})
	s.Start(ctx)
	cancel()
	time.Sleep(10 * time.Millisecond)

	g := NewGraph()
	must(t, g.Add(Node{Name: "late", Queue: "q", Run: noop}))
	done := make(chan error, 1)
	go func() {
		_, err := s.Execute(context.Background(), g)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrSchedulerStopped) {
			t.Errorf("Execute() error = %v, want ErrSchedulerStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute() hung on a stopped scheduler")
	}
}

func TestExecute_CancelWhileQueued(t *testing.T) {
	s := newTestScheduler(t, map[string]int{"q": 1})

	started := make(chan struct{})
	release := make(chan struct{})
	busy := NewGraph()
	must(t, busy.Add(Node{Name: "busy", Queue: "q", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	busyDone := make(chan error, 1)
	go func() {
		_, err := s.Execute(context.Background(), busy)
		busyDone <- err
	}()
	<-started

	var lateRan atomic.Bool
	late := NewGraph()
	must(t, late.Add(Node{Name: "late", Queue: "q", Run: func(context.Context) error {
		lateRan.Store(true)
		return nil
	}}))
	ctx, cancel := context.WithCancel(context.Background())
	lateDone := make(chan error, 1)
	go func() {
		_, err := s.Execute(ctx, late)
		lateDone <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	// returns while the only worker is still busy
	select {
	case err := <-lateDone:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Execute() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute() stayed blocked after its context was cancelled")
	}

	close(release)
	if err := <-busyDone; err != nil {
		t.Fatalf("busy graph error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if lateRan.Load() {
		t.Error("worker ran a task whose run was cancelled")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
