package models

import "testing"

func TestPipelineRun_Transition(t *testing.T) {
	run := &PipelineRun{RunID: "r1"}
	run.Transition(nil, StateQueued, "submitted")
	run.Transition(nil, StateSourceFetching, "")
	run.Transition(nil, StateQueued, "source missing")
	run.Transition(nil, StateSourceFetching, "")
	run.Transition(nil, StateFailed, "gave up")
	run.Transition(nil, StateDone, "late")

	if got := run.CurrentState(); got != StateFailed {
		t.Errorf("CurrentState() = %s, want %s", got, StateFailed)
	}
	if len(run.History) != 5 {
		t.Errorf("len(History) = %d, want 5", len(run.History))
	}
	if run.Visited(StateDone) {
		t.Error("Visited(DONE) = true after terminal failure")
	}
	if !run.Visited(StateQueued) {
		t.Error("Visited(QUEUED) = false")
	}
}
