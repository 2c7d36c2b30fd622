package models

import (
	"log/slog"
	"sync"
	"time"
)

// RunState is the lifecycle position of a PipelineRun.
type RunState string

const (
	StateQueued         RunState = "QUEUED"
	StateSourceFetching RunState = "SOURCE_FETCHING"
	StatePageOCRFanOut  RunState = "PAGE_OCR_FAN_OUT"
	StateStitchBarrier  RunState = "STITCH_BARRIER"
	StateCommitPending  RunState = "COMMIT_PENDING"
	StatePreviewPending RunState = "PREVIEW_PENDING"
	StateNotifyPending  RunState = "NOTIFY_PENDING"
	StateDone           RunState = "DONE"
	StateFailed         RunState = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s RunState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

type StateChange struct {
	State  RunState
	At     time.Time
	Reason string
}

// PipelineRun is the in-memory record of one OCR submission. Target ids are
// fixed before any task runs and survive retries.
type PipelineRun struct {
	RunID           string
	DocumentID      string
	SourceVersionID string
	SourceFileName  string
	SourcePageCount int
	TargetVersionID string
	TargetPageIDs   []string
	Lang            string

	mu      sync.Mutex
	State   RunState
	History []StateChange
}

// Transition records a state change and logs it. Changes after a terminal
// state are ignored.
func (r *PipelineRun) Transition(logger *slog.Logger, state RunState, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State.Terminal() {
		return
	}
	from := r.State
	r.State = state
	r.History = append(r.History, StateChange{State: state, At: time.Now(), Reason: reason})
	if logger != nil {
		logger.Info("pipeline state changed",
			"runId", r.RunID,
			"documentId", r.DocumentID,
			"from", from,
			"to", state,
			"reason", reason)
	}
}

// Visited reports whether the run ever entered state.
func (r *PipelineRun) Visited(state RunState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.History {
		if c.State == state {
			return true
		}
	}
	return false
}

// CurrentState is safe to call while tasks are running.
func (r *PipelineRun) CurrentState() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.State
}
