package txcoord

import (
	"errors"
	"time"
)

// Mode identifies which entry point produced a Result.
type Mode int

const (
	ModeTransactional Mode = iota
	ModePlain
	ModeSession
)

func (m Mode) String() string {
	switch m {
	case ModeTransactional:
		return "transactional"
	case ModePlain:
		return "plain"
	case ModeSession:
		return "session"
	default:
		return "unknown"
	}
}

// State is a batch worker's position in its lifecycle.
type State int

const (
	StateCreated State = iota
	StateBusinessExecuting
	StateAwaitingBarrier
	StateDeciding
	// StateCommitted and StateRolledBack are the terminal states of a
	// transactional worker.
	StateCommitted
	StateRolledBack
	// StateCompleted is the terminal state of a successful batch in the
	// non-transactional mode.
	StateCompleted
	// StateFailed is terminal for a batch whose business logic failed in the
	// non-transactional mode, or whose transaction could not be opened or
	// finalized.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBusinessExecuting:
		return "business-executing"
	case StateAwaitingBarrier:
		return "awaiting-barrier"
	case StateDeciding:
		return "deciding"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled-back"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// BatchReport describes how one batch ended.
type BatchReport struct {
	Index   int
	Size    int
	State   State
	Err     error
	Elapsed time.Duration
}

// Result is the aggregated outcome of one invocation. Success is true exactly
// when Failures is empty.
type Result struct {
	ID       string
	Mode     Mode
	Success  bool
	Failures []error
	Batches  []BatchReport
	Started  time.Time
	Elapsed  time.Duration
}

// Err joins all failures into one error, or returns nil on success.
func (r *Result) Err() error {
	return errors.Join(r.Failures...)
}

// Count returns the number of batches that ended in state s.
func (r *Result) Count(s State) int {
	n := 0
	for _, b := range r.Batches {
		if b.State == s {
			n++
		}
	}
	return n
}

// Items returns the total number of items across all batches.
func (r *Result) Items() int {
	n := 0
	for _, b := range r.Batches {
		n += b.Size
	}
	return n
}
