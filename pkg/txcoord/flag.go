package txcoord

import "sync/atomic"

// OutcomeFlag is the shared failure marker for one invocation. It starts as
// ok and can only ever move to failed.
type OutcomeFlag struct {
	failed atomic.Bool
}

// MarkFailed flips the flag to failed. It reports whether this call made the
// change; later calls are no-ops.
func (f *OutcomeFlag) MarkFailed() bool {
	return f.failed.CompareAndSwap(false, true)
}

// Failed reports whether any participant marked the flag.
func (f *OutcomeFlag) Failed() bool {
	return f.failed.Load()
}
