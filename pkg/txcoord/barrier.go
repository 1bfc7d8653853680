package txcoord

import (
	"sync"
	"time"
)

// AwaitOutcome reports how a Barrier.Await call ended.
type AwaitOutcome int

const (
	// Released means every participant signaled before any waiter gave up.
	Released AwaitOutcome = iota
	// TimedOut means this waiter's timeout expired and it broke the barrier.
	TimedOut
	// Broken means another waiter timed out, or the barrier was broken
	// explicitly, before the last participant signaled.
	Broken
)

func (o AwaitOutcome) String() string {
	switch o {
	case Released:
		return "released"
	case TimedOut:
		return "timed out"
	case Broken:
		return "broken"
	default:
		return "unknown"
	}
}

type barrierState int

const (
	barrierOpen barrierState = iota
	barrierReleased
	barrierBroken
)

// Barrier is a one-shot countdown gate for a fixed number of participants.
//
// Each participant calls Signal once and then Await. The barrier either
// releases, when the count reaches zero, or breaks, when a waiter times out
// first. The transition happens once under the barrier's lock, so every
// waiter observes the same outcome even if the last Signal and a timeout race.
type Barrier struct {
	mu      sync.Mutex
	pending int
	state   barrierState
	done    chan struct{}
}

// NewBarrier returns a barrier for n participants. A barrier for zero
// participants is released from the start.
func NewBarrier(n int) *Barrier {
	if n < 0 {
		panic("txcoord: negative barrier participant count")
	}
	b := &Barrier{pending: n, done: make(chan struct{})}
	if n == 0 {
		b.state = barrierReleased
		close(b.done)
	}
	return b
}

// Signal records that one participant finished its work. It never blocks.
// Signaling more times than there are participants panics.
func (b *Barrier) Signal() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending == 0 {
		panic("txcoord: barrier signaled more times than participants")
	}
	b.pending--
	if b.pending == 0 && b.state == barrierOpen {
		b.state = barrierReleased
		close(b.done)
	}
}

// Pending returns the number of participants that have not signaled yet.
func (b *Barrier) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Await blocks until the barrier is released or broken, or until timeout
// elapses. On timeout the barrier is broken for every waiter unless it was
// released in the meantime, in which case Released is returned.
func (b *Barrier) Await(timeout time.Duration) AwaitOutcome {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-b.done:
		return b.outcome()
	case <-timer.C:
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != barrierOpen {
		return b.outcomeLocked()
	}
	b.state = barrierBroken
	close(b.done)
	return TimedOut
}

// Break breaks an open barrier, waking every waiter with Broken. It reports
// whether the barrier was still open.
func (b *Barrier) Break() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != barrierOpen {
		return false
	}
	b.state = barrierBroken
	close(b.done)
	return true
}

func (b *Barrier) outcome() AwaitOutcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outcomeLocked()
}

func (b *Barrier) outcomeLocked() AwaitOutcome {
	if b.state == barrierReleased {
		return Released
	}
	return Broken
}
