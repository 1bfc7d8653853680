package txcoord

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// worker runs one batch. In the transactional modes it moves through
// Created → BusinessExecuting → AwaitingBarrier → Deciding and ends in
// Committed or RolledBack.
type worker[T any] struct {
	c      *Coordinator
	inv    *invocation
	index  int
	items  []T
	fn     BatchFunc[T]
	state  State
	logger zerolog.Logger
}

func newWorker[T any](c *Coordinator, inv *invocation, index int, items []T, fn BatchFunc[T]) *worker[T] {
	return &worker[T]{
		c:      c,
		inv:    inv,
		index:  index,
		items:  items,
		fn:     fn,
		state:  StateCreated,
		logger: inv.logger.With().Int("batch", index).Int("size", len(items)).Logger(),
	}
}

func (w *worker[T]) run(ctx context.Context) BatchReport {
	start := time.Now()
	report := func(err error) BatchReport {
		elapsed := time.Since(start)
		w.c.observer.BatchFinished(w.inv.mode, w.state, elapsed)
		return BatchReport{Index: w.index, Size: len(w.items), State: w.state, Err: err, Elapsed: elapsed}
	}

	// Finalization must run even if the caller's context is cancelled.
	finalCtx := context.WithoutCancel(ctx)

	tx, err := w.c.txm.Begin(ctx)
	if err != nil {
		err = fmt.Errorf("begin: %w", err)
		w.inv.fail(w.index, KindTransaction, err)
		w.inv.barrier.Signal()
		w.state = StateFailed
		w.logger.Warn().Err(err).Msg("could not open transaction")
		return report(err)
	}

	w.state = StateBusinessExecuting
	bizErr := w.execute(WithTx(ctx, tx), true)

	w.state = StateAwaitingBarrier
	switch w.inv.barrier.Await(w.c.timeout) {
	case TimedOut:
		w.inv.fail(w.index, KindBarrierTimeout, fmt.Errorf("%w after %s", ErrBarrierTimeout, w.c.timeout))
		w.c.observer.BarrierTimedOut()
		w.logger.Warn().Dur("timeout", w.c.timeout).Msg("barrier wait timed out")
	case Broken:
		w.inv.flag.MarkFailed()
	}

	w.state = StateDeciding
	if w.inv.flag.Failed() {
		if err := tx.Rollback(finalCtx); err != nil {
			err = fmt.Errorf("rollback: %w", err)
			w.inv.fail(w.index, KindTransaction, err)
			w.state = StateFailed
			w.logger.Error().Err(err).Msg("rollback failed")
			return report(err)
		}
		w.state = StateRolledBack
		w.logger.Debug().Msg("rolled back")
		return report(bizErr)
	}

	if err := tx.Commit(finalCtx); err != nil {
		err = fmt.Errorf("commit: %w", err)
		w.inv.fail(w.index, KindTransaction, err)
		w.state = StateFailed
		w.logger.Error().Err(err).Msg("commit failed")
		return report(err)
	}
	w.state = StateCommitted
	w.logger.Debug().Msg("committed")
	return report(nil)
}

func (w *worker[T]) runPlain(ctx context.Context) BatchReport {
	start := time.Now()
	w.state = StateBusinessExecuting
	err := w.execute(ctx, false)
	if err != nil {
		w.state = StateFailed
	} else {
		w.state = StateCompleted
	}
	elapsed := time.Since(start)
	w.c.observer.BatchFinished(w.inv.mode, w.state, elapsed)
	return BatchReport{Index: w.index, Size: len(w.items), State: w.state, Err: err, Elapsed: elapsed}
}

// execute runs the business function, recording any error or panic. When
// signal is set the barrier is signaled on every path out of the call.
func (w *worker[T]) execute(ctx context.Context, signal bool) (err error) {
	if signal {
		defer w.inv.barrier.Signal()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		if err != nil {
			w.inv.fail(w.index, KindBusiness, err)
			w.logger.Warn().Err(err).Msg("batch failed")
			return
		}
		w.logger.Debug().Msg("batch done")
	}()
	return w.fn(ctx, w.items)
}
