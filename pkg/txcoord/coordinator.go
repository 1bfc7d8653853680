package txcoord

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"batchtx/pkg/batch"
)

// DefaultBarrierTimeout bounds how long a worker waits for its siblings.
const DefaultBarrierTimeout = 2 * time.Second

// Observer receives lifecycle events, typically to feed metrics.
type Observer interface {
	BatchFinished(mode Mode, state State, elapsed time.Duration)
	BarrierTimedOut()
	InvocationFinished(mode Mode, success bool, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) BatchFinished(Mode, State, time.Duration)     {}
func (nopObserver) BarrierTimedOut()                             {}
func (nopObserver) InvocationFinished(Mode, bool, time.Duration) {}

// Coordinator holds the configuration shared by every invocation: the
// transaction manager, the barrier timeout, and logging and metrics hooks.
// A Coordinator is safe for concurrent use; each invocation gets its own
// barrier, flag and failure record.
type Coordinator struct {
	txm      TxManager
	timeout  time.Duration
	limit    int
	logger   zerolog.Logger
	observer Observer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBarrierTimeout sets how long each worker waits on the barrier.
// Non-positive values are ignored.
func WithBarrierTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for worker and invocation events.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithObserver installs an Observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithConcurrencyLimit caps the number of batches Execute runs at once.
// It does not apply to the transactional modes, whose workers must all be
// alive at the barrier together.
func WithConcurrencyLimit(n int) Option {
	return func(c *Coordinator) { c.limit = n }
}

// New returns a Coordinator. txm may be nil if only Execute is used.
func New(txm TxManager, opts ...Option) *Coordinator {
	c := &Coordinator{
		txm:      txm,
		timeout:  DefaultBarrierTimeout,
		logger:   zerolog.Nop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BarrierTimeout returns the configured barrier timeout.
func (c *Coordinator) BarrierTimeout() time.Duration {
	return c.timeout
}

// invocation is the state shared by the workers of one call.
type invocation struct {
	id       string
	mode     Mode
	started  time.Time
	barrier  *Barrier
	flag     OutcomeFlag
	failures failureLog
	logger   zerolog.Logger
}

func (c *Coordinator) newInvocation(mode Mode, participants int) *invocation {
	id := uuid.NewString()
	inv := &invocation{
		id:      id,
		mode:    mode,
		started: time.Now(),
		logger:  c.logger.With().Str("invocation", id).Str("mode", mode.String()).Logger(),
	}
	if mode != ModePlain {
		inv.barrier = NewBarrier(participants)
	}
	return inv
}

// fail records err against batch index i and flips the shared flag.
func (inv *invocation) fail(i int, kind Kind, err error) {
	inv.flag.MarkFailed()
	inv.failures.add(&BatchError{Batch: i, Kind: kind, Err: err})
}

func (c *Coordinator) finish(inv *invocation, reports []BatchReport) *Result {
	failures := inv.failures.snapshot()
	res := &Result{
		ID:       inv.id,
		Mode:     inv.mode,
		Success:  len(failures) == 0,
		Failures: failures,
		Batches:  reports,
		Started:  inv.started,
		Elapsed:  time.Since(inv.started),
	}
	c.observer.InvocationFinished(res.Mode, res.Success, res.Elapsed)

	ev := inv.logger.Info()
	if !res.Success {
		ev = inv.logger.Warn().Int("failures", len(failures)).Err(res.Err())
	}
	ev.Int("batches", len(reports)).
		Int("items", res.Items()).
		Bool("success", res.Success).
		Dur("elapsed", res.Elapsed).
		Msg("invocation finished")
	return res
}

// ExecuteWithTransaction splits items into batches of at most batchSize and
// runs fn for each batch concurrently, each inside its own transaction. All
// transactions commit if every batch succeeds and every worker passes the
// barrier in time; otherwise all of them roll back.
//
// The returned error is non-nil only for invalid input, in which case no
// worker is started. Batch failures are reported through the Result.
func ExecuteWithTransaction[T any](ctx context.Context, c *Coordinator, items []T, batchSize int, fn BatchFunc[T]) (*Result, error) {
	if c.txm == nil {
		return nil, ErrNoTxManager
	}
	batches, err := batch.Split(items, batchSize)
	if err != nil {
		return nil, err
	}

	inv := c.newInvocation(ModeTransactional, len(batches))
	inv.logger.Debug().Int("batches", len(batches)).Int("items", len(items)).Msg("starting transactional invocation")

	reports := make([]BatchReport, len(batches))
	var wg sync.WaitGroup
	for i, b := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := newWorker(c, inv, i, b, fn)
			reports[i] = w.run(ctx)
		}()
	}
	wg.Wait()

	return c.finish(inv, reports), nil
}

// Execute splits items into batches and runs fn for each batch concurrently
// without transactions, barrier or shared flag. A failing batch does not
// affect its siblings; its error is reported in the Result.
func Execute[T any](ctx context.Context, c *Coordinator, items []T, batchSize int, fn BatchFunc[T]) (*Result, error) {
	batches, err := batch.Split(items, batchSize)
	if err != nil {
		return nil, err
	}

	inv := c.newInvocation(ModePlain, len(batches))
	reports := make([]BatchReport, len(batches))

	var g errgroup.Group
	if c.limit > 0 {
		g.SetLimit(c.limit)
	}
	for i, b := range batches {
		g.Go(func() error {
			w := newWorker(c, inv, i, b, fn)
			reports[i] = w.runPlain(ctx)
			return nil
		})
	}
	_ = g.Wait()

	return c.finish(inv, reports), nil
}
