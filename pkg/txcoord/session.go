package txcoord

import (
	"context"
	"fmt"
	"sync"
)

// Session coordinates a fixed number of participants that are submitted one
// at a time. Every submitted item is started immediately as its own
// transactional worker; all of them share one barrier and one outcome flag,
// so they commit or roll back together exactly as batches do in
// ExecuteWithTransaction.
type Session[T any] struct {
	c   *Coordinator
	fn  BatchFunc[T]
	inv *invocation

	mu           sync.Mutex
	participants int
	submitted    int
	closed       bool
	reports      []BatchReport

	wg     sync.WaitGroup
	once   sync.Once
	result *Result
}

// NewSession declares a session of participants workers running fn.
func NewSession[T any](c *Coordinator, participants int, fn BatchFunc[T]) (*Session[T], error) {
	if c.txm == nil {
		return nil, ErrNoTxManager
	}
	if participants <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidParticipants, participants)
	}
	return &Session[T]{
		c:            c,
		fn:           fn,
		inv:          c.newInvocation(ModeSession, participants),
		participants: participants,
		reports:      make([]BatchReport, participants),
	}, nil
}

// ID returns the invocation ID the Result will carry.
func (s *Session[T]) ID() string {
	return s.inv.id
}

// Submit starts a worker for item. The worker begins its transaction and
// runs fn with ctx. Submit fails once all declared participants have been
// submitted or after Sync.
func (s *Session[T]) Submit(ctx context.Context, item T) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.submitted == s.participants {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d declared", ErrTooManySubmissions, s.participants)
	}
	i := s.submitted
	s.submitted++
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		w := newWorker(s.c, s.inv, i, []T{item}, s.fn)
		s.reports[i] = w.run(ctx)
	}()
	return nil
}

// Sync closes the session, waits for every submitted worker to reach a
// terminal state and returns the outcome. If fewer items were submitted than
// declared, the invocation fails and the waiting workers are released to roll
// back. Sync may be called more than once; later calls return the same Result.
func (s *Session[T]) Sync() *Result {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		submitted := s.submitted
		s.mu.Unlock()

		if missing := s.participants - submitted; missing > 0 {
			s.inv.fail(submitted, KindSession, fmt.Errorf("%w: %d of %d submitted", ErrMissingParticipants, submitted, s.participants))
			s.inv.barrier.Break()
		}
		s.wg.Wait()
		s.result = s.c.finish(s.inv, s.reports[:submitted])
	})
	return s.result
}
