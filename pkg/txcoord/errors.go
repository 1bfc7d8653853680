package txcoord

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"batchtx/pkg/batch"
)

var (
	// ErrInvalidBatchSize is returned for a batch size below one.
	ErrInvalidBatchSize = batch.ErrInvalidBatchSize
	// ErrInvalidParticipants is returned when a Session is declared with
	// fewer than one participant.
	ErrInvalidParticipants = errors.New("txcoord: invalid participant count")
	// ErrNoTxManager is returned by the transactional modes when the
	// Coordinator was built without a TxManager.
	ErrNoTxManager = errors.New("txcoord: no transaction manager")
	// ErrBarrierTimeout is recorded for the worker whose barrier wait expired.
	ErrBarrierTimeout = errors.New("txcoord: barrier wait timed out")
	// ErrPanic wraps a value recovered from a panicking BatchFunc.
	ErrPanic = errors.New("txcoord: batch function panicked")
	// ErrTooManySubmissions is returned by Session.Submit once every declared
	// participant has been submitted.
	ErrTooManySubmissions = errors.New("txcoord: more submissions than declared participants")
	// ErrMissingParticipants is recorded by Session.Sync when fewer items
	// were submitted than declared.
	ErrMissingParticipants = errors.New("txcoord: fewer submissions than declared participants")
	// ErrSessionClosed is returned by Session.Submit after Sync.
	ErrSessionClosed = errors.New("txcoord: session already synced")
)

// Kind classifies a batch failure.
type Kind int

const (
	// KindBusiness is an error returned (or panic raised) by the BatchFunc.
	KindBusiness Kind = iota + 1
	// KindBarrierTimeout is a barrier wait that exceeded the timeout.
	KindBarrierTimeout
	// KindTransaction is a failure of the TxManager to begin, commit or
	// roll back.
	KindTransaction
	// KindSession is an invocation-level failure of a Session.
	KindSession
)

func (k Kind) String() string {
	switch k {
	case KindBusiness:
		return "business"
	case KindBarrierTimeout:
		return "barrier timeout"
	case KindTransaction:
		return "transaction"
	case KindSession:
		return "session"
	default:
		return "unknown"
	}
}

// BatchError is a failure attributed to one batch.
type BatchError struct {
	Batch int
	Kind  Kind
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d: %s: %v", e.Batch, e.Kind, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// failureLog collects failures from concurrent workers.
type failureLog struct {
	mu   sync.Mutex
	errs []*BatchError
}

func (l *failureLog) add(err *BatchError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

// snapshot returns the failures ordered by batch index.
func (l *failureLog) snapshot() []error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sorted := make([]*BatchError, len(l.errs))
	copy(sorted, l.errs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Batch < sorted[j].Batch })

	out := make([]error, len(sorted))
	for i, e := range sorted {
		out[i] = e
	}
	return out
}
