package txcoord

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type fakeTx struct {
	id        int
	mgr       *fakeTxManager
	committed atomic.Bool
	rolled    atomic.Bool
}

func (t *fakeTx) Commit(context.Context) error {
	if t.mgr.commitErr != nil && t.mgr.failCommitFor(t.id) {
		return t.mgr.commitErr
	}
	t.committed.Store(true)
	t.mgr.commits.Add(1)
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.mgr.rollbackErr != nil {
		return t.mgr.rollbackErr
	}
	t.rolled.Store(true)
	t.mgr.rollbacks.Add(1)
	return nil
}

// fakeTxManager hands out in-memory transactions and counts how they end.
type fakeTxManager struct {
	mu     sync.Mutex
	opened []*fakeTx

	beginErr     error
	beginFailNth int // 1-based; 0 disables
	commitErr    error
	commitFailID int // 0-based tx id whose commit fails
	rollbackErr  error

	commits   atomic.Int64
	rollbacks atomic.Int64
}

func (m *fakeTxManager) Begin(context.Context) (Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beginErr != nil && (m.beginFailNth == 0 || len(m.opened)+1 == m.beginFailNth) {
		m.opened = append(m.opened, nil)
		return nil, m.beginErr
	}
	tx := &fakeTx{id: len(m.opened), mgr: m}
	m.opened = append(m.opened, tx)
	return tx, nil
}

func (m *fakeTxManager) failCommitFor(id int) bool {
	return id == m.commitFailID
}

func (m *fakeTxManager) Commits() int   { return int(m.commits.Load()) }
func (m *fakeTxManager) Rollbacks() int { return int(m.rollbacks.Load()) }

type recordingObserver struct {
	mu          sync.Mutex
	states      map[State]int
	timeouts    int
	invocations int
	lastSuccess bool
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{states: make(map[State]int)}
}

func (o *recordingObserver) BatchFinished(_ Mode, s State, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states[s]++
}

func (o *recordingObserver) BarrierTimedOut() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timeouts++
}

func (o *recordingObserver) InvocationFinished(_ Mode, success bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.invocations++
	o.lastSuccess = success
}

var errBoom = errors.New("boom")
