// Package txcoord runs batches of work concurrently, each inside its own local
// transaction, and makes every batch reach the same outcome: either all of the
// transactions commit or all of them roll back.
//
// There is no distributed transaction coordinator involved. Each batch worker
// opens a transaction through a TxManager, runs the caller's BatchFunc, and
// then reports to a shared Barrier. Only when every worker has reported does
// any worker consult the shared OutcomeFlag and finalize its transaction. A
// worker that fails, or that waits on the barrier for longer than the
// configured timeout, flips the flag and every transaction is rolled back.
//
// Three entry points are provided:
//
//   - ExecuteWithTransaction splits the input and coordinates one worker per batch.
//   - Execute fans batches out without transactions or a barrier.
//   - Session lets the caller declare a participant count up front, submit
//     items one by one and collect the outcome with Sync.
//
// Atomicity holds only for the commit/rollback decision. A transaction
// manager that fails while committing after a sibling has already committed
// cannot be undone here; such failures are reported in the Result.
package txcoord
