// Package engine provides the asynchronous job lifecycle manager. The
// Dispatcher charges owners and enqueues work on the execution backend; the
// Reconciler polls the backend registries and drives each work item from
// queued to done or failed, applying results and refunds exactly once per
// terminal transition.
package engine
