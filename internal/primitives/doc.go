// Package primitives provides the foundational data structures shared by the
// synchronization-point manager and the thread coordinator.
//
// It defines:
//   - State and Point, the synchronization-point token and its lifecycle
//   - ThreadState and ProcessType, the per-thread barrier bookkeeping
//   - the error taxonomy and the Terminator fatal path
//   - Waiter, the bounded busy-poll used by every blocking call
//   - FederateConfig and friends, the YAML/JSON configuration documents
//
// Core invariants:
//   - a State only moves forward, except the SYNCHRONIZED to KNOWN reset
//   - no lock is held while a Waiter sleeps
package primitives
