/*
Package sequencer implements the per-resource operation sequencer: the
single mutation gate through which both RPC handlers and the reconciler
drive changes to a Spec.

Every Spec carries one pending-operation slot, committed or rolled
back based on the data-plane's reported result; a shared Transaction
interface generalizes the slot across resource kinds.

A Sequencer never blocks indefinitely: RPC handlers call Lock (blocking,
respecting ctx); the reconciler calls TryLock (non-blocking, skipping a
busy resource rather than waiting on it).
*/
package sequencer

import (
	"context"
	"sync"

	"github.com/noriteio/norite/pkg/errs"
)

// Transaction is implemented by a Spec's operation-record holder.
// PendingOp/SetOpResult/CommitOp/ClearOp all operate on whatever
// operation type the concrete Spec embeds.
type Transaction interface {
	// PendingOp reports whether an operation is currently in flight.
	PendingOp() bool
	// SetOpResult records the outcome of the data-plane call for the
	// currently pending operation.
	SetOpResult(result bool)
	// CommitOp applies the pending operation's effect if its result is
	// true, or discards it if false, then clears the slot either way.
	CommitOp()
	// ClearOp unconditionally clears the pending operation slot. Used on
	// recovery paths where the reconciler chooses not to re-drive an
	// in-flight mutation.
	ClearOp()
}

// Sequencer is the per-resource serialization slot. It embeds a mutex so
// a single resource never has two concurrent mutations in flight,
// while distinct resources proceed fully in parallel.
type Sequencer struct {
	mu       sync.Mutex
	resource string
}

// New returns a Sequencer for the named resource (used only for error
// messages / observability, not identity).
func New(resource string) *Sequencer {
	return &Sequencer{resource: resource}
}

// Lock blocks until the sequencer is free or ctx is done. RPC handlers
// use this; unlike the reconciler they wait for a busy resource.
func (s *Sequencer) Lock(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.mu.Lock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// The acquiring goroutine still lands eventually; release the
		// slot as soon as it does so a cancelled caller never leaves
		// the resource locked.
		go func() {
			<-done
			s.mu.Unlock()
		}()
		return ctx.Err()
	}
}

// TryLock attempts to acquire the sequencer without blocking. The
// reconciler uses this so a busy resource is skipped this tick rather
// than stalling the whole sweep.
func (s *Sequencer) TryLock() bool {
	return s.mu.TryLock()
}

// Unlock releases the sequencer. Must be called exactly once per
// successful Lock/TryLock.
func (s *Sequencer) Unlock() {
	s.mu.Unlock()
}

// GuardStart enforces the at-most-one-pending-operation rule before a
// concrete StartOp populates the slot. Concrete Spec types call
// this from their own typed StartX method after acquiring the sequencer,
// e.g.:
//
//	seq.Lock(ctx)
//	defer seq.Unlock()
//	if err := sequencer.GuardStart(txn, "Nexus"); err != nil { return err }
//	spec.Operation = &types.NexusOperationState{Operation: op}
func GuardStart(t Transaction, resource string) error {
	if t.PendingOp() {
		return errs.OpInProgress(resource)
	}
	return nil
}
