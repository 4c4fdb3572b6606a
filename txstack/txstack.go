// Package txstack implements the driver's nested storage-transaction stack
// (spec component D): commit/rollback of main-trie overlay snapshots.
package txstack

import (
	"github.com/cockroachdb/errors"

	"github.com/iotaledger/runtimehost/overlay"
)

// ErrEmpty is the invariant violation of spec §4.E's EndStorageTransaction
// rule: an End with nothing on the stack is a driver bug, not a normal
// suspension.
var ErrEmpty = errors.New("txstack: End with an empty transaction stack")

// Stack is a last-in-first-out sequence of overlay snapshots.
type Stack struct {
	frames []*overlay.Diff
}

// New creates an empty Stack.
func New() *Stack {
	return &Stack{}
}

// Depth returns the number of open transactions.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// Empty reports whether the stack is empty (spec §3 invariant 5: it must be
// empty at Finished in all well-behaved executions).
func (s *Stack) Empty() bool {
	return len(s.frames) == 0
}

// Start snapshots current (a deep copy, per spec §4.E's StartStorageTransaction
// rule) and pushes it.
func (s *Stack) Start(current *overlay.Diff) {
	s.frames = append(s.frames, current.Clone())
}

// End pops the top snapshot. If rollback is true it is returned to replace
// the caller's working diff; otherwise it is discarded (commit) and nil is
// returned. Returns ErrEmpty if the stack has nothing to pop.
func (s *Stack) End(rollback bool) (*overlay.Diff, error) {
	if len(s.frames) == 0 {
		return nil, ErrEmpty
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	if rollback {
		return top, nil
	}
	return nil, nil
}
