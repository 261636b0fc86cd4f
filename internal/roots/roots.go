// Package roots implements the two LIFO GC-root stacks of BVM §4.B:
// permanent (push-only, lives the whole VM lifetime) and transient (scoped
// by nestable begin/end blocks). Both are exercised directly by the
// garbage collector's root-marking pass (§4.D step 3).
package roots

import (
	"errors"

	"babevm/internal/heap"
)

// ErrExhausted is fatal: either stack ran out of capacity (§4.B).
var ErrExhausted = errors.New("roots: stack exhausted")

// Mark is a snapshot of the transient stack's top index, taken when a
// scoped block opens and restored when it closes.
type Mark int

// FatalFunc reports root-stack exhaustion through the VM's own fatal-exit
// path (§4.B: "reported through internal/vm's fatal-exit path"). It is
// injected rather than imported directly, the same way heap.GCFunc is, so
// this package does not depend on package vmerr, which itself imports
// package roots.
type FatalFunc func(msg string)

// Stacks owns both root stacks, sized once at startup per §6's
// configuration bounds (permanent 100-500, transient 50-5000).
type Stacks struct {
	permanent    []heap.Ref
	permanentTop int

	transient    []heap.Ref
	transientTop int

	// Fatal is invoked on exhaustion instead of a bare Go panic once
	// Machine has wired it in; left nil it falls back to panic(ErrExhausted)
	// so package-level tests can exercise exhaustion without a Machine.
	Fatal FatalFunc
}

// New allocates both stacks with the given capacities.
func New(permanentDepth, transientDepth int) *Stacks {
	return &Stacks{
		permanent: make([]heap.Ref, permanentDepth),
		transient: make([]heap.Ref, transientDepth),
	}
}

// raiseExhausted reports that a root stack ran out of capacity, through
// Fatal if Machine has wired one in, otherwise as a bare panic.
func (s *Stacks) raiseExhausted() {
	if s.Fatal != nil {
		s.Fatal(ErrExhausted.Error())
		return
	}
	panic(ErrExhausted)
}

// PushPermanent adds ref as a root for the remaining lifetime of the VM.
// There is no corresponding pop.
func (s *Stacks) PushPermanent(ref heap.Ref) {
	if s.permanentTop >= len(s.permanent) {
		s.raiseExhausted()
		return
	}
	s.permanent[s.permanentTop] = ref
	s.permanentTop++
}

// PermanentTop returns the current number of live permanent roots.
func (s *Stacks) PermanentTop() int { return s.permanentTop }

// PermanentAt returns the i'th permanent root, i < PermanentTop().
func (s *Stacks) PermanentAt(i int) heap.Ref { return s.permanent[i] }

// BeginTransientBlock opens a new scoped block, snapshotting the current
// transient top. Blocks nest: the transient stack strictly grows within a
// block and strictly contracts across the matching EndTransientBlock.
func (s *Stacks) BeginTransientBlock() Mark {
	return Mark(s.transientTop)
}

// EndTransientBlock restores the transient top to the snapshot taken by
// the matching BeginTransientBlock, releasing every root pushed since.
func (s *Stacks) EndTransientBlock(m Mark) {
	s.transientTop = int(m)
}

// PushTransient adds ref as a root for the duration of the innermost open
// transient block.
func (s *Stacks) PushTransient(ref heap.Ref) {
	if s.transientTop >= len(s.transient) {
		s.raiseExhausted()
		return
	}
	s.transient[s.transientTop] = ref
	s.transientTop++
}

// TransientTop returns the current transient stack top index (also usable
// directly as a Mark).
func (s *Stacks) TransientTop() int { return s.transientTop }

// TransientAt returns the i'th transient root, i < TransientTop().
func (s *Stacks) TransientAt(i int) heap.Ref { return s.transient[i] }

// RestoreTransientTop resets the transient top directly to m, used by the
// exception-unwind protocol (§4.C) to release roots made between a throw
// point and its catch, independent of however many scoped blocks were open
// in between.
func (s *Stacks) RestoreTransientTop(m Mark) {
	s.transientTop = int(m)
}
