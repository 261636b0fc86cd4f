// Package sched implements BVM's green-thread scheduler: the global,
// runnable, and callback thread lists, round-robin-by-bytecode-count
// scheduling, sleep/wait/interrupt, and thread start/termination (§4.F).
// Threads here are plain Go structs with a saved register snapshot — not
// goroutines and not OS threads — matching the "green threads vs. tasks"
// guidance of §9: a per-task register snapshot, per-task stack arenas
// linked in a list, and a switch routine that copies registers in and out
// of one set of globals. Exactly one goroutine ever runs the interpreter
// loop; these lists are mutated only at bytecode boundaries (§5), so no
// additional synchronization guards them.
package sched

import (
	"time"

	"babevm/internal/frame"
	"babevm/internal/heap"
	"babevm/internal/vmerr"
)

// Status is a VM thread's coarse state (§3).
type Status int

const (
	StatusNew Status = iota
	Runnable
	Blocked
	Terminated
)

// Modifier bits apply only while Status == Blocked (§3).
type Modifier int

const (
	ModNone          Modifier = 0
	ModWaiting       Modifier = 1 << iota
	ModTimedWaiting
	ModDebugSuspended
)

// Priority mirrors the guest-visible thread priority used to scale a
// thread's timeslice (§4.F).
type Priority int

const (
	PriorityMin    Priority = 1
	PriorityNormal Priority = 5
	PriorityMax    Priority = 10
)

// Thread is the internal VM thread (§3), one-to-one with a language-level
// thread object living on the heap.
type Thread struct {
	ID       int
	Name     string
	Priority Priority
	Daemon   bool

	LangObj heap.Ref // the language-level Thread object (an OBJECT chunk)

	Status   Status
	Modifier Modifier

	StackHead *frame.Segment
	Regs      frame.Registers // this thread's saved register snapshot

	Timeslice int // bytecodes remaining in this thread's current slice

	WaitingOn      heap.Ref // object this thread is blocked on, if any
	SavedLockDepth int      // lock depth to restore on re-acquisition after wait

	TimeToAwake time.Time
	Interrupted bool

	PendingException *vmerr.Thrown // thrown on next resume, if set

	Callback func(t *Thread) // invoked by the scheduler when TimeToAwake arrives

	NextGlobal   *Thread // global list (pruned only by PruneTerminated, during GC thread marking)
	NextInList   *Thread // runnable list OR callback list, never both
	NextInQueue  *Thread // a monitor's lock queue or wait queue, never both
}

// IsAlive reports whether the thread has started and not yet terminated.
func (t *Thread) IsAlive() bool {
	return t != nil && t.Status != StatusNew && t.Status != Terminated
}
