package sched

import (
	"errors"
	"time"

	"babevm/internal/classdesc"
	"babevm/internal/frame"
	"babevm/internal/heap"
	"babevm/internal/vmerr"
)

// ErrNoRunnableThreads is fatal (§4.F step 3, §6 ExitCodeNoRunnableThreads):
// both the runnable and callback lists are empty.
var ErrNoRunnableThreads = errors.New("sched: no runnable or waiting threads")

// MonitorAcquireFunc lets the scheduler attempt to acquire a monitor during
// thread startup (§4.F "Thread startup") without package sched importing
// package monitor, which itself depends on sched.Scheduler to block/resume
// threads. Machine wires the concrete *monitor.Table in after both exist.
type MonitorAcquireFunc func(obj heap.Ref, t *Thread) bool

// TerminateNotifyFunc notifies every waiter on a terminating thread's own
// monitor (§4.F "Thread termination"), the mechanism Thread.join() depends
// on. Injected the same way MonitorAcquireFunc is, so package sched never
// depends on package monitor, which itself depends on package sched.
type TerminateNotifyFunc func(obj heap.Ref)

// Clock abstracts wall-clock time so tests can drive the callback list
// deterministically instead of racing real sleeps.
type Clock func() time.Time

// Scheduler owns the three thread lists and the currently running thread's
// register set (§4.F).
type Scheduler struct {
	globalHead   *Thread
	runnableHead *Thread
	callbackHead *Thread

	current *Thread

	sliceCounter int
	defaultSlice int

	activeThreads    int
	nonDaemonThreads int
	nextID           int

	now Clock

	MonitorAcquire  MonitorAcquireFunc
	TerminateNotify TerminateNotifyFunc
}

// New creates a scheduler. defaultSlice is the bytecode count a
// PriorityNormal thread runs before Switch is considered (§4.F).
func New(defaultSlice int, clock Clock) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{defaultSlice: defaultSlice, now: clock}
}

// Now returns the scheduler's notion of wall-clock time.
func (s *Scheduler) Now() time.Time { return s.now() }

// Current returns the currently running thread, or nil before bootstrap.
func (s *Scheduler) Current() *Thread { return s.current }

// Registers returns the live global execution registers of the currently
// running thread.
func (s *Scheduler) Registers() *frame.Registers {
	if s.current == nil {
		return nil
	}
	return &s.current.Regs
}

// CreateThread allocates a new VM thread in status NEW, bound to a
// language-level thread object, and links it into the global list.
func (s *Scheduler) CreateThread(langObj heap.Ref, priority Priority, daemon bool, segHeight int) *Thread {
	s.nextID++
	t := &Thread{
		ID:        s.nextID,
		LangObj:   langObj,
		Priority:  priority,
		Daemon:    daemon,
		Status:    StatusNew,
		StackHead: frame.NewSegment(segHeight),
	}
	t.Regs.Segment = t.StackHead
	t.NextGlobal = s.globalHead
	s.globalHead = t
	return t
}

// slice computes the bytecode budget for a thread's priority.
func (s *Scheduler) slice(t *Thread) int { return int(t.Priority) * s.defaultSlice }

// Start begins executing thread t (§4.F "Thread startup"). If pushRun,
// the thread's resolved run() frame is pushed on top of a terminal
// "callback wedge" frame; if run() is synchronized and its monitor can't
// be acquired immediately, the thread is left BLOCKED with a saved lock
// depth of 1 so a later monitor promotion starts it running.
func (s *Scheduler) Start(t *Thread, pushRun bool, runMethod *classdesc.Method) error {
	if t.Status != StatusNew {
		vmerr.Throw(vmerr.IllegalThreadStateException, heap.Null, "thread already started")
	}

	// Briefly make t's registers the live globals to push its frames.
	saved := s.current
	s.current = t

	t.Regs.PushFrame(frame.Wedge, heap.Null, frame.TerminalPC)
	t.StackHead = t.Regs.Segment

	if pushRun && runMethod != nil {
		syncObj := heap.Null
		acquired := true
		if runMethod.Access.Has(classdesc.AccSynchronized) {
			syncObj = t.LangObj
			if s.MonitorAcquire != nil {
				acquired = s.MonitorAcquire(syncObj, t)
			}
		}
		t.Regs.PushFrame(runMethod, syncObj, frame.TerminalPC)
		if syncObj != heap.Null && !acquired {
			t.Status = Blocked
			t.SavedLockDepth = 1
		}
	}

	s.current = saved

	s.activeThreads++
	if !t.Daemon {
		s.nonDaemonThreads++
	}

	// New -> Blocked -> Runnable/Blocked: route the New->Blocked edge through
	// Resume's single entry point into the runnable list so every other
	// status change in the scheduler goes through Block/Resume.
	t.Status = Blocked
	if t.SavedLockDepth == 0 {
		s.Resume(t)
	}
	return nil
}

// Block requires t to be RUNNABLE, removes it from the runnable list, and
// marks it BLOCKED. If t is the current thread, the slice counter is
// forced to zero so the next Switch call picks a different thread.
func (s *Scheduler) Block(t *Thread) {
	if t.Status != Runnable {
		panic("sched: Block requires a RUNNABLE thread")
	}
	s.removeFromList(&s.runnableHead, t)
	t.Status = Blocked
	if t == s.current {
		s.sliceCounter = 0
	}
}

// Resume requires t to be BLOCKED, prepends it to the runnable list, and
// marks it RUNNABLE.
func (s *Scheduler) Resume(t *Thread) {
	if t.Status != Blocked {
		panic("sched: Resume requires a BLOCKED thread")
	}
	t.Status = Runnable
	t.Modifier = ModNone
	t.NextInList = s.runnableHead
	s.runnableHead = t
}

// Sleep blocks the current thread for d, waking it via the callback list.
func (s *Scheduler) Sleep(d time.Duration) {
	t := s.current
	s.Block(t)
	t.Modifier = ModTimedWaiting
	t.TimeToAwake = s.now().Add(d)
	t.Callback = func(th *Thread) { s.Resume(th) }
	s.addToCallbackList(t)
}

// Interrupt sets t's interrupted flag. If t is alive and currently
// blocked waiting or sleeping, an InterruptedException is planted as its
// pending exception and it is scheduled to wake immediately; if t is the
// current thread, its slice is forced to end (§4.F, §5).
func (s *Scheduler) Interrupt(t *Thread) {
	if !t.IsAlive() {
		return
	}
	t.Interrupted = true
	if t.Status == Blocked && (t.Modifier&(ModWaiting|ModTimedWaiting) != 0) {
		t.PendingException = &vmerr.Thrown{Kind: vmerr.InterruptedException, Message: "sleep/wait interrupted"}
		t.TimeToAwake = s.now()
	}
	if t == s.current {
		s.sliceCounter = 0
	}
}

// IsAlive reports whether t has started and not terminated.
func (s *Scheduler) IsAlive(t *Thread) bool { return t.IsAlive() }

// addToCallbackList links t (which must already be Blocked) into the
// callback list.
func (s *Scheduler) addToCallbackList(t *Thread) {
	t.NextInList = s.callbackHead
	s.callbackHead = t
}

// RemoveFromCallbackList detaches t from the callback list if present.
func (s *Scheduler) RemoveFromCallbackList(t *Thread) {
	s.removeFromList(&s.callbackHead, t)
}

// noDeadline stands in for "wake only on an explicit Resume/Interrupt, not
// on our own" in the callback list: far enough out that wakeDueCallbacks
// never treats it as due on its own, but an ordinary time.Time so
// Interrupt's "force TimeToAwake to now" override (see Interrupt) works
// identically whether a thread is in ModTimedWaiting or plain ModWaiting.
const noDeadline = 1<<62 - 1

// EnrollCallback puts t, which the caller has already blocked, on the
// callback list and schedules cb to run when Switch next observes
// t.TimeToAwake has arrived; it does not block t itself. Used by
// package monitor's Wait to hand blocking/waking fully to the scheduler,
// for both timed waits (delay > 0) and indefinite waits (delay <= 0) —
// the latter still rides the callback list so Interrupt can wake it.
func (s *Scheduler) EnrollCallback(t *Thread, delay time.Duration, cb func(*Thread)) {
	if delay > 0 {
		t.Modifier |= ModTimedWaiting
		t.TimeToAwake = s.now().Add(delay)
	} else {
		t.Modifier |= ModWaiting
		t.TimeToAwake = s.now().Add(noDeadline)
	}
	t.Callback = cb
	s.addToCallbackList(t)
}

func (s *Scheduler) removeFromList(head **Thread, t *Thread) {
	if *head == t {
		*head = t.NextInList
		t.NextInList = nil
		return
	}
	for cur := *head; cur != nil; cur = cur.NextInList {
		if cur.NextInList == t {
			cur.NextInList = t.NextInList
			t.NextInList = nil
			return
		}
	}
}

// Switch performs one scheduling decision (§4.F):
//  1. Wake due callbacks.
//  2. Fatal error if nothing is runnable or waiting.
//  3. Pick the next thread (current's successor in the runnable list, or
//     the runnable head).
//  4. Swap registers if the chosen thread differs from current.
//  5. Reset the slice counter.
//  6. Re-throw a pending exception, if the chosen thread has one.
func (s *Scheduler) Switch() {
	s.wakeDueCallbacks()

	if s.runnableHead == nil {
		if s.callbackHead != nil {
			// Nothing is runnable yet but something will become so; spin
			// until a callback fires something runnable (§4.F step 1).
			for s.runnableHead == nil && s.callbackHead != nil {
				s.wakeDueCallbacks()
			}
		}
		if s.runnableHead == nil {
			vmerr.VMExit(vmerr.ExitCodeNoRunnableThreads, ErrNoRunnableThreads.Error())
		}
	}

	next := s.pickNext()

	if next != s.current {
		s.current = next
	}

	s.sliceCounter = s.slice(next)

	if next.PendingException != nil {
		pending := next.PendingException
		next.PendingException = nil
		panic(pending)
	}
}

func (s *Scheduler) pickNext() *Thread {
	if s.current != nil && s.current.Status == Runnable && s.current.NextInList != nil {
		return s.current.NextInList
	}
	return s.runnableHead
}

func (s *Scheduler) wakeDueCallbacks() {
	now := s.now()
	var prev *Thread
	cur := s.callbackHead
	for cur != nil {
		next := cur.NextInList
		if !cur.TimeToAwake.After(now) {
			if prev == nil {
				s.callbackHead = next
			} else {
				prev.NextInList = next
			}
			cur.NextInList = nil
			cb := cur.Callback
			cur.Callback = nil
			if cb != nil {
				cb(cur)
			}
		} else {
			prev = cur
		}
		cur = next
	}
}

// Tick decrements the slice counter by n bytecodes and reports whether a
// Switch is now due; callers (the interpreter loop, or test drivers)
// invoke Switch themselves once this returns true, matching the spec's
// "when the counter reaches zero the interpreter calls switch" (§4.F).
func (s *Scheduler) Tick(n int) bool {
	s.sliceCounter -= n
	return s.sliceCounter <= 0
}

// PruneTerminated splices TERMINATED threads out of the global list,
// called by the collector during thread marking (§4.D step 4).
func (s *Scheduler) PruneTerminated() {
	var prev *Thread
	cur := s.globalHead
	for cur != nil {
		next := cur.NextGlobal
		if cur.Status == Terminated {
			if prev == nil {
				s.globalHead = next
			} else {
				prev.NextGlobal = next
			}
		} else {
			prev = cur
		}
		cur = next
	}
}

// AllThreads returns every thread in the global list (live snapshot order),
// for the GC's thread-marking pass (§4.D step 4).
func (s *Scheduler) AllThreads() []*Thread {
	var all []*Thread
	for cur := s.globalHead; cur != nil; cur = cur.NextGlobal {
		all = append(all, cur)
	}
	return all
}

// Terminate runs the callback-wedge termination protocol (§4.F "Thread
// termination") for the currently running thread, which must be RUNNABLE.
func (s *Scheduler) Terminate(t *Thread) {
	if t.Status != Runnable {
		panic("sched: Terminate requires a RUNNABLE thread")
	}
	s.activeThreads--
	if !t.Daemon {
		s.nonDaemonThreads--
	}
	t.Status = Terminated
	s.removeFromList(&s.runnableHead, t)
	if s.TerminateNotify != nil && t.LangObj != heap.Null {
		s.TerminateNotify(t.LangObj)
	}
	// Pop the wedge frame: unwind to nothing left on the stack.
	for t.Regs.Current != nil {
		t.Regs.PopFrame()
	}
	t.StackHead = nil
	s.sliceCounter = 0
}

// NonDaemonThreadCount reports how many live non-daemon threads remain;
// the VM exits when this reaches zero (§7).
func (s *Scheduler) NonDaemonThreadCount() int { return s.nonDaemonThreads }

// Visit walks thread t's frame stack top-down via package frame's Visit.
func (s *Scheduler) Visit(t *Thread, start, count int, cb func(frame.View) bool) {
	frame.Visit(t.Regs.Current, start, count, cb)
}
