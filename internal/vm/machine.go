package vm

import (
	"time"

	"babevm/internal/cell"
	"babevm/internal/classdesc"
	"babevm/internal/classio"
	"babevm/internal/frame"
	"babevm/internal/gc"
	"babevm/internal/heap"
	"babevm/internal/monitor"
	"babevm/internal/pool"
	"babevm/internal/roots"
	"babevm/internal/sched"
	"babevm/internal/vmerr"
	"babevm/internal/vmlog"
)

// defaultTimeslice is the number of bytecodes a thread runs before the
// scheduler considers a switch (§4.F "Slice"); meaningless without a real
// interpreter loop driving it, but kept as the Scheduler's configured
// default the way the teacher's main.go threads a comparable constant
// through to its VM.
const defaultTimeslice = 1000

// Machine is BVM's composition root: every subsystem of §4 wired
// together, plus the collaborator interfaces of §6 a host program
// supplies. One Machine exists per running VM instance.
type Machine struct {
	Config Config

	Heap     *heap.Heap
	Roots    *roots.Stacks
	Registry *classdesc.Registry
	Interned *pool.Table[string, heap.Ref]
	GC       *gc.Collector
	Monitors *monitor.Table
	Sched    *sched.Scheduler
	Errors   *vmerr.Manager
	Log      *vmlog.Logger

	Loader   classio.ClassLoader
	Natives  classio.NativeMethodRegistry
	Platform classio.Platform

	// OOMException is the pre-built OutOfMemoryError object (§4.A, §7):
	// allocated once here, pushed as a permanent root, and never allocated
	// again at an actual failure point.
	OOMException heap.Ref
}

// New builds a Machine from cfg and its collaborators. cfg is validated
// first; a bad Config never reaches subsystem construction.
func New(cfg Config, loader classio.ClassLoader, natives classio.NativeMethodRegistry, platform classio.Platform, log *vmlog.Logger) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = vmlog.Default()
	}

	m := &Machine{
		Config:   cfg,
		Roots:    cfg.newRootStacks(),
		Loader:   loader,
		Natives:  natives,
		Platform: platform,
		Log:      log,
	}

	// The heap's GCFunc must call the collector, but the collector needs
	// the heap to exist first: close over the Machine itself (not yet
	// fully populated) rather than a bare forward-declared var, so every
	// other piece of wiring below reads the same way the rest of the
	// struct does.
	h, err := heap.New(cfg.HeapSize, func() { m.GC.Run() }, true)
	if err != nil {
		return nil, err
	}
	m.Heap = h
	m.Registry = classdesc.NewRegistry(h)
	m.Interned = pool.NewSized[string, heap.Ref](pool.FNV1a64, cfg.PoolBucketCount)
	m.Errors = vmerr.NewManager(m.Roots)

	// roots.Stacks.Fatal reports exhaustion through vmerr's own fatal-exit
	// path instead of a bare panic (§4.B); injected rather than imported to
	// avoid roots<->vmerr cycling, the same way heap.GCFunc is.
	m.Roots.Fatal = func(msg string) { vmerr.VMExit(vmerr.ExitCodeRootStackExhausted, msg) }

	// The pre-built OOM throwable (§4.A, §7): one minimal, zeroed OBJECT
	// chunk allocated here while the heap is freshly created and certainly
	// has room, pushed as a permanent root so it is never collected, then
	// wired into the heap's own error path so Alloc raises it directly
	// instead of a fresh allocation happening at the failure point.
	oomObj, err := h.Calloc(cell.Size, heap.Object)
	if err != nil {
		return nil, err
	}
	m.Roots.PushPermanent(oomObj)
	m.OOMException = oomObj
	h.OOM = func() { vmerr.Throw(vmerr.OutOfMemoryError, oomObj, "heap exhausted") }

	m.Sched = sched.New(defaultTimeslice, time.Now)
	m.GC = gc.New(h, m.Roots, m.Sched, m.Registry, m.Interned, log)
	m.Monitors = monitor.New(m.Sched)
	m.Sched.MonitorAcquire = func(obj heap.Ref, _ *sched.Thread) bool {
		return m.Monitors.Acquire(obj)
	}
	// Notifies every waiter on a terminating thread's own monitor (§4.F
	// "Thread termination"), the mechanism Thread.join() depends on;
	// injected to avoid sched<->monitor cycling, same pattern as above.
	m.Sched.TerminateNotify = func(obj heap.Ref) { m.Monitors.NotifyAllOnTermination(obj) }

	return m, nil
}

// StartThread creates and starts a new VM thread bound to langObj,
// optionally pushing runMethod as its first frame (§4.F "Thread
// startup"), delegating straight to the scheduler this Machine owns.
func (m *Machine) StartThread(langObj heap.Ref, priority sched.Priority, daemon bool, runMethod *classdesc.Method) *sched.Thread {
	t := m.Sched.CreateThread(langObj, priority, daemon, m.Config.StackSegmentHeight)
	m.Sched.Start(t, runMethod != nil, runMethod)
	return t
}

// PushFrame is a thin forward to the current thread's Registers, named
// here because tests and cmd/babevm drive execution through the Machine,
// not by reaching into Sched.Registers() directly.
func (m *Machine) PushFrame(method *classdesc.Method, syncObj heap.Ref, resumePC uint32) *frame.Frame {
	return m.Sched.Registers().PushFrame(method, syncObj, resumePC)
}

// Run drives the scheduler until no thread is runnable or waiting,
// translating the scheduler's unconditional ExitCodeNoRunnableThreads
// fatal exit into ExitCodeNormal when it happens because every
// non-daemon thread has already terminated (§7's "last non-daemon thread
// terminated" zero-error case) rather than because the VM deadlocked.
// Run is Machine's one VMTry boundary (§4.C); internal/vm never calls
// os.Exit — cmd/babevm does, with the code and message Run returns.
func (m *Machine) Run() (code vmerr.ExitCode, msg string) {
	code, msg, _ = vmerr.VMTry(func() {
		for {
			m.Sched.Switch()
		}
	})
	if code == vmerr.ExitCodeNoRunnableThreads && m.Sched.NonDaemonThreadCount() == 0 {
		return vmerr.ExitCodeNormal, ""
	}
	return code, msg
}
