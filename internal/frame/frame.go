// Package frame implements the per-thread stack-segment list, the frame
// push/pop protocol, and the global execution registers of BVM §4.G. The
// teacher VM (vm/vm.go) keeps a single flat byte stack addressed by a
// pc/sp register pair swapped by reference; this package generalizes that
// same "registers point into the current stack storage" idea to a linked
// list of growable segments holding one guest method invocation per frame
// instead of raw scalar operands.
//
// A frame's locals-and-operand-stack cells live in a Segment (so the
// conservative GC scanner of package gc can address them purely by cell
// range, per §4.D). The 7-cell return-info block the spec describes
// (LOCALS, SP, PPC, PC, METHOD, STACK, SYNCOBJ) is instead represented as
// Go-native fields chained through CallerFrame: §4.D's stack scan only
// ever inspects "the locals-and-operand-stack range of each frame",
// explicitly excluding the return-info block, so there is nothing gained
// by packing METHOD/STACK/SYNCOBJ (host pointers and a heap.Ref) into the
// guest cell array the way the locals and operand stack are — and doing
// so would force Go pointers through a uint32 union, which Go has no safe
// idiom for.
package frame

import (
	"babevm/internal/cell"
	"babevm/internal/classdesc"
	"babevm/internal/heap"
)

// DefaultSegmentHeight is the fallback segment size (in cells) when a new
// segment must be allocated and no single frame requires more.
const DefaultSegmentHeight = 256

// Segment is one fixed-height array of cells in a thread's stack, linked
// to the next segment below it was grown from (§3 "Stack segment").
type Segment struct {
	Cells []cell.Cell
	Next  *Segment
}

// NewSegment allocates a segment of at least height cells.
func NewSegment(height int) *Segment {
	return &Segment{Cells: make([]cell.Cell, height)}
}

// Frame is one method-invocation record: the Go-native analogue of the
// spec's 7-cell return-info block, plus the Segment/offset range backing
// this invocation's locals and operand stack.
type Frame struct {
	Method     *classdesc.Method
	Segment    *Segment
	LocalsBase int // index into Segment.Cells where locals begin
	MaxLocals  int
	MaxStack   int
	SyncObj    heap.Ref // monitor held by the callee, not the caller (§4.G)

	// Caller state, restored verbatim by PopFrame.
	CallerFrame   *Frame
	CallerSegment *Segment
	CallerSP      int
	CallerPC      uint32
	ResumePC      uint32
}

// Locals returns this frame's local-variable cell slice.
func (f *Frame) Locals() []cell.Cell {
	return f.Segment.Cells[f.LocalsBase : f.LocalsBase+f.MaxLocals]
}

// OperandStackRange returns [start, end) of this frame's operand-stack
// cell range, independent of the current stack pointer — used by the GC's
// conservative scanner to bound its per-frame scan (§4.D).
func (f *Frame) OperandStackRange() (start, end int) {
	start = f.LocalsBase + f.MaxLocals
	end = start + f.MaxStack
	return
}

// Registers are the global execution registers (§4.G), one set per VM,
// saved/restored wholesale on every thread switch (§4.F).
type Registers struct {
	Method  *classdesc.Method
	PC      uint32 // next instruction to execute
	PPC     uint32 // previous instruction executed — needed to resolve the
	// exception handler covering the instruction that actually faulted,
	// since invoke bytecodes of varying length advance PC before a call (§9)
	SP      int // index into CurrentSegment.Cells, exclusive top of operand stack
	Locals  int // index into CurrentSegment.Cells where locals begin
	Segment *Segment

	Current *Frame // top of the frame chain
}

// PushFrame pushes a new frame for method, saving the caller's sp and pc so
// PopFrame can restore them, and advancing Registers onto the new frame
// per the 6-step protocol of §4.G.
func (r *Registers) PushFrame(method *classdesc.Method, syncObj heap.Ref, resumePC uint32) *Frame {
	needed := method.MaxLocals + method.MaxStack

	seg, base := r.findOrGrowSegment(needed)

	f := &Frame{
		Method:        method,
		Segment:       seg,
		LocalsBase:    base,
		MaxLocals:     method.MaxLocals,
		MaxStack:      method.MaxStack,
		SyncObj:       syncObj,
		CallerFrame:   r.Current,
		CallerSegment: r.Segment,
		CallerSP:      r.SP,
		CallerPC:      r.PC,
		ResumePC:      resumePC,
	}

	r.Method = method
	r.Locals = base
	r.SP = base + method.MaxLocals
	r.PC = 0
	r.PPC = 0
	r.Segment = seg
	r.Current = f
	return f
}

// findOrGrowSegment locates needed free cells starting right after the
// current top frame, stepping into an existing next segment if it fits,
// or allocating (and splicing in) a new one otherwise (§4.G step 2). Any
// previously linked next segment that doesn't fit becomes unreachable and
// will be collected at the next GC, exactly as the spec calls for.
func (r *Registers) findOrGrowSegment(needed int) (*Segment, int) {
	if r.Current == nil {
		// First frame ever pushed on this thread: current segment is
		// wherever the thread's stack list begins.
		if len(r.Segment.Cells) >= needed {
			return r.Segment, 0
		}
		seg := NewSegment(max(DefaultSegmentHeight, needed))
		r.Segment.Next = seg
		return seg, 0
	}

	cursor := r.Current.LocalsBase + r.Current.MaxLocals + r.Current.MaxStack
	if cursor+needed <= len(r.Segment.Cells) {
		return r.Segment, cursor
	}

	if next := r.Segment.Next; next != nil && len(next.Cells) >= needed {
		return next, 0
	}

	seg := NewSegment(max(DefaultSegmentHeight, needed))
	r.Segment.Next = seg
	return seg, 0
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// PopFrame restores the caller's registers from the frame being popped.
func (r *Registers) PopFrame() {
	f := r.Current
	r.Segment = f.CallerSegment
	r.Current = f.CallerFrame
	r.PC = f.ResumePC
	r.PPC = f.CallerPC
	r.SP = f.CallerSP
	if f.CallerFrame != nil {
		r.Method = f.CallerFrame.Method
		r.Locals = f.CallerFrame.LocalsBase
	} else {
		r.Method = nil
		r.Locals = 0
	}
}

// View is a read-only snapshot of one frame, used by stack-trace and
// access-control-context collection (§4.F "Stack visit").
type View struct {
	Method  *classdesc.Method
	Locals  []cell.Cell
	SyncObj heap.Ref
}

// Wedge is the sentinel "callback wedge" method pushed at the base of a
// new thread's stack (§4.F "Thread startup"/"Stack visit"): a terminal
// frame is recognized by Method == Wedge together with a terminal PC.
var Wedge = &classdesc.Method{Name: "<thread-wedge>"}

// TerminalPC is the PC value stored in the wedge frame's resume point,
// recognized by Visit/the termination callback as "this thread's code has
// run out" (§4.F).
const TerminalPC uint32 = 0xFFFFFFFF

// Visit walks frames top-down starting at start, calling cb for up to
// count frames or until cb returns false.
func Visit(top *Frame, start, count int, cb func(View) bool) {
	f := top
	for i := 0; i < start && f != nil; i++ {
		f = f.CallerFrame
	}
	for i := 0; (count <= 0 || i < count) && f != nil; i++ {
		v := View{Method: f.Method, Locals: f.Locals(), SyncObj: f.SyncObj}
		if !cb(v) {
			return
		}
		f = f.CallerFrame
	}
}
