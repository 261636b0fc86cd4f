// Package gc implements BVM's tri-colour mark-and-sweep collector (§4.D):
// root marking, thread/stack marking with conservative validation, weak
// reference processing, sweep, and class unloading. It is the one
// component that reaches across every other internal package (heap, roots,
// sched, pool, classdesc) to do its job, which is why it is wired in last,
// via the heap.GCFunc hook injected at Machine construction time.
package gc

import (
	"fmt"

	"babevm/internal/classdesc"
	"babevm/internal/frame"
	"babevm/internal/heap"
	"babevm/internal/pool"
	"babevm/internal/roots"
	"babevm/internal/sched"
	"babevm/internal/vmlog"
)

// ErrUnknownAllocationType is fatal: sweep encountered a chunk whose type
// tag is not one of the enumerated allocation types (§4.D "Sweep").
var ErrUnknownAllocationType = fmt.Errorf("gc: chunk has unknown allocation type")

// Collector owns the one collection cycle and the cross-package references
// it needs to run it. Exactly one Collector exists per Machine.
type Collector struct {
	h        *heap.Heap
	roots    *roots.Stacks
	sched    *sched.Scheduler
	registry *classdesc.Registry
	interned *pool.Table[string, heap.Ref]
	log      *vmlog.Logger

	markStack []heap.Ref // explicit mark stack, see §9 Open Question
	weakRefs  []heap.Ref // this cycle's weak-reference work list

	Cycles    int
	LastFreed int
}

// New binds a Collector to the components it scans. interned may be nil if
// the VM has not wired up string interning yet (every lookup against it is
// then a no-op).
func New(h *heap.Heap, r *roots.Stacks, s *sched.Scheduler, registry *classdesc.Registry, interned *pool.Table[string, heap.Ref], log *vmlog.Logger) *Collector {
	if log == nil {
		log = vmlog.Default()
	}
	return &Collector{h: h, roots: r, sched: s, registry: registry, interned: interned, log: log}
}

// Func returns a heap.GCFunc bound to this collector's Run, for injection
// into heap.New so Alloc can trigger a cycle without an import cycle.
func (c *Collector) Func() heap.GCFunc { return c.Run }

// Run performs exactly one collection cycle, the 8 steps of §4.D.
func (c *Collector) Run() {
	c.Cycles++
	c.weakRefs = c.weakRefs[:0]

	c.markInternedStrings() // step 2
	c.markRoots()           // step 3
	c.markThreads()         // step 4
	// step 5, debugger roots: no debug session support in this build; a
	// future debugger integration hooks in here without changing the rest
	// of the cycle.
	c.processWeakReferences() // step 6
	freed := c.sweep()        // step 7 (recolours survivors white as step 8)

	c.LastFreed = freed
	c.log.Logf(vmlog.Trace, "gc: cycle %d freed %d chunk(s)", c.Cycles, freed)
}

// markInternedStrings marks every interned string (and its backing char
// array) black directly, unconditionally: interned strings are never
// collected (§4.D step 2).
func (c *Collector) markInternedStrings() {
	if c.interned == nil {
		return
	}
	c.interned.Each(func(_ string, ref heap.Ref) {
		c.mark(ref)
	})
}

// markRoots walks both root stacks up to their current tops (§4.D step 3).
func (c *Collector) markRoots() {
	for i := 0; i < c.roots.TransientTop(); i++ {
		c.mark(c.roots.TransientAt(i))
	}
	for i := 0; i < c.roots.PermanentTop(); i++ {
		c.mark(c.roots.PermanentAt(i))
	}
}

// markThreads implements §4.D step 4.
func (c *Collector) markThreads() {
	for _, th := range c.sched.AllThreads() {
		if th.Status == sched.Terminated {
			continue
		}
		c.mark(th.LangObj)
		if th.Status == sched.StatusNew {
			c.markSegmentsOnly(th.StackHead)
		} else {
			c.scanStack(th)
		}
		if th.PendingException != nil {
			c.mark(th.PendingException.Obj)
		}
	}
	c.sched.PruneTerminated()
}

// markSegmentsOnly is the NEW-thread case: the stack list's segments are
// acknowledged (in the C original, coloured black so sweep leaves their
// backing store alone) but their contents are not scanned, since a NEW
// thread has never executed and its cells hold no live guest values yet.
// Segments here are plain Go slices owned by *frame.Segment, not heap
// chunks, so there is nothing in the BVM heap to colour — this is a
// deliberate no-op kept only to name the step the spec calls for.
func (c *Collector) markSegmentsOnly(seg *frame.Segment) {}

// scanStack implements §4.D's "Stack scan" for a non-NEW thread.
func (c *Collector) scanStack(th *sched.Thread) {
	// Sever the current segment's forward link: any segment grown earlier
	// but now unused becomes unreachable (plain Go memory, reclaimed by the
	// host GC once unreferenced — there is no BVM-heap chunk to free).
	if th.Regs.Segment != nil {
		th.Regs.Segment.Next = nil
	}

	for f := th.Regs.Current; f != nil; f = f.CallerFrame {
		if f.Method != nil && f.Method.Access.Has(classdesc.AccNative) {
			// A native frame owns no locals/operand-stack cells of its own:
			// its arguments live in the calling frame, whose own range
			// (scanned on the next loop iteration) already covers them
			// (§4.D "Stack scan", native-method edge case).
			continue
		}
		start, end := f.LocalsBase, f.LocalsBase+f.MaxLocals+f.MaxStack
		cells := f.Segment.Cells[start:end]
		for _, raw := range cells {
			c.scanCandidate(heap.Ref(raw))
		}
	}
}

// scanCandidate applies the six-step conservative validation checklist of
// §4.D to a raw cell value before trusting it as an object pointer.
func (c *Collector) scanCandidate(candidate heap.Ref) {
	if candidate == heap.Null {
		return
	}
	if uint32(candidate) > c.h.Len() { // 1: within heap bounds
		return
	}
	if !c.h.IsChunkValid(candidate) { // 6: allocator validity
		return
	}
	chunk := c.h.ChunkFrom(candidate)
	if !chunk.InUse { // 4: in-use
		return
	}
	if !isObjectRange(chunk.Type) { // 5: allocation type in object range
		return
	}
	if chunk.Type == heap.Object {
		classRef := classdesc.ObjectClass(c.h, candidate)
		if uint32(classRef) > c.h.Len() { // 2: class pointer within heap bounds
			return
		}
		if cls, ok := c.registry.Class(classRef); !ok || cls.Magic != classdesc.Magic { // 3: magic/registry check
			return
		}
	}
	if chunk.Colour == heap.White {
		c.h.SetColour(candidate, heap.Grey)
		c.markStack = append(c.markStack, candidate)
		c.drain()
	}
}

// isObjectRange reports whether typ is one of the allocation types a
// conservative scan may treat as a candidate object (excludes STATIC and
// the class-descriptor tags, which never appear as ordinary operand
// values).
func isObjectRange(typ heap.Type) bool {
	switch typ {
	case heap.Object, heap.ArrayOfPrimitive, heap.ArrayOfObject, heap.String, heap.WeakReference:
		return true
	default:
		return false
	}
}

// mark colours ref grey and drains the explicit mark stack (§9: "an
// implementation may introduce an explicit mark stack; the observable GC
// behaviour must not change" — chosen over Go-stack recursion so recursion
// depth is bounded by heap size, not host goroutine stack, per §1's
// small/embedded-systems target).
func (c *Collector) mark(ref heap.Ref) {
	if ref == heap.Null {
		return
	}
	if !c.h.IsChunkValid(ref) {
		return
	}
	if c.h.GetColour(ref) != heap.White {
		return
	}
	c.h.SetColour(ref, heap.Grey)
	c.markStack = append(c.markStack, ref)
	c.drain()
}

// drain processes the explicit mark stack until empty, dispatching each
// popped chunk by allocation type exactly per §4.D's "Recursive marking".
func (c *Collector) drain() {
	for len(c.markStack) > 0 {
		n := len(c.markStack) - 1
		ref := c.markStack[n]
		c.markStack = c.markStack[:n]
		c.markOne(ref)
	}
}

func (c *Collector) markOne(ref heap.Ref) {
	chunk := c.h.ChunkFrom(ref)
	switch chunk.Type {
	case heap.Object:
		c.markObjectFields(ref)
	case heap.ArrayOfObject:
		c.markObjectArray(ref)
	case heap.ArrayOfPrimitive, heap.Data:
		// no children
	case heap.String:
		c.greyThenBlack(classdesc.StringChars(c.h, ref))
	case heap.WeakReference:
		c.weakRefs = append(c.weakRefs, ref)
		// do not recurse on the referent
	case heap.InstanceClazz:
		c.markClassChain(ref)
	case heap.ArrayClazz, heap.PrimitiveClazz:
		if apc, ok := c.registry.ArrayOrPrimitiveClass(ref); ok {
			c.greyThenBlack(apc.ClassLoader)
		}
	case heap.Static:
		// ignore
	}
	c.h.SetColour(ref, heap.Black)
}

// greyThenBlack marks ref via the normal worklist instead of recursing
// directly, so a long chain of string-shares-char-array or class-shares-
// classloader references cannot grow the Go call stack.
func (c *Collector) greyThenBlack(ref heap.Ref) {
	if ref == heap.Null || !c.h.IsChunkValid(ref) || c.h.GetColour(ref) != heap.White {
		return
	}
	c.h.SetColour(ref, heap.Grey)
	c.markStack = append(c.markStack, ref)
}

func (c *Collector) markObjectFields(obj heap.Ref) {
	classRef := classdesc.ObjectClass(c.h, obj)
	c.greyThenBlack(classRef) // an object keeps its own class descriptor alive
	class, ok := c.registry.Class(classRef)
	if !ok {
		return
	}
	for _, f := range class.InstanceFields() {
		if !f.Reference {
			continue
		}
		ref := heap.Ref(classdesc.ObjectField(c.h, obj, f.Offset))
		c.greyThenBlack(ref)
	}
}

func (c *Collector) markObjectArray(arr heap.Ref) {
	n := classdesc.ArrayLength(c.h, arr)
	for i := 0; i < n; i++ {
		c.greyThenBlack(classdesc.ArrayElemRef(c.h, arr, i))
	}
}

// markClassChain implements the INSTANCE_CLAZZ rule: walk the super chain,
// marking the classloader and static reference fields at each level,
// colouring each level's chunk black as it is processed (§4.D).
func (c *Collector) markClassChain(ref heap.Ref) {
	for ref != heap.Null {
		class, ok := c.registry.Class(ref)
		if !ok {
			return
		}
		c.greyThenBlack(class.ClassLoader)
		for _, f := range class.StaticFields() {
			if !f.Reference {
				continue
			}
			c.greyThenBlack(heap.Ref(class.StaticStorage[f.Offset]))
		}
		c.h.SetColour(ref, heap.Black)
		ref = class.Super
	}
}

// processWeakReferences implements §4.D step 6: any entry whose referent
// is still White (unreachable through strong roots) has its referent field
// cleared.
func (c *Collector) processWeakReferences() {
	for _, w := range c.weakRefs {
		referent := classdesc.WeakReferent(c.h, w)
		if referent == heap.Null {
			continue
		}
		if !c.h.IsChunkValid(referent) || c.h.GetColour(referent) == heap.White {
			classdesc.SetWeakReferent(c.h, w, heap.Null)
		}
	}
}

// sweep implements §4.D steps 7-8: free every in-use White chunk, unload
// classes it frees, and recolour every surviving in-use chunk White for
// the next cycle. It returns the number of chunks freed.
func (c *Collector) sweep() int {
	var toFree []heap.Ref
	var toRecolour []heap.Ref

	c.h.Walk(func(ch heap.Chunk) {
		if !ch.InUse {
			return
		}
		if ch.Colour != heap.White {
			toRecolour = append(toRecolour, ch.Ref)
			return
		}
		switch ch.Type {
		case heap.Static:
			// skip: never freed by the collector
			return
		case heap.Object, heap.ArrayOfObject, heap.ArrayOfPrimitive, heap.String, heap.WeakReference, heap.Data:
			toFree = append(toFree, ch.Ref)
		case heap.ArrayClazz, heap.PrimitiveClazz:
			c.registry.Unload(ch.Ref)
			toFree = append(toFree, ch.Ref)
		case heap.InstanceClazz:
			c.registry.Unload(ch.Ref)
			toFree = append(toFree, ch.Ref)
		default:
			panic(fmt.Errorf("%w: %d", ErrUnknownAllocationType, ch.Type))
		}
	})

	// heap.Free merges with free neighbours on both sides; freeing in
	// descending address order merges each chunk forward into the block
	// already freed above it, so adjacent freed chunks end up as one
	// contiguous block.
	for i := len(toFree) - 1; i >= 0; i-- {
		c.h.Free(toFree[i])
	}
	for _, ref := range toRecolour {
		c.h.SetColour(ref, heap.White)
	}
	return len(toFree)
}
