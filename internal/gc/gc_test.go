package gc_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"babevm/internal/cell"
	"babevm/internal/classdesc"
	"babevm/internal/gc"
	"babevm/internal/heap"
	"babevm/internal/pool"
	"babevm/internal/roots"
	"babevm/internal/sched"
	"babevm/internal/vmlog"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// fixture bundles a heap wired to a collector (matching the real
// Machine-construction wiring: heap.New's GCFunc is the collector's own
// Run), its root stacks, and the class registry, ready for a test to
// allocate chunks and drive GC cycles directly.
type fixture struct {
	h    *heap.Heap
	c    *gc.Collector
	r    *roots.Stacks
	reg  *classdesc.Registry
	sc   *sched.Scheduler
	pool *pool.Table[string, heap.Ref]
}

func newFixture(t *testing.T, heapSize uint32, interned *pool.Table[string, heap.Ref]) *fixture {
	t.Helper()
	f := &fixture{
		r:    roots.New(16, 16),
		sc:   sched.New(10, func() time.Time { return time.Time{} }),
		pool: interned,
	}
	h, err := heap.New(heapSize, func() { f.c.Run() }, true)
	require.NoError(t, err)
	f.h = h
	f.reg = classdesc.NewRegistry(h)
	f.c = gc.New(h, f.r, f.sc, f.reg, interned, vmlog.New(discardWriter{}, vmlog.Fatal))
	return f
}

// refClass registers a class with a single reference-typed instance field
// at offset 0, for tests exercising field-chain marking.
func refClass(t *testing.T, f *fixture, name string) heap.Ref {
	t.Helper()
	class := classdesc.NewClass(name, heap.Null)
	class.Fields = []classdesc.Field{{Name: "next", Reference: true, Offset: 0}}
	class.InstanceFieldStart = 0
	class.State = classdesc.Initialised
	ref, err := f.reg.RegisterClass(class)
	require.NoError(t, err)
	return ref
}

func newInstance(t *testing.T, f *fixture, classRef heap.Ref) heap.Ref {
	t.Helper()
	class, ok := f.reg.Class(classRef)
	require.True(t, ok)
	ref, err := f.h.Alloc(classdesc.ObjectSize(class), heap.Object)
	require.NoError(t, err)
	classdesc.SetObjectClass(f.h, ref, classRef)
	classdesc.SetObjectField(f.h, ref, 0, uint32(heap.Null))
	return ref
}

func TestSweepFreesUnreachableChunk(t *testing.T) {
	f := newFixture(t, 4096, nil)
	ref, err := f.h.Alloc(cell.Size, heap.Data)
	require.NoError(t, err)
	require.True(t, f.h.IsInUse(ref))

	f.c.Run()

	require.False(t, f.h.IsInUse(ref))
}

func TestPermanentRootKeepsChunkAliveAcrossCycles(t *testing.T) {
	f := newFixture(t, 4096, nil)
	ref, err := f.h.Alloc(cell.Size, heap.Data)
	require.NoError(t, err)
	f.r.PushPermanent(ref)

	f.c.Run()
	require.True(t, f.h.IsInUse(ref))
	require.Equal(t, heap.White, f.h.GetColour(ref))

	f.c.Run()
	require.True(t, f.h.IsInUse(ref))
}

func TestTransientRootOnlyProtectsWithinItsBlock(t *testing.T) {
	f := newFixture(t, 4096, nil)
	ref, err := f.h.Alloc(cell.Size, heap.Data)
	require.NoError(t, err)

	mark := f.r.BeginTransientBlock()
	f.r.PushTransient(ref)
	f.c.Run()
	require.True(t, f.h.IsInUse(ref))

	f.r.EndTransientBlock(mark)
	f.c.Run()
	require.False(t, f.h.IsInUse(ref))
}

func TestStaticChunkIsNeverFreed(t *testing.T) {
	f := newFixture(t, 4096, nil)
	ref, err := f.h.Alloc(cell.Size, heap.Static)
	require.NoError(t, err)

	f.c.Run()
	f.c.Run()

	require.True(t, f.h.IsInUse(ref))
}

func TestObjectFieldChainKeepsReferentAliveTransitively(t *testing.T) {
	f := newFixture(t, 4096, nil)
	classRef := refClass(t, f, "Node")

	a := newInstance(t, f, classRef)
	b := newInstance(t, f, classRef)
	classdesc.SetObjectField(f.h, a, 0, uint32(b))

	f.r.PushPermanent(a)
	f.c.Run()

	require.True(t, f.h.IsInUse(a))
	require.True(t, f.h.IsInUse(b))
	require.True(t, f.h.IsInUse(classRef), "a live instance must keep its class descriptor alive")
}

func TestUnreachableObjectClassIsUnloadedOnSweep(t *testing.T) {
	f := newFixture(t, 4096, nil)
	classRef := refClass(t, f, "Orphan")
	obj := newInstance(t, f, classRef)
	_ = obj // never rooted

	f.c.Run()

	require.False(t, f.h.IsInUse(classRef))
	_, ok := f.reg.Class(classRef)
	require.False(t, ok, "sweep must unload the descriptor from the registry")
}

func TestWeakReferenceIsClearedWhenReferentUnreachable(t *testing.T) {
	f := newFixture(t, 4096, nil)
	classRef := refClass(t, f, "Leaf")
	target := newInstance(t, f, classRef) // not rooted directly

	weak, err := classdesc.NewWeakReference(f.h, target)
	require.NoError(t, err)
	f.r.PushPermanent(weak)

	f.c.Run()

	require.True(t, f.h.IsInUse(weak), "the weak reference chunk itself is reachable via the permanent root")
	require.False(t, f.h.IsInUse(target))
	require.Equal(t, heap.Null, classdesc.WeakReferent(f.h, weak))
}

func TestWeakReferenceSurvivesWhenReferentReachable(t *testing.T) {
	f := newFixture(t, 4096, nil)
	classRef := refClass(t, f, "Leaf")
	target := newInstance(t, f, classRef)

	weak, err := classdesc.NewWeakReference(f.h, target)
	require.NoError(t, err)
	f.r.PushPermanent(weak)
	f.r.PushPermanent(target)

	f.c.Run()

	require.True(t, f.h.IsInUse(target))
	require.Equal(t, target, classdesc.WeakReferent(f.h, weak))
}

func TestInternedStringSurvivesWithNoRoots(t *testing.T) {
	interned := pool.New[string, heap.Ref](pool.FNV1a64)
	f := newFixture(t, 4096, interned)

	chars, err := classdesc.NewPrimitiveArray(f.h, 5)
	require.NoError(t, err)
	str, err := classdesc.NewString(f.h, chars)
	require.NoError(t, err)
	interned.Put("hello", str)

	f.c.Run()

	require.True(t, f.h.IsInUse(str))
	require.True(t, f.h.IsInUse(chars), "the string's backing char array must be marked black along with the string")
}

func TestCycleBetweenTwoObjectsIsCollectedWhenUnreachable(t *testing.T) {
	f := newFixture(t, 4096, nil)
	classRef := refClass(t, f, "Cyclic")
	a := newInstance(t, f, classRef)
	b := newInstance(t, f, classRef)
	classdesc.SetObjectField(f.h, a, 0, uint32(b))
	classdesc.SetObjectField(f.h, b, 0, uint32(a))

	// Neither a nor b is ever rooted: a reference cycle with no path to a
	// root must still be collected, the central case mark-and-sweep (as
	// opposed to refcounting) exists to handle.
	f.c.Run()

	require.False(t, f.h.IsInUse(a))
	require.False(t, f.h.IsInUse(b))
}

func TestObjectArrayMarksLiveElementsOnly(t *testing.T) {
	f := newFixture(t, 8192, nil)
	classRef := refClass(t, f, "Elem")
	live := newInstance(t, f, classRef)
	dead := newInstance(t, f, classRef)

	arr, err := classdesc.NewObjectArray(f.h, 2)
	require.NoError(t, err)
	classdesc.SetArrayElemRef(f.h, arr, 0, live)
	// index 1 left Null: dead is never stored into the array or rooted.
	_ = dead

	f.r.PushPermanent(arr)
	f.c.Run()

	require.True(t, f.h.IsInUse(arr))
	require.True(t, f.h.IsInUse(live))
	require.False(t, f.h.IsInUse(dead))
}

func TestRunIsIdempotentWhenNothingChangesBetweenCycles(t *testing.T) {
	f := newFixture(t, 4096, nil)
	classRef := refClass(t, f, "Stable")
	obj := newInstance(t, f, classRef)
	f.r.PushPermanent(obj)

	f.c.Run()
	firstFreed := f.c.LastFreed
	f.c.Run()
	secondFreed := f.c.LastFreed

	require.True(t, f.h.IsInUse(obj))
	require.Equal(t, 0, secondFreed)
	_ = firstFreed
}

func TestAllocationTriggersInjectedGCOnFirstFailure(t *testing.T) {
	// A small heap: the first chunk exhausts available space, so the
	// second allocation must run a GC cycle internally (via heap.GCFunc)
	// to reclaim the first (unrooted) chunk before it can succeed.
	f := newFixture(t, 32, nil)
	first, err := f.h.Alloc(24, heap.Data)
	require.NoError(t, err)
	require.True(t, f.h.IsInUse(first))

	second, err := f.h.Alloc(24, heap.Data)
	require.NoError(t, err)
	require.True(t, f.h.IsInUse(second))
	require.Equal(t, 1, f.c.Cycles)
}

func TestScanStackSkipsNativeFrameOwnCells(t *testing.T) {
	f := newFixture(t, 4096, nil)
	th := f.sc.CreateThread(heap.Null, sched.PriorityNormal, false, 64)
	require.NoError(t, f.sc.Start(th, false, nil))

	// A ref planted only in a native frame's own locals must never be
	// treated as a stack root: a native frame's arguments live in the
	// calling frame, so its own cell range holds nothing live.
	// The decoy is of a type the conservative scan would otherwise accept.
	decoy, err := f.h.Alloc(cell.Size, heap.ArrayOfPrimitive)
	require.NoError(t, err)

	nativeMethod := &classdesc.Method{Name: "native", Access: classdesc.AccNative, MaxLocals: 1}
	nativeFrame := th.Regs.PushFrame(nativeMethod, heap.Null, 0)
	nativeFrame.Locals()[0] = cell.Cell(decoy)

	f.c.Run()

	require.False(t, f.h.IsInUse(decoy))
}
