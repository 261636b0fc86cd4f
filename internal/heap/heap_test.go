package heap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"babevm/internal/heap"
)

func TestQuiescentAccountingInvariant(t *testing.T) {
	h, err := heap.New(4096, nil, true)
	require.NoError(t, err)

	var refs []heap.Ref
	for i := 0; i < 10; i++ {
		r, err := h.Alloc(64, heap.Data)
		require.NoError(t, err)
		refs = append(refs, r)
	}

	inUse, free, overhead := h.QuiescentAccounting()
	require.Equal(t, h.Len(), inUse+free+overhead)

	for _, r := range refs[:5] {
		h.Free(r)
	}
	inUse, free, overhead = h.QuiescentAccounting()
	require.Equal(t, h.Len(), inUse+free+overhead)
}

func TestWalkReachesExactlyEnd(t *testing.T) {
	h, err := heap.New(1024, nil, true)
	require.NoError(t, err)

	_, err = h.Alloc(32, heap.Data)
	require.NoError(t, err)
	_, err = h.Alloc(64, heap.Object)
	require.NoError(t, err)

	var lastEnd uint32
	h.Walk(func(c heap.Chunk) {
		lastEnd = uint32(c.Ref) + c.Size
	})
	require.Equal(t, h.Len(), lastEnd)
}

func TestAllocFailureTriggersGCExactlyOnceThenOOM(t *testing.T) {
	gcCalls := 0
	h, err := heap.New(heap.MinHeapSize, func() { gcCalls++ }, true)
	require.NoError(t, err)

	// Exhaust the heap.
	for {
		_, err := allocRaw(h, 256)
		if err != nil {
			break
		}
	}

	// Count only the allocation below: larger than any free chunk left, but
	// not larger than the heap itself (that case is ErrChunkTooLarge).
	gcCalls = 0
	_, err = h.Alloc(heap.MinHeapSize/2, heap.Data)
	require.ErrorIs(t, err, heap.ErrOutOfMemory)
	require.Equal(t, 1, gcCalls)
}

func allocRaw(h *heap.Heap, size uint32) (heap.Ref, error) {
	return h.Alloc(size, heap.Data)
}

func TestAllocCallsOOMFuncBeforeReturningError(t *testing.T) {
	gcCalls, oomCalls := 0, 0
	h, err := heap.New(heap.MinHeapSize, func() { gcCalls++ }, true)
	require.NoError(t, err)
	h.OOM = func() { oomCalls++ }

	for {
		_, err := allocRaw(h, 256)
		if err != nil {
			break
		}
	}

	oomCalls = 0
	_, err = h.Alloc(heap.MinHeapSize/2, heap.Data)
	require.ErrorIs(t, err, heap.ErrOutOfMemory)
	require.Equal(t, 1, oomCalls)
}

func TestAllocLargerThanHeapIsFatal(t *testing.T) {
	h, err := heap.New(heap.MinHeapSize, nil, true)
	require.NoError(t, err)

	_, err = h.Alloc(heap.MinHeapSize*2, heap.Data)
	require.ErrorIs(t, err, heap.ErrChunkTooLarge)
}

func TestCloneDuplicatesTypeAndPayload(t *testing.T) {
	h, err := heap.New(4096, nil, true)
	require.NoError(t, err)

	src, err := h.Alloc(16, heap.Data)
	require.NoError(t, err)
	copy(h.Bytes(src, 16), []byte("0123456789abcdef"))

	dst, err := h.Clone(src)
	require.NoError(t, err)
	require.NotEqual(t, src, dst)
	require.Equal(t, h.GetType(src), h.GetType(dst))
	require.Equal(t, h.Bytes(src, 16), h.Bytes(dst, 16))
}

func TestSetTypeStampsHeaderVerbatim(t *testing.T) {
	h, err := heap.New(4096, nil, true)
	require.NoError(t, err)

	r, err := h.Alloc(16, heap.Data)
	require.NoError(t, err)
	h.SetType(r, heap.WeakReference)
	require.Equal(t, heap.WeakReference, h.GetType(r))
}

func TestFreeCoalescesAdjacentChunks(t *testing.T) {
	h, err := heap.New(4096, nil, true)
	require.NoError(t, err)

	a, err := h.Alloc(64, heap.Data)
	require.NoError(t, err)
	b, err := h.Alloc(64, heap.Data)
	require.NoError(t, err)
	_, err = h.Alloc(64, heap.Data) // keep a tail allocation so a/b aren't at the arena edge
	require.NoError(t, err)

	h.Free(a)
	h.Free(b)

	// A single allocation larger than either chunk alone should now land in
	// the coalesced a+b block (best fit) without tripping the collector.
	r, err := h.Alloc(100, heap.Data)
	require.NoError(t, err)
	require.Equal(t, a, r)
}

func TestTwentyKBReclaimedAfterGCFitsSixtyKBAllocation(t *testing.T) {
	// Scenario 1 (§8), scaled: heap 64 KiB, 20 * 1 KiB OBJECT chunks freed
	// by the collector, then a single 60 KiB DATA chunk must fit, which it
	// can only do once the freed chunks have coalesced with the free tail.
	const heapSize = 64 * 1024
	collected := false
	var refs []heap.Ref
	var h *heap.Heap

	h, err := heap.New(heapSize, func() {
		collected = true
		for _, r := range refs {
			h.Free(r)
		}
		refs = nil
	}, true)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		r, err := h.Alloc(1024, heap.Object)
		require.NoError(t, err)
		refs = append(refs, r)
	}

	// Drop the root by forcing allocation pressure so the injected GC
	// callback (standing in for a real mark-and-sweep that finds these
	// chunks unreachable) frees them before the big allocation.
	_, err = h.Alloc(heapSize-4096, heap.Data)
	require.NoError(t, err)
	require.True(t, collected)
}
