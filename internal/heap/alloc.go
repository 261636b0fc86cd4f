package heap

// Alloc reserves size bytes of payload tagged typ. On first failure it
// invokes the injected GC exactly once and retries (§4.A); a chunk larger
// than the whole heap is always a fatal condition, never retried.
func (h *Heap) Alloc(size uint32, typ Type) (Ref, error) {
	if !typ.Valid() {
		return Null, ErrInvalidChunk
	}
	size = alignUp(size)
	if size+headerSize > h.Len() {
		return Null, ErrChunkTooLarge
	}

	if r, ok := h.tryAlloc(size, typ); ok {
		return r, nil
	}

	if h.gc != nil {
		h.gc()
		h.gcRanOnce = true
		if r, ok := h.tryAlloc(size, typ); ok {
			return r, nil
		}
	}

	if h.OOM != nil {
		h.OOM() // raises the guest OOM throwable; does not return
	}
	return Null, ErrOutOfMemory
}

// Calloc is Alloc with the payload zeroed.
func (h *Heap) Calloc(size uint32, typ Type) (Ref, error) {
	r, err := h.Alloc(size, typ)
	if err != nil {
		return Null, err
	}
	c := h.ChunkFrom(r)
	b := h.Bytes(r, c.Size)
	for i := range b {
		b[i] = 0
	}
	return r, nil
}

// tryAlloc performs one best-fit pass over the free list without invoking
// the collector.
func (h *Heap) tryAlloc(size uint32, typ Type) (Ref, bool) {
	var (
		best     Ref = Null
		bestPrev Ref = Null
		bestSize uint32
	)

	prev := Null
	cur := h.freeListHead
	for cur != Null {
		c := h.ChunkFrom(cur)
		if c.Size >= size && (best == Null || c.Size < bestSize) {
			best = cur
			bestSize = c.Size
			bestPrev = prev
		}
		prev = cur
		cur = h.getFreeNext(cur)
	}

	if best == Null {
		return Null, false
	}

	h.unlinkFree(best, bestPrev)
	h.splitAndMark(best, bestSize, size, typ)
	return best, true
}

// unlinkFree removes chunk r (whose predecessor in the free list is prev,
// or Null if r is the head) from the free list.
func (h *Heap) unlinkFree(r, prev Ref) {
	next := h.getFreeNext(r)
	if prev == Null {
		h.freeListHead = next
	} else {
		h.setFreeNext(prev, next)
	}
}

// splitAndMark marks chunk r in-use with typ and, if the leftover space
// from bestSize - size is large enough to host its own header, splits off
// a new free chunk and relinks it into the free list (coalescing best-fit,
// §4.A).
func (h *Heap) splitAndMark(r Ref, haveSize, wantSize uint32, typ Type) {
	leftover := haveSize - wantSize
	if leftover >= headerSize+Alignment {
		remainderSize := leftover - headerSize
		remainderHeaderOff := headerOffset(r) + headerSize + wantSize
		remainderRef := Ref(remainderHeaderOff + headerSize)
		h.writeHeader(remainderHeaderOff, false, White, Data, remainderSize)
		h.setFreeNext(remainderRef, h.freeListHead)
		h.freeListHead = remainderRef
		h.writeHeader(headerOffset(r), true, White, typ, wantSize)
	} else {
		// Keep the whole chunk, including the few leftover bytes that
		// can't host their own header.
		h.writeHeader(headerOffset(r), true, White, typ, haveSize)
	}
}

// Free returns a chunk to the free list, coalescing with an immediately
// following and an immediately preceding free neighbour, whichever of them
// exist. STATIC chunks are never freed
// by the collector, but the VM may free them explicitly through this call
// (§4.A).
func (h *Heap) Free(r Ref) {
	if h.debugChecks && !h.IsChunkValid(r) {
		panic(ErrInvalidChunk)
	}
	c := h.ChunkFrom(r)

	// Coalesce with the immediately following chunk if it is free.
	nextHeaderOff := headerOffset(r) + headerSize + c.Size
	mergedSize := c.Size
	if nextHeaderOff+headerSize <= h.Len() {
		nInUse, _, _, nSize := unpackHeader(h.readHeaderWord(nextHeaderOff))
		if !nInUse {
			nextRef := Ref(nextHeaderOff + headerSize)
			h.removeFromFreeList(nextRef)
			mergedSize += headerSize + nSize
		}
	}

	// Coalesce with the immediately preceding chunk if it is free. Headers
	// carry no back link, so the predecessor is found by walking from the
	// start of the arena.
	for off := uint32(0); off < headerOffset(r); {
		pInUse, _, _, pSize := unpackHeader(h.readHeaderWord(off))
		if off+headerSize+pSize == headerOffset(r) {
			if !pInUse {
				r = Ref(off + headerSize)
				h.removeFromFreeList(r)
				mergedSize += headerSize + pSize
			}
			break
		}
		off += headerSize + pSize
	}

	h.writeHeader(headerOffset(r), false, White, Data, mergedSize)
	h.setFreeNext(r, h.freeListHead)
	h.freeListHead = r
}

func (h *Heap) removeFromFreeList(target Ref) {
	var prev Ref = Null
	cur := h.freeListHead
	for cur != Null {
		if cur == target {
			h.unlinkFree(cur, prev)
			return
		}
		prev = cur
		cur = h.getFreeNext(cur)
	}
}

// Clone duplicates a chunk's type and payload bytes into a freshly
// allocated chunk of the same size (§4.A). The duplicate starts White.
func (h *Heap) Clone(r Ref) (Ref, error) {
	if h.debugChecks && !h.IsChunkValid(r) {
		return Null, ErrInvalidChunk
	}
	c := h.ChunkFrom(r)
	dst, err := h.Alloc(c.Size, c.Type)
	if err != nil {
		return Null, err
	}
	copy(h.Bytes(dst, c.Size), h.Bytes(r, c.Size))
	return dst, nil
}

// Walk visits every chunk in the arena from start to end in header-size
// order, in-use or free, calling cb for each. Walking by header sizes must
// reach exactly the end of the heap with no overshoot (§3 invariant) — a
// mismatch here indicates header corruption and is caught by the caller's
// own accounting tests rather than panicking mid-walk, since Walk is also
// used for read-only heap inspection.
func (h *Heap) Walk(cb func(Chunk)) {
	off := uint32(0)
	for off+headerSize <= h.Len() {
		inUse, colour, typ, size := unpackHeader(h.readHeaderWord(off))
		cb(Chunk{Ref: Ref(off + headerSize), InUse: inUse, Colour: colour, Type: typ, Size: size})
		off += headerSize + size
	}
}

// QuiescentAccounting sums in-use payload, free payload, and header
// overhead across the whole heap — used by tests asserting the §8
// allocator invariant that this sum always equals the heap size.
func (h *Heap) QuiescentAccounting() (inUse, free, overhead uint32) {
	h.Walk(func(c Chunk) {
		overhead += headerSize
		if c.InUse {
			inUse += c.Size
		} else {
			free += c.Size
		}
	})
	return
}

// GCRanAtLeastOnce reports whether the injected GC hook has ever fired.
func (h *Heap) GCRanAtLeastOnce() bool { return h.gcRanOnce }
