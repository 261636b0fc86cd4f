package classdesc

import (
	"encoding/binary"

	"babevm/internal/cell"
	"babevm/internal/heap"
)

// STRING chunk layout: one cell holding a ref to the backing char array
// (an ARRAY_OF_PRIMITIVE), per §3/§4.D ("mark the char-array child black").
// Strings never embed their characters directly so that interned strings
// and ordinary strings built by concatenation can share a backing array.

const stringPayloadCells = 1

// NewString allocates a STRING chunk pointing at chars.
func NewString(h *heap.Heap, chars heap.Ref) (heap.Ref, error) {
	ref, err := h.Alloc(stringPayloadCells*cell.Size, heap.String)
	if err != nil {
		return heap.Null, err
	}
	SetStringChars(h, ref, chars)
	return ref, nil
}

// StringChars reads the char-array ref a STRING chunk points at.
func StringChars(h *heap.Heap, s heap.Ref) heap.Ref {
	return heap.Ref(binary.LittleEndian.Uint32(h.Bytes(s, cell.Size)))
}

// SetStringChars writes the char-array ref a STRING chunk points at.
func SetStringChars(h *heap.Heap, s heap.Ref, chars heap.Ref) {
	binary.LittleEndian.PutUint32(h.Bytes(s, cell.Size), uint32(chars))
}

// WEAK_REFERENCE chunk layout: one cell holding the referent, nulled out by
// the collector's weak-reference processing pass once the referent is
// found unreachable (§4.D "Weak references").

const weakRefPayloadCells = 1

// NewWeakReference allocates a WEAK_REFERENCE chunk pointing at referent.
func NewWeakReference(h *heap.Heap, referent heap.Ref) (heap.Ref, error) {
	ref, err := h.Alloc(weakRefPayloadCells*cell.Size, heap.WeakReference)
	if err != nil {
		return heap.Null, err
	}
	SetWeakReferent(h, ref, referent)
	return ref, nil
}

// WeakReferent reads the referent a WEAK_REFERENCE chunk points at.
func WeakReferent(h *heap.Heap, w heap.Ref) heap.Ref {
	return heap.Ref(binary.LittleEndian.Uint32(h.Bytes(w, cell.Size)))
}

// SetWeakReferent writes the referent a WEAK_REFERENCE chunk points at.
func SetWeakReferent(h *heap.Heap, w heap.Ref, referent heap.Ref) {
	binary.LittleEndian.PutUint32(h.Bytes(w, cell.Size), uint32(referent))
}
