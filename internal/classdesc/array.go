package classdesc

import (
	"encoding/binary"

	"babevm/internal/cell"
	"babevm/internal/heap"
)

// Array layout, for both ARRAY_OF_OBJECT and ARRAY_OF_PRIMITIVE chunks: one
// header cell holding the element count, followed by that many element
// cells. An ARRAY_OF_OBJECT's element cells hold heap.Ref values (one per
// object reference, heap.Null for a null slot); an ARRAY_OF_PRIMITIVE's
// element cells hold raw guest values, one cell per element regardless of
// the primitive's source width — sub-cell-width primitives (byte, short)
// are not packed, trading some memory for not needing a second per-class
// element-size descriptor the heap chunk header has no room for anyway.
const arrayHeaderCells = 1

// ArraySize returns the total payload size in bytes for an array of length
// elements.
func ArraySize(length int) uint32 {
	return uint32(arrayHeaderCells+length) * cell.Size
}

// ArrayLength reads an array chunk's element count.
func ArrayLength(h *heap.Heap, arr heap.Ref) int {
	return int(binary.LittleEndian.Uint32(h.Bytes(arr, cell.Size)))
}

func setArrayLength(h *heap.Heap, arr heap.Ref, length int) {
	binary.LittleEndian.PutUint32(h.Bytes(arr, cell.Size), uint32(length))
}

// NewObjectArray allocates an ARRAY_OF_OBJECT chunk of length, all
// elements null.
func NewObjectArray(h *heap.Heap, length int) (heap.Ref, error) {
	ref, err := h.Calloc(ArraySize(length), heap.ArrayOfObject)
	if err != nil {
		return heap.Null, err
	}
	setArrayLength(h, ref, length)
	return ref, nil
}

// NewPrimitiveArray allocates an ARRAY_OF_PRIMITIVE chunk of length, all
// elements zero.
func NewPrimitiveArray(h *heap.Heap, length int) (heap.Ref, error) {
	ref, err := h.Calloc(ArraySize(length), heap.ArrayOfPrimitive)
	if err != nil {
		return heap.Null, err
	}
	setArrayLength(h, ref, length)
	return ref, nil
}

func arrayElemOffset(i int) uint32 {
	return uint32(arrayHeaderCells+i) * cell.Size
}

// ArrayElemRef reads element i of an ARRAY_OF_OBJECT.
func ArrayElemRef(h *heap.Heap, arr heap.Ref, i int) heap.Ref {
	return heap.Ref(binary.LittleEndian.Uint32(h.Bytes(arr+heap.Ref(arrayElemOffset(i)), cell.Size)))
}

// SetArrayElemRef writes element i of an ARRAY_OF_OBJECT.
func SetArrayElemRef(h *heap.Heap, arr heap.Ref, i int, v heap.Ref) {
	binary.LittleEndian.PutUint32(h.Bytes(arr+heap.Ref(arrayElemOffset(i)), cell.Size), uint32(v))
}

// ArrayElemCell reads element i of an ARRAY_OF_PRIMITIVE.
func ArrayElemCell(h *heap.Heap, arr heap.Ref, i int) cell.Cell {
	return binary.LittleEndian.Uint32(h.Bytes(arr+heap.Ref(arrayElemOffset(i)), cell.Size))
}

// SetArrayElemCell writes element i of an ARRAY_OF_PRIMITIVE.
func SetArrayElemCell(h *heap.Heap, arr heap.Ref, i int, v cell.Cell) {
	binary.LittleEndian.PutUint32(h.Bytes(arr+heap.Ref(arrayElemOffset(i)), cell.Size), v)
}
