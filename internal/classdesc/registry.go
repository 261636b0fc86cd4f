package classdesc

import (
	"encoding/binary"

	"babevm/internal/heap"
)

// ArrayOrPrimitiveClass is the lightweight descriptor behind ARRAY_CLAZZ
// and PRIMITIVE_CLAZZ chunks (§3): the GC only ever needs their
// classloader back-pointer.
type ArrayOrPrimitiveClass struct {
	Name        string
	ClassLoader heap.Ref
	Primitive   bool
}

// Registry is the Go-side table backing every INSTANCE_CLAZZ, ARRAY_CLAZZ,
// and PRIMITIVE_CLAZZ chunk. A class descriptor carries Go slices, maps,
// and strings — host-language metadata a class loader builds once — so
// rather than force that metadata into raw arena bytes (which would buy
// nothing: the loader that builds it and the GC that scans it are both
// Go code), each such chunk's payload holds only a 4-byte registry key,
// and Registry maps that key back to the real descriptor. This mirrors
// how the source VM treats these chunks as opaque-to-the-allocator,
// type-tagged records the GC dispatches on by tag alone (§3) — the
// "payload" contract is satisfied by the key, and the descriptor fields
// the GC actually needs to scan (classloader ref, static reference
// fields) live in the Go struct the key resolves to.
type Registry struct {
	classes     map[heap.Ref]*Class
	arrayPrim   map[heap.Ref]*ArrayOrPrimitiveClass
	nextKey     uint32
	h           *heap.Heap
}

// NewRegistry binds a Registry to the heap it allocates descriptor-handle
// chunks from.
func NewRegistry(h *heap.Heap) *Registry {
	return &Registry{
		classes:   make(map[heap.Ref]*Class),
		arrayPrim: make(map[heap.Ref]*ArrayOrPrimitiveClass),
		h:         h,
	}
}

// RegisterClass allocates an INSTANCE_CLAZZ chunk and binds it to c,
// returning the chunk's Ref (the value every Object's header cell and
// every Class.Super/ClassObject field actually points at).
func (r *Registry) RegisterClass(c *Class) (heap.Ref, error) {
	ref, err := r.h.Alloc(4, heap.InstanceClazz)
	if err != nil {
		return heap.Null, err
	}
	binary.LittleEndian.PutUint32(r.h.Bytes(ref, 4), r.nextKey)
	r.nextKey++
	r.classes[ref] = c
	return ref, nil
}

// RegisterArrayOrPrimitiveClass is RegisterClass's analogue for
// ARRAY_CLAZZ/PRIMITIVE_CLAZZ chunks.
func (r *Registry) RegisterArrayOrPrimitiveClass(c *ArrayOrPrimitiveClass) (heap.Ref, error) {
	typ := heap.ArrayClazz
	if c.Primitive {
		typ = heap.PrimitiveClazz
	}
	ref, err := r.h.Alloc(4, typ)
	if err != nil {
		return heap.Null, err
	}
	binary.LittleEndian.PutUint32(r.h.Bytes(ref, 4), r.nextKey)
	r.nextKey++
	r.arrayPrim[ref] = c
	return ref, nil
}

// Class looks up the descriptor behind an INSTANCE_CLAZZ chunk.
func (r *Registry) Class(ref heap.Ref) (*Class, bool) {
	c, ok := r.classes[ref]
	return c, ok
}

// ArrayOrPrimitiveClass looks up the descriptor behind an ARRAY_CLAZZ or
// PRIMITIVE_CLAZZ chunk.
func (r *Registry) ArrayOrPrimitiveClass(ref heap.Ref) (*ArrayOrPrimitiveClass, bool) {
	c, ok := r.arrayPrim[ref]
	return c, ok
}

// Unload removes a class descriptor from the registry. Called during sweep
// when an INSTANCE_CLAZZ/ARRAY_CLAZZ/PRIMITIVE_CLAZZ chunk is found white
// (§4.D "class unloading"); the chunk itself is freed by the sweeper.
func (r *Registry) Unload(ref heap.Ref) {
	delete(r.classes, ref)
	delete(r.arrayPrim, ref)
}

// AllClassRefs returns every currently registered INSTANCE_CLAZZ ref, in
// unspecified order. The collector does not treat these as roots: a class
// reachable only through the registry is unloaded by sweep.
func (r *Registry) AllClassRefs() []heap.Ref {
	refs := make([]heap.Ref, 0, len(r.classes))
	for ref := range r.classes {
		refs = append(refs, ref)
	}
	return refs
}
