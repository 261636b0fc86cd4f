// Package classdesc defines the concrete shapes of the class-file-derived
// descriptors BVM's heap and garbage collector must be able to scan (§3):
// Class descriptors (INSTANCE_CLAZZ chunks), Method descriptors, and the
// Object layout. Building these from real `.class` bytes is an explicit
// non-goal (§1) handled by an external class loader; this package only
// defines what the core needs to walk.
package classdesc

import (
	"encoding/binary"

	"babevm/internal/cell"
	"babevm/internal/heap"
)

// Magic is the sanity value stamped into every Class descriptor's magic
// field, checked by the conservative stack scanner (§4.D step 3 of the
// validation checklist) before it will trust a candidate pointer's class
// pointer.
const Magic uint32 = 0xBABE1EE7

// State is a class's position in the class-loading lifecycle (§3).
type State int

const (
	Loading State = iota
	Loaded
	Verified
	Prepared
	Initialising
	Initialised
	ErrorState
)

// AccessFlags mirrors the subset of class-file access flags the core
// cares about (method dispatch and synchronization), not the full set a
// verifier would check.
type AccessFlags uint16

const (
	AccSynchronized AccessFlags = 1 << iota
	AccStatic
	AccNative
	AccAbstract
)

func (f AccessFlags) Has(bit AccessFlags) bool { return f&bit != 0 }

// Field describes one declared field, static or instance. Offset is a cell
// index: into the class's static storage slab for a static field, or into
// an instance's trailing field array for an instance field.
type Field struct {
	Name      string
	Signature string
	Static    bool
	Reference bool // true if this field's Cell may hold a heap.Ref the GC must scan
	Offset    int
}

// ExceptionHandler is one entry of a method's exception table, used by the
// interpreter (out of scope here) to resolve a handler for a thrown
// exception at a given PC — the core only stores the table; it does not
// interpret it.
type ExceptionHandler struct {
	StartPC, EndPC, HandlerPC int
	CatchType                string // "" means catch-all (finally)
}

// NativeFunc is the function-pointer member of the Cell union realized for
// native methods: the signature every native method body implements.
// Registered and looked up through classio.NativeMethodRegistry (§6); its
// implementation is out of scope for the core.
type NativeFunc func(args []cell.Cell) (cell.Cell, error)

// Method is one method descriptor (§3). Exactly one of Bytecode or Native
// is meaningful, selected by AccessFlags.Has(AccNative).
type Method struct {
	Class         heap.Ref
	Name          string
	Signature     string
	Access        AccessFlags
	Bytecode      []byte
	Native        NativeFunc
	MaxStack      int
	MaxLocals     int
	ArgCount      int
	ExceptionTbl  []ExceptionHandler
	LineNumberTbl map[int]int // bytecode offset -> source line, optional
}

// Class is the INSTANCE_CLAZZ chunk payload (§3). Fields holds statics
// first, then instance fields; InstanceFieldStart is the boundary index
// the GC uses to know which to scan as static vs. skip as a per-object
// layout template.
type Class struct {
	Magic              uint32
	Name               string
	Signature          string
	ClassLoader        heap.Ref
	Super              heap.Ref
	Interfaces         []heap.Ref
	Fields             []Field
	InstanceFieldStart int
	Methods            []Method
	StaticStorage      []cell.Cell
	State              State
	ClassObject        heap.Ref
}

// NewClass builds a Class descriptor in the Loading state with a valid
// Magic stamp, ready for a loader to populate.
func NewClass(name string, classLoader heap.Ref) *Class {
	return &Class{Magic: Magic, Name: name, ClassLoader: classLoader, State: Loading}
}

// InstanceFields returns the subslice of Fields describing instance (not
// static) layout, in declaration order, matching the trailing cell array
// every OBJECT chunk carries.
func (c *Class) InstanceFields() []Field { return c.Fields[c.InstanceFieldStart:] }

// StaticFields returns the subslice of Fields describing static storage.
func (c *Class) StaticFields() []Field { return c.Fields[:c.InstanceFieldStart] }

// NumInstanceCells is the number of trailing cells an OBJECT chunk of this
// class (plus all supers, which the loader is responsible for flattening
// into Fields) must reserve.
func (c *Class) NumInstanceCells() int { return len(c.InstanceFields()) }

// --- Object layout: a header cell (class ref) followed by instance field
// cells, laid directly into heap payload bytes so the conservative scanner
// and precise OBJECT scanner read the same memory (§3 "Object"). ---

const objectHeaderCells = 1

// ObjectSize returns the total payload size in bytes an instance of class
// c needs: one header cell for the class pointer plus one cell per
// instance field.
func ObjectSize(c *Class) uint32 {
	return uint32(objectHeaderCells+c.NumInstanceCells()) * cell.Size
}

// ObjectClass reads the class pointer stored in an object's header cell.
func ObjectClass(h *heap.Heap, obj heap.Ref) heap.Ref {
	b := h.Bytes(obj, cell.Size)
	return heap.Ref(binary.LittleEndian.Uint32(b))
}

// SetObjectClass writes the class pointer into an object's header cell.
func SetObjectClass(h *heap.Heap, obj heap.Ref, class heap.Ref) {
	b := h.Bytes(obj, cell.Size)
	binary.LittleEndian.PutUint32(b, uint32(class))
}

// ObjectField reads the i'th instance field cell (post-header).
func ObjectField(h *heap.Heap, obj heap.Ref, i int) cell.Cell {
	off := uint32(objectHeaderCells+i) * cell.Size
	return binary.LittleEndian.Uint32(h.Bytes(obj+heap.Ref(off), cell.Size))
}

// SetObjectField writes the i'th instance field cell (post-header).
func SetObjectField(h *heap.Heap, obj heap.Ref, i int, v cell.Cell) {
	off := uint32(objectHeaderCells+i) * cell.Size
	binary.LittleEndian.PutUint32(h.Bytes(obj+heap.Ref(off), cell.Size), v)
}
