// Package heap implements the fixed-size byte arena, coalescing best-fit
// allocator, and chunk-header bookkeeping described by BVM §4.A. It is the
// one allocator in the VM: there is no separate system allocator, and the
// heap never grows once created.
//
// Every allocation unit is a Chunk: a packed header (in-use bit, 2-bit GC
// colour, 4-bit allocation type, 24-bit size) followed by its payload.
// Chunks are laid out contiguously, so walking the heap by header size
// reaches exactly the end (§3 invariant), the same way the teacher VM's flat
// byte stack is addressed purely by arithmetic on a register pair (vm/vm.go,
// pushStack/popStack) rather than by Go slice bounds-checked structures.
package heap

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Ref is a byte offset into the heap arena, identifying one chunk's payload
// (not its header). It is the Go stand-in for the "pointer to chunk
// user-data" member of the Cell union (§3) and for the raw handles the
// cyclic-graph design note (§9) calls for instead of owned Go pointers.
type Ref uint32

// Null is the reference value meaning "no object" everywhere a Cell would
// hold a null chunk pointer.
const Null Ref = 0

// Type is the 4-bit allocation-type tag stamped into every chunk header;
// it is the only hint the GC uses to decide how to scan a chunk (§3).
type Type uint8

const (
	Static Type = iota
	Data
	Object
	ArrayOfPrimitive
	ArrayOfObject
	String
	WeakReference
	InstanceClazz
	ArrayClazz
	PrimitiveClazz

	typeCount
)

func (t Type) String() string {
	names := [...]string{
		"Static", "Data", "Object", "ArrayOfPrimitive", "ArrayOfObject",
		"String", "WeakReference", "InstanceClazz", "ArrayClazz", "PrimitiveClazz",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return fmt.Sprintf("Type(%d)", t)
}

// Valid reports whether t is one of the enumerated allocation types; any
// other tag encountered during sweep or validation is a fatal VM error
// (§4.A, §4.D).
func (t Type) Valid() bool { return t < typeCount }

// Colour is the 2-bit tri-colour mark used by the garbage collector (§4.D).
type Colour uint8

const (
	White Colour = iota
	Grey
	Black
)

// Alignment is the minimum chunk size granularity. It must be at least the
// platform cell alignment (4 bytes); 8 gives headroom for the 7-cell frame
// layout (§4.G) and object header word to land on aligned boundaries.
const Alignment = 8

// header bit layout within one little-endian uint32, mirroring the way the
// teacher packs multiple small sub-fields (opcode, data-flag, argument) into
// a single Instruction value (vm/bytecode.go) rather than several separate
// fields scattered across the heap.
//
//	bit 0      : in-use
//	bits 1-2   : colour
//	bits 3-6   : type
//	bits 7-30  : size in bytes (payload only, not including the header word)
const (
	headerSize = 4 // bytes; one Cell

	inUseShift = 0
	inUseMask  = 0x1

	colourShift = 1
	colourMask  = 0x3

	typeShift = 3
	typeMask  = 0xF

	sizeShift = 7
	sizeMask  = 0xFFFFFF // 24 bits -> heap capped at 16 MiB, per §3
)

// MaxHeapSize is the largest heap the 24-bit chunk size field can address.
const MaxHeapSize = sizeMask

// MinHeapSize is the smallest heap §6's configuration bounds allow.
const MinHeapSize = 128 * 1024

var (
	// ErrOutOfMemory is the VM's single OOM condition. The caller (the
	// allocator's OOM hook, Heap.OOM) is expected to already hold a pre-built OOM
	// exception object; this error is the Go-level signal that the guest
	// throwable must be raised (§4.A, §7) — it carries no allocation.
	ErrOutOfMemory = errors.New("heap: out of memory")
	// ErrChunkTooLarge is fatal: allocating more than the whole heap.
	ErrChunkTooLarge = errors.New("heap: chunk larger than heap")
	// ErrInvalidChunk is fatal in debug builds: free/clone/set_type on a
	// chunk that fails validity checks.
	ErrInvalidChunk = errors.New("heap: invalid chunk")
)

// Chunk is the decoded header of one chunk, addressed by its payload Ref.
// A free chunk is additionally threaded into a singly linked free list via
// the 4 bytes immediately following the header (valid only while the chunk
// is free, since those bytes are payload once allocated).
type Chunk struct {
	Ref    Ref
	InUse  bool
	Colour Colour
	Type   Type
	Size   uint32 // payload size in bytes
}

// GCFunc triggers exactly one garbage-collection pass. It is injected
// rather than imported directly so that package gc (which depends on
// package heap to walk and free chunks) does not create an import cycle.
type GCFunc func()

// OOMFunc raises the guest-visible out-of-memory condition using a
// pre-built throwable (§4.A, §7: "never allocated at the failure point").
// It is injected the same way GCFunc is, so package heap never depends on
// package vmerr, which itself imports package heap.
type OOMFunc func()

// Heap is a single fixed-size contiguous arena. debugChecks gates the
// "fatal in debug builds" validity checks of §4.A.
type Heap struct {
	arena        []byte
	debugChecks  bool
	gc           GCFunc
	gcRanOnce    bool
	freeListHead Ref // 0 == Null == empty; a chunk can never legally start at offset 0 and be free-listed as itself since offset 0 is the arena's first header

	// OOM is called by Alloc when even a post-GC retry cannot satisfy a
	// request. Machine wires this in after building the pre-built OOM
	// throwable, the same way Scheduler.MonitorAcquire is wired in once
	// both halves of a would-be import cycle exist.
	OOM OOMFunc
}

// New creates a heap of exactly size bytes (aligned up to Alignment),
// entirely free, with GC hooked in via gc. debugChecks enables the
// validity checks that are fatal-on-failure per §4.A.
func New(size uint32, gc GCFunc, debugChecks bool) (*Heap, error) {
	if size > MaxHeapSize {
		return nil, fmt.Errorf("%w: requested %d > max %d", ErrChunkTooLarge, size, MaxHeapSize)
	}
	size = alignUp(size)
	h := &Heap{
		arena:       make([]byte, size),
		debugChecks: debugChecks,
		gc:          gc,
	}
	// The entire arena starts as one free chunk.
	h.writeHeader(0, false, White, Data, size-headerSize)
	h.setFreeNext(headerSize, Null)
	h.freeListHead = headerSize // Ref points at payload, i.e. right after the header
	return h, nil
}

func alignUp(n uint32) uint32 {
	if rem := n % Alignment; rem != 0 {
		n += Alignment - rem
	}
	return n
}

// --- header packing, grounded on the teacher's Instruction bit layout ---

func packHeader(inUse bool, colour Colour, typ Type, size uint32) uint32 {
	var u uint32
	if inUse {
		u |= 1 << inUseShift
	}
	u |= (uint32(colour) & colourMask) << colourShift
	u |= (uint32(typ) & typeMask) << typeShift
	u |= (size & sizeMask) << sizeShift
	return u
}

func unpackHeader(u uint32) (inUse bool, colour Colour, typ Type, size uint32) {
	inUse = (u>>inUseShift)&inUseMask != 0
	colour = Colour((u >> colourShift) & colourMask)
	typ = Type((u >> typeShift) & typeMask)
	size = (u >> sizeShift) & sizeMask
	return
}

func headerOffset(r Ref) uint32 { return uint32(r) - headerSize }

func (h *Heap) readHeaderWord(headerOff uint32) uint32 {
	return binary.LittleEndian.Uint32(h.arena[headerOff:])
}

func (h *Heap) writeHeaderWord(headerOff uint32, word uint32) {
	binary.LittleEndian.PutUint32(h.arena[headerOff:], word)
}

func (h *Heap) writeHeader(headerOff uint32, inUse bool, colour Colour, typ Type, size uint32) {
	h.writeHeaderWord(headerOff, packHeader(inUse, colour, typ, size))
}

// free-list next pointer is stored in the first 4 bytes of a free chunk's
// payload (there being no payload content worth preserving while free).
func (h *Heap) setFreeNext(r Ref, next Ref) {
	binary.LittleEndian.PutUint32(h.arena[uint32(r):], uint32(next))
}

func (h *Heap) getFreeNext(r Ref) Ref {
	return Ref(binary.LittleEndian.Uint32(h.arena[uint32(r):]))
}

// ChunkFrom returns the header fields for the chunk owning ref.
func (h *Heap) ChunkFrom(r Ref) Chunk {
	off := headerOffset(r)
	inUse, colour, typ, size := unpackHeader(h.readHeaderWord(off))
	return Chunk{Ref: r, InUse: inUse, Colour: colour, Type: typ, Size: size}
}

func (h *Heap) GetType(r Ref) Type     { return h.ChunkFrom(r).Type }
func (h *Heap) GetColour(r Ref) Colour { return h.ChunkFrom(r).Colour }
func (h *Heap) IsInUse(r Ref) bool     { return h.ChunkFrom(r).InUse }

func (h *Heap) SetColour(r Ref, c Colour) {
	off := headerOffset(r)
	inUse, _, typ, size := unpackHeader(h.readHeaderWord(off))
	h.writeHeader(off, inUse, c, typ, size)
}

// SetType stamps a new allocation-type tag into the header verbatim; the
// GC trusts this tag completely when deciding how to scan the chunk (§3).
func (h *Heap) SetType(r Ref, typ Type) {
	off := headerOffset(r)
	inUse, colour, _, size := unpackHeader(h.readHeaderWord(off))
	h.writeHeader(off, inUse, colour, typ, size)
}

// Bytes returns the raw payload bytes of a chunk for direct read/write by
// the interpreter or a scanning component. The slice aliases heap memory.
func (h *Heap) Bytes(r Ref, size uint32) []byte {
	return h.arena[uint32(r) : uint32(r)+size]
}

// Len returns the total arena size in bytes.
func (h *Heap) Len() uint32 { return uint32(len(h.arena)) }

// IsChunkValid runs the conservative-scan structural sanity checks that
// §4.D's stack scanner and §4.A's free/clone entry points both require:
// the ref must be in range, point at a properly aligned header, and name a
// valid allocation type.
func (h *Heap) IsChunkValid(r Ref) bool {
	if r < headerSize || uint32(r) > h.Len() {
		return false
	}
	off := headerOffset(r)
	if off+headerSize > h.Len() {
		return false
	}
	_, _, typ, size := unpackHeader(h.readHeaderWord(off))
	if !typ.Valid() {
		return false
	}
	if uint32(r)+size > h.Len() {
		return false
	}
	return true
}
