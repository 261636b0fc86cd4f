// Package vm wires packages A-H (heap, roots, vmerr, gc, monitor, sched,
// frame, pool) plus classdesc/classio/vmlog into one runnable Machine, the
// Go analogue of the teacher's top-level gvm.VM (vm/vm.go) and the
// flag-driven Config its main.go assembles before constructing one.
package vm

import (
	"fmt"

	"babevm/internal/heap"
	"babevm/internal/roots"
)

// configAlignment is the Config-level size granularity §6 asks for on
// HeapSize, independent of (and stricter than) the allocator's own
// internal heap.Alignment — a config mistake (e.g. a heap size that isn't
// a round number of pages) should be caught at startup, not three layers
// down inside the allocator.
const configAlignment = 16

// Bounds from §6.
const (
	MinTransientRootDepth = 50
	MaxTransientRootDepth = 5000
	MinPermanentRootDepth = 100
	MaxPermanentRootDepth = 500
)

// Config is the process-level configuration, read once at startup and
// never mutated afterward, matching the teacher's own flow of parsing
// flags into a fixed struct before any VM state exists (main.go).
type Config struct {
	HeapSize           uint32
	StackSegmentHeight int
	TransientRootDepth int
	PermanentRootDepth int
	BootClasspath      []string
	UserClasspath      []string
	MaxOpenFiles       int
	PoolBucketCount    int
	AssertionsEnabled  bool
	MainClass          string
	MainArgs           []string
}

// NewConfig returns a Config populated with the defaults named throughout
// §6: a 1 MiB heap, 256-cell stack segments, and root depths of 512
// transient and 128 permanent, inside their allowed ranges.
func NewConfig() Config {
	return Config{
		HeapSize:           1 << 20,
		StackSegmentHeight: 256,
		TransientRootDepth: 512,
		PermanentRootDepth: 128,
		MaxOpenFiles:       16,
		PoolBucketCount:    64,
	}
}

// Validate enforces §6's configuration bounds, the same fail-fast-at-
// startup posture the teacher's main.go applies to its own flag values
// before building a VM.
func (c Config) Validate() error {
	if c.HeapSize < heap.MinHeapSize || c.HeapSize > heap.MaxHeapSize {
		return fmt.Errorf("vm: heap size %d out of range [%d, %d]", c.HeapSize, heap.MinHeapSize, heap.MaxHeapSize)
	}
	if c.HeapSize%configAlignment != 0 {
		return fmt.Errorf("vm: heap size %d is not %d-byte aligned", c.HeapSize, configAlignment)
	}
	if c.TransientRootDepth < MinTransientRootDepth || c.TransientRootDepth > MaxTransientRootDepth {
		return fmt.Errorf("vm: transient root depth %d out of range [%d, %d]", c.TransientRootDepth, MinTransientRootDepth, MaxTransientRootDepth)
	}
	if c.PermanentRootDepth < MinPermanentRootDepth || c.PermanentRootDepth > MaxPermanentRootDepth {
		return fmt.Errorf("vm: permanent root depth %d out of range [%d, %d]", c.PermanentRootDepth, MinPermanentRootDepth, MaxPermanentRootDepth)
	}
	if c.StackSegmentHeight <= 0 {
		return fmt.Errorf("vm: stack segment height must be positive, got %d", c.StackSegmentHeight)
	}
	if c.MaxOpenFiles <= 0 {
		return fmt.Errorf("vm: max open files must be positive, got %d", c.MaxOpenFiles)
	}
	if c.PoolBucketCount <= 0 {
		return fmt.Errorf("vm: pool bucket count must be positive, got %d", c.PoolBucketCount)
	}
	return nil
}

// newRootStacks builds the two GC-root stacks sized per this Config.
func (c Config) newRootStacks() *roots.Stacks {
	return roots.New(c.PermanentRootDepth, c.TransientRootDepth)
}
