package classio

import (
	"babevm/internal/classdesc"
	"babevm/internal/pool"
)

// NativeTable is the pool-backed NativeMethodRegistry: one bucketed table
// keyed by "class.method.signature", the same small-lookup-table shape
// package pool was built for (§4.H).
type NativeTable struct {
	methods *pool.Table[string, classdesc.NativeFunc]
}

// NewNativeTable creates an empty registry.
func NewNativeTable() *NativeTable {
	return &NativeTable{methods: pool.New[string, classdesc.NativeFunc](pool.FNV1a64)}
}

func nativeKey(className, methodName, signature string) string {
	return className + "." + methodName + "." + signature
}

// Register implements NativeMethodRegistry.
func (t *NativeTable) Register(className, methodName, signature string, fn classdesc.NativeFunc) {
	t.methods.Put(nativeKey(className, methodName, signature), fn)
}

// Lookup implements NativeMethodRegistry.
func (t *NativeTable) Lookup(className, methodName, signature string) (classdesc.NativeFunc, bool) {
	return t.methods.Get(nativeKey(className, methodName, signature))
}
