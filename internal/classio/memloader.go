package classio

import (
	"fmt"

	"babevm/internal/classdesc"
)

// MemLoader is the trivial in-memory ClassLoader: classes are registered
// directly by a test or the cmd/babevm demo driver instead of being
// parsed from .class bytes, matching the teacher's own preference for
// small, purpose-built stand-ins (vm/devices.go's in-memory device bus)
// over pulling in a parser this core has no use for (§1).
type MemLoader struct {
	classes map[string]*classdesc.Class
}

// NewMemLoader creates an empty loader.
func NewMemLoader() *MemLoader {
	return &MemLoader{classes: make(map[string]*classdesc.Class)}
}

// Add registers a pre-built descriptor under its own Name.
func (l *MemLoader) Add(c *classdesc.Class) {
	l.classes[c.Name] = c
}

// LoadClass implements ClassLoader.
func (l *MemLoader) LoadClass(name string) (*classdesc.Class, error) {
	c, ok := l.classes[name]
	if !ok {
		return nil, fmt.Errorf("classio: class %q not found", name)
	}
	return c, nil
}
