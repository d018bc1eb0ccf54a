package connector

import (
	"fmt"
	"sort"
	"sync"
)

// Catalog maintains a mapping of connector type names to their Type.
// Backend packages register themselves using Register.
type Catalog struct {
	mu    sync.RWMutex
	types map[string]Type
}

// DefaultCatalog is the global connector catalog.
var DefaultCatalog = NewCatalog()

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{types: make(map[string]Type)}
}

// Register adds a connector type to the catalog, replacing any previous type
// with the same name.
func (c *Catalog) Register(t Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types[t.Name] = t
}

// Lookup returns the type registered under name.
func (c *Catalog) Lookup(name string) (Type, error) {
	c.mu.RLock()
	t, ok := c.types[name]
	c.mu.RUnlock()
	if !ok {
		return Type{}, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownType, name, c.Names())
	}
	return t, nil
}

// Capabilities returns the capabilities of a registered type.
// Returns a zero Capabilities carrying only the name if the type is unknown.
func (c *Catalog) Capabilities(name string) Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.types[name]; ok {
		return t.Capabilities
	}
	return Capabilities{Name: name}
}

// Names returns the sorted list of registered type names.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has returns true if a type is registered with the given name.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.types[name]
	return ok
}

// Register adds a connector type to the default catalog.
func Register(t Type) {
	DefaultCatalog.Register(t)
}

// Lookup returns a connector type from the default catalog.
func Lookup(name string) (Type, error) {
	return DefaultCatalog.Lookup(name)
}
