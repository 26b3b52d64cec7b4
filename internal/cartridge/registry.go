package cartridge

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry manages loaded cartridges.
type Registry struct {
	sync.RWMutex
	cartridges map[string]*Cartridge // name -> cartridge
	logger     *zap.Logger
}

// NewRegistry creates a new cartridge registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		cartridges: make(map[string]*Cartridge),
		logger:     logger.With(zap.String("component", "cartridge-registry")),
	}
}

// Register adds a cartridge to the registry.
func (r *Registry) Register(c *Cartridge) error {
	r.Lock()
	defer r.Unlock()

	name := c.Manifest.Name

	if _, exists := r.cartridges[name]; exists {
		return &AlreadyRegisteredError{CartridgeName: name}
	}

	r.cartridges[name] = c

	r.logger.Info("Cartridge registered",
		zap.String("name", name),
		zap.String("version", c.Manifest.Version),
	)

	return nil
}

// Get retrieves a cartridge by name.
func (r *Registry) Get(name string) (*Cartridge, bool) {
	r.RLock()
	defer r.RUnlock()

	c, ok := r.cartridges[name]
	return c, ok
}

// List returns all registered cartridges sorted by name.
func (r *Registry) List() []*Cartridge {
	r.RLock()
	defer r.RUnlock()

	result := make([]*Cartridge, 0, len(r.cartridges))
	for _, c := range r.cartridges {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Manifest.Name < result[j].Manifest.Name
	})
	return result
}

// Unregister removes a cartridge from the registry.
func (r *Registry) Unregister(name string) {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.cartridges[name]; !ok {
		return
	}
	delete(r.cartridges, name)

	r.logger.Info("Cartridge unregistered", zap.String("name", name))
}

// Count returns the number of registered cartridges.
func (r *Registry) Count() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.cartridges)
}
