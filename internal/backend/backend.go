// Package backend defines the contract every storage backend must
// satisfy and the registry that maps framework identifiers from
// environment profiles to adapter constructors.
package backend

import (
	"fmt"
	"sort"
	"sync"

	"shrike/internal/filtermask"
	"shrike/internal/profile"
)

// Adapter is the minimal capability interface of a storage backend.
// Keys are scalar values for single-attribute keys and map[string]any for
// composite keys. Delete removes physically; soft deletion is a concern
// of the logical layer above.
type Adapter interface {
	// Setup receives the entity schemas the owning environment tracks
	// and prepares whatever infrastructure the backend needs.
	Setup(entities map[string]*profile.Entity) error
	// Insert stores a record and returns the key value, generating it
	// for autoincrement key attributes.
	Insert(entity string, rec map[string]any) (any, error)
	// Select returns the records matching all masks, in backend order.
	Select(entity string, masks []filtermask.FilterMask) ([]map[string]any, error)
	// Update applies a partial record to the record under key.
	Update(entity string, key any, patch map[string]any) error
	// Delete physically removes the record under key.
	Delete(entity string, key any) error
	// Close releases backend resources.
	Close() error
}

// Error wraps a backend-origin failure for diagnostic context. The core
// never retries; the cause is preserved for the caller.
type Error struct {
	Op     string
	Entity string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend %s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Constructor builds an adapter from the arguments map of an environment
// profile.
type Constructor func(args map[string]any) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register makes a backend constructor available under a framework
// identifier. It follows the database/sql driver convention: typically
// called from the backend package's init.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if ctor == nil {
		panic("backend: Register with nil constructor")
	}
	if _, dup := registry[name]; dup {
		panic("backend: Register called twice for " + name)
	}
	registry[name] = ctor
}

// Open resolves a framework identifier and constructs the adapter.
func Open(name string, args map[string]any) (Adapter, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backend: unknown framework %q (registered: %v)", name, Frameworks())
	}
	return ctor(args)
}

// Frameworks lists the registered identifiers, sorted.
func Frameworks() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
