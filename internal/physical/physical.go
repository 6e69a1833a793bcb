// Package physical is the routing front of the access stack: it maps
// entity names to the environment (and logical layer) that serves them,
// checks authorization before anything touches a backend, and swaps the
// whole routing state atomically when profiles are reloaded.
package physical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"shrike/internal/backend"
	"shrike/internal/filtermask"
	"shrike/internal/funcs"
	"shrike/internal/logical"
	"shrike/internal/profile"
)

// AuthorizationToken derives the token for a password the way entity
// profiles store it in their authorize meta option. Callers supply the
// raw password; hashing happens at the routing layer.
func AuthorizationToken(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// UnroutableEntityError is raised for entity names no environment serves.
type UnroutableEntityError struct {
	Entity string
}

func (e *UnroutableEntityError) Error() string {
	return fmt.Sprintf("no environment serves entity %q", e.Entity)
}

// AuthorizationError rejects operations without the matching token.
type AuthorizationError struct {
	Entity string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("entity %q: authorization failed", e.Entity)
}

// Options carries the per-call controls of an operation: the caller
// password and, for reads, the linkages to attach plus masks on them.
type Options struct {
	Authorization  string
	Linkages       []string
	LinkageFilters map[string][]filtermask.FilterMask
}

type state struct {
	set    *profile.Set
	routes map[string]*logical.Interface
	layers []*logical.Interface
	wg     sync.WaitGroup
}

// route resolves the serving logical layer and checks authorization.
// Authorization lives here and only here: nothing below this point ever
// sees an unauthorized operation. The supplied password is hashed and
// compared against the stored token.
func (st *state) route(entity string, opts Options) (*logical.Interface, error) {
	li, ok := st.routes[entity]
	if !ok {
		return nil, &UnroutableEntityError{Entity: entity}
	}
	e := st.set.Entities[entity]
	if e != nil && e.Meta.Authorize != "" && AuthorizationToken(opts.Authorization) != e.Meta.Authorize {
		return nil, &AuthorizationError{Entity: entity}
	}
	return li, nil
}

// Interface is the process-wide entity access front.
type Interface struct {
	current atomic.Pointer[state]
	reg     *funcs.Registry
	log     zerolog.Logger
}

// New builds the routing state from a profile set: one adapter and
// logical layer per environment. Environments with exact targets claim
// their entities first (declaration order among them); wildcard
// environments sweep whatever remains.
func New(set *profile.Set, registry *funcs.Registry, logger zerolog.Logger) (*Interface, error) {
	pi := &Interface{reg: registry, log: logger}
	st, err := pi.build(set)
	if err != nil {
		return nil, err
	}
	pi.current.Store(st)
	return pi, nil
}

func (pi *Interface) build(set *profile.Set) (*state, error) {
	st := &state{set: set, routes: map[string]*logical.Interface{}}

	// claim pass: exact targets win over wildcards regardless of
	// declaration order
	claimed := map[string]bool{}
	owned := make([]map[string]*profile.Entity, len(set.Environments))
	for i, env := range set.Environments {
		if env.Wildcard() {
			continue
		}
		owned[i] = map[string]*profile.Entity{}
		for _, name := range env.Targets {
			e, ok := set.Entities[name]
			if !ok {
				return nil, fmt.Errorf("environment %q targets unknown entity %q", env.Framework, name)
			}
			if claimed[name] {
				continue
			}
			owned[i][name] = e
			claimed[name] = true
		}
	}
	for i, env := range set.Environments {
		if !env.Wildcard() {
			continue
		}
		owned[i] = map[string]*profile.Entity{}
		for name, e := range set.Entities {
			if !claimed[name] {
				owned[i][name] = e
				claimed[name] = true
			}
		}
	}

	for i, env := range set.Environments {
		if len(owned[i]) == 0 {
			pi.log.Warn().Str("framework", env.Framework).Msg("environment owns no entities")
			continue
		}

		adapter, err := backend.Open(env.Framework, env.Arguments)
		if err != nil {
			return nil, err
		}
		li, err := logical.New(adapter, owned[i], set.Linkages, pi.reg, pi.log.With().Str("framework", env.Framework).Logger())
		if err != nil {
			_ = adapter.Close()
			return nil, err
		}
		// linkage targets may live in another environment
		li.SetTargetReader(readerFunc(func(entity string, masks []filtermask.FilterMask, opts logical.ReadOptions) ([]map[string]any, error) {
			return pi.read(entity, masks, opts)
		}))

		st.layers = append(st.layers, li)
		for name := range owned[i] {
			st.routes[name] = li
		}
		pi.log.Info().Str("framework", env.Framework).Int("entities", len(owned[i])).Msg("environment ready")
	}

	for name := range set.Entities {
		if !claimed[name] {
			return nil, &UnroutableEntityError{Entity: name}
		}
	}
	return st, nil
}

type readerFunc func(entity string, masks []filtermask.FilterMask, opts logical.ReadOptions) ([]map[string]any, error)

func (f readerFunc) Read(entity string, masks []filtermask.FilterMask, opts logical.ReadOptions) ([]map[string]any, error) {
	return f(entity, masks, opts)
}

// acquire pins the active state for the duration of one operation, so a
// concurrent Reload cannot close its adapters underneath the caller.
func (pi *Interface) acquire() *state {
	st := pi.current.Load()
	st.wg.Add(1)
	return st
}

func (st *state) release() { st.wg.Done() }

// Reload builds a fresh routing state from the set and swaps it in.
// In-flight operations finish on the old state; its adapters close on a
// background goroutine once the last one drains.
func (pi *Interface) Reload(set *profile.Set) error {
	st, err := pi.build(set)
	if err != nil {
		return err
	}
	old := pi.current.Swap(st)
	if old != nil {
		go func() {
			old.wg.Wait()
			for _, li := range old.layers {
				_ = li.Close()
			}
		}()
	}
	pi.log.Info().Msg("profile set reloaded")
	return nil
}

// Close shuts every environment down.
func (pi *Interface) Close() error {
	st := pi.current.Load()
	if st == nil {
		return nil
	}
	st.wg.Wait()
	var first error
	for _, li := range st.layers {
		if err := li.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Set returns the active profile set.
func (pi *Interface) Set() *profile.Set {
	return pi.current.Load().set
}

// Create inserts one record.
func (pi *Interface) Create(entity string, rec map[string]any, opts Options) (map[string]any, error) {
	st := pi.acquire()
	defer st.release()
	li, err := st.route(entity, opts)
	if err != nil {
		return nil, err
	}
	return li.Create(entity, rec)
}

// CreateBatch inserts records in order, stopping at the first failure
// and reporting how many landed.
func (pi *Interface) CreateBatch(entity string, recs []map[string]any, opts Options) ([]map[string]any, int, error) {
	st := pi.acquire()
	defer st.release()
	li, err := st.route(entity, opts)
	if err != nil {
		return nil, 0, err
	}
	out := make([]map[string]any, 0, len(recs))
	for i, rec := range recs {
		created, err := li.Create(entity, rec)
		if err != nil {
			return out, i, err
		}
		out = append(out, created)
	}
	return out, len(recs), nil
}

// Read selects records matching the masks and attaches requested
// linkages.
func (pi *Interface) Read(entity string, masks []filtermask.FilterMask, opts Options) ([]map[string]any, error) {
	st := pi.acquire()
	defer st.release()
	li, err := st.route(entity, opts)
	if err != nil {
		return nil, err
	}
	return li.Read(entity, masks, logical.ReadOptions{Linkages: opts.Linkages, LinkageFilters: opts.LinkageFilters})
}

// ReadBatch runs one read per mask set and concatenates the results.
func (pi *Interface) ReadBatch(entity string, maskSets [][]filtermask.FilterMask, opts Options) ([]map[string]any, error) {
	st := pi.acquire()
	defer st.release()
	li, err := st.route(entity, opts)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for _, masks := range maskSets {
		recs, err := li.Read(entity, masks, logical.ReadOptions{Linkages: opts.Linkages, LinkageFilters: opts.LinkageFilters})
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// Update patches the record under key.
func (pi *Interface) Update(entity string, key any, patch map[string]any, opts Options) (map[string]any, error) {
	st := pi.acquire()
	defer st.release()
	li, err := st.route(entity, opts)
	if err != nil {
		return nil, err
	}
	return li.Update(entity, key, patch)
}

// Delete removes (or soft-deletes) the record under key.
func (pi *Interface) Delete(entity string, key any, opts Options) error {
	st := pi.acquire()
	defer st.release()
	li, err := st.route(entity, opts)
	if err != nil {
		return err
	}
	return li.Delete(entity, key)
}

// KeyFilter derives the key-lookup masks for an entity key.
func (pi *Interface) KeyFilter(entity string, key any) ([]filtermask.FilterMask, error) {
	st := pi.current.Load()
	li, ok := st.routes[entity]
	if !ok {
		return nil, &UnroutableEntityError{Entity: entity}
	}
	return li.KeyFilter(entity, key)
}

// ResolveLinkage resolves one declared linkage for a source record.
func (pi *Interface) ResolveLinkage(name string, source map[string]any, opts Options) ([]map[string]any, error) {
	st := pi.acquire()
	defer st.release()
	l, ok := st.set.Linkages[name]
	if !ok {
		return nil, &logical.LinkageResolutionError{Linkage: name, Err: fmt.Errorf("linkage is not declared")}
	}
	li, err := st.route(l.Source, opts)
	if err != nil {
		return nil, err
	}
	return li.ResolveLinkage(l, source)
}

// read is the unauthenticated internal read used for linkage targets;
// the caller already passed authorization for the source entity.
func (pi *Interface) read(entity string, masks []filtermask.FilterMask, opts logical.ReadOptions) ([]map[string]any, error) {
	st := pi.acquire()
	defer st.release()
	li, ok := st.routes[entity]
	if !ok {
		return nil, &UnroutableEntityError{Entity: entity}
	}
	return li.Read(entity, masks, opts)
}
