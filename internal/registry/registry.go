// Package registry maps descriptor type tags to lazily-loaded renderer
// implementations. Registration happens once at startup (bulk
// discovery or manual); resolution caches successful loads for the
// process lifetime and leaves failures uncached so they retry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ucinar/exepad-runtime/internal/cachemanager"
	"github.com/ucinar/exepad-runtime/internal/log"
	"github.com/ucinar/exepad-runtime/internal/render"
)

// Registry errors.
var (
	ErrNotRegistered = errors.New("component type not registered")
	ErrLoadFailed    = errors.New("component implementation failed to load")
)

// Status describes a registration's lifecycle stage.
type Status string

const (
	StatusStable       Status = "stable"
	StatusExperimental Status = "experimental"
	StatusDeprecated   Status = "deprecated"
)

// Metadata describes a registered component type.
type Metadata struct {
	Category  string
	SizeClass string
	Status    Status
	Version   string
}

type entry struct {
	load render.Loader
	meta Metadata
}

// Registry is the process-wide type → implementation mapping. Reads are
// concurrent-safe; registration is last-writer-wins and idempotent.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry

	impls    cachemanager.CacheManager[render.Renderer]
	resolver *cachemanager.ReadThroughCache[render.Renderer, render.Loader]
}

// New creates an empty registry.
func New() *Registry {
	impls := cachemanager.NewInMemoryCacheManager[render.Renderer](
		"registry", cachemanager.NoExpiration, 0)
	r := &Registry{
		entries: make(map[string]entry),
		impls:   impls,
	}
	r.resolver = cachemanager.NewReadThroughCache(
		impls,
		func(ctx context.Context, load render.Loader) (render.Renderer, error) {
			return load(ctx)
		},
		false,
	)
	return r
}

// Register binds a type tag to a loader. Re-registering a type logs and
// replaces the previous binding (and drops any cached implementation);
// it never fails hard. Invalid input is logged and ignored.
func (r *Registry) Register(typeName string, load render.Loader, meta Metadata) {
	if typeName == "" || load == nil {
		log.Warn(log.CatRegistry, "ignoring invalid registration", "type", typeName, "nilLoader", load == nil)
		return
	}

	r.mu.Lock()
	_, replaced := r.entries[typeName]
	r.entries[typeName] = entry{load: load, meta: meta}
	r.mu.Unlock()

	if replaced {
		log.Warn(log.CatRegistry, "re-registered component type, last writer wins", "type", typeName)
		_ = r.impls.Delete(context.Background(), typeName)
	} else {
		log.Debug(log.CatRegistry, "registered component type", "type", typeName, "category", meta.Category)
	}
}

// Resolve returns the implementation for a type. The first successful
// load is cached; a load failure is returned (wrapped in ErrLoadFailed)
// without being cached, so a later Resolve retries the loader.
func (r *Registry) Resolve(ctx context.Context, typeName string) (render.Renderer, error) {
	r.mu.RLock()
	e, ok := r.entries[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, typeName)
	}

	impl, err := r.resolver.Get(ctx, typeName, e.load, cachemanager.NoExpiration)
	if err != nil {
		log.ErrorErr(log.CatRegistry, "loader failed", err, "type", typeName)
		return nil, fmt.Errorf("%w: %q: %v", ErrLoadFailed, typeName, err)
	}
	return impl, nil
}

// ResolveSync is the cache-only lookup used by render paths that must
// not suspend. It never triggers a load; nil means not yet resolved.
func (r *Registry) ResolveSync(typeName string) render.Renderer {
	impl, ok := r.resolver.Peek(context.Background(), typeName)
	if !ok {
		return nil
	}
	return impl
}

// IsRegistered reports whether a type has a binding.
func (r *Registry) IsRegistered(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[typeName]
	return ok
}

// Meta returns the metadata recorded for a type.
func (r *Registry) Meta(typeName string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[typeName]
	return e.meta, ok
}

// Types returns all registered type tags, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ListByCategory returns the registered types in a category, sorted.
func (r *Registry) ListByCategory(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var types []string
	for t, e := range r.entries {
		if e.meta.Category == category {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types
}

// Preload resolves the given types in parallel, best-effort. Individual
// failures are logged, never propagated; they retry on first real use.
func (r *Registry) Preload(ctx context.Context, types []string) {
	var wg sync.WaitGroup
	for _, typeName := range types {
		wg.Add(1)
		go func(typeName string) {
			defer wg.Done()
			if _, err := r.Resolve(ctx, typeName); err != nil {
				log.Warn(log.CatRegistry, "preload failed", "type", typeName, "error", err.Error())
			}
		}(typeName)
	}
	wg.Wait()
}
