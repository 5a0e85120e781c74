package yanzi

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry holds the catalogued data sources of a location and their latest
// samples, and derives entity views from them.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Registry struct {
	catalog *Catalog

	mu        sync.RWMutex
	sources   map[string]*Source
	updatedAt map[string]time.Time
	lifeCycle map[string]string // device key -> lifecycle state
}

// NewRegistry creates an empty registry. A nil catalog means DefaultCatalog.
func NewRegistry(catalog *Catalog) *Registry {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Registry{
		catalog:   catalog,
		sources:   make(map[string]*Source),
		updatedAt: make(map[string]time.Time),
		lifeCycle: make(map[string]string),
	}
}

// Catalog returns the device model catalog.
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

// Load replaces the catalogued sources.
//
// A source without a sample keeps the sample the registry already holds for
// the same key, so a refresh never blanks out pushed data.
func (r *Registry) Load(sources []Source) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]*Source, len(sources))
	for i := range sources {
		src := sources[i]
		if old, ok := r.sources[src.Key]; ok && !src.HasSample() {
			src.Latest = old.Latest
		}
		next[src.Key] = &src

		if src.LifeCycleState != "" {
			r.lifeCycle[src.DeviceKey] = src.LifeCycleState
		}
	}

	for key := range r.updatedAt {
		if _, ok := next[key]; !ok {
			delete(r.updatedAt, key)
		}
	}
	r.sources = next
}

// Update records a pushed sample. It returns false if key is not catalogued.
//
// An uplog sample also moves its device between present and shadow.
func (r *Registry) Update(key string, sample json.RawMessage, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[key]
	if !ok {
		return false
	}

	src.Latest = sample
	r.updatedAt[key] = at

	if src.Variable == "uplog" {
		if state, ok := LifeCycleFromUplog(sample); ok {
			r.lifeCycle[src.DeviceKey] = state
		}
	}
	return true
}

// Source returns a copy of the source stored under key.
func (r *Registry) Source(key string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[key]
	if !ok {
		return Source{}, false
	}
	return *src, true
}

// Sources returns copies of every catalogued source, ordered by key.
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Source, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, *src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of catalogued sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// DeviceCount returns the number of distinct physical devices.
func (r *Registry) DeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make(map[string]struct{})
	for _, src := range r.sources {
		devices[src.DeviceKey] = struct{}{}
	}
	return len(devices)
}

// Entity returns the entity view of key at time now.
func (r *Registry) Entity(key string, now time.Time) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[key]
	if !ok || KindOf(src.Variable) == KindIgnored {
		return Entity{}, fmt.Errorf("%w: %s", ErrUnknownSource, key)
	}
	return r.entityLocked(src, now), nil
}

// Entities returns the views of every exposed source, ordered by key.
func (r *Registry) Entities(now time.Time) []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entity, 0, len(r.sources))
	for _, src := range r.sources {
		if KindOf(src.Variable) == KindIgnored {
			continue
		}
		out = append(out, r.entityLocked(src, now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out
}

func (r *Registry) entityLocked(src *Source, now time.Time) Entity {
	state := r.lifeCycle[src.DeviceKey]
	if state == "" {
		state = src.LifeCycleState
	}
	return newEntity(*src, state, r.catalog, r.updatedAt[src.Key], now)
}
