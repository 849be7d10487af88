package registry

import (
	"sync"
	"time"
)

// Entry is a stored value together with its bookkeeping timestamps
type Entry[T any] struct {
	Value     T
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Registry is a concurrency-safe store of entities keyed by id.
// The lock only protects the map itself; callers never hold it while doing work on an entity.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries map[string]*Entry[T]
	now     func() time.Time
}

// New creates an empty registry
func New[T any]() *Registry[T] {
	return &Registry[T]{
		entries: make(map[string]*Entry[T]),
		now:     time.Now,
	}
}

// Put stores value under id, replacing any previous value but keeping its creation time
func (r *Registry[T]) Put(id string, value T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.entries[id]; ok {
		existing.Value = value
		existing.UpdatedAt = now
		return
	}
	r.entries[id] = &Entry[T]{Value: value, CreatedAt: now, UpdatedAt: now}
}

// Get returns the value stored under id
func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		var zero T
		return zero, false
	}
	return entry.Value, true
}

// Entry returns a copy of the entry stored under id, timestamps included
func (r *Registry[T]) Entry(id string) (Entry[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return Entry[T]{}, false
	}
	return *entry, true
}

// Update applies fn to the value stored under id while holding the write lock.
// fn must not call back into the registry.
func (r *Registry[T]) Update(id string, fn func(T) T) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		var zero T
		return zero, false
	}
	entry.Value = fn(entry.Value)
	entry.UpdatedAt = r.now()
	return entry.Value, true
}

// Remove deletes id and reports whether it was present
func (r *Registry[T]) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// List returns every stored value in no particular order
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	values := make([]T, 0, len(r.entries))
	for _, entry := range r.entries {
		values = append(values, entry.Value)
	}
	return values
}

// Len returns the number of stored values
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
