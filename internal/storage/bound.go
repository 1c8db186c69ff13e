package storage

import "sync"

// Bound is a value mirrored to a storage key: every Set is persisted, and the
// value is re-read whenever the key changes or another process writes it.
// An empty key makes it plain in-memory state.
type Bound[T any] struct {
	store *Store

	mu        sync.Mutex
	key       string
	initial   T
	value     T
	listeners map[int]func(T)
	nextID    int
	unwatch   func()
}

// Bind creates a Bound hydrated from key, falling back to initial.
func Bind[T any](s *Store, key string, initial T) *Bound[T] {
	b := &Bound[T]{store: s, listeners: make(map[int]func(T))}
	b.Rebind(key, initial)
	if s != nil {
		b.unwatch = s.register(b.rehydrate)
	}
	return b
}

// Get returns the current value.
func (b *Bound[T]) Get() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// Key returns the storage key, empty when unbound.
func (b *Bound[T]) Key() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.key
}

// Set updates the value and persists it unless the binding has no key.
func (b *Bound[T]) Set(v T) {
	b.mu.Lock()
	b.value = v
	key := b.key
	b.mu.Unlock()

	if key != "" && b.store != nil {
		Save(b.store, key, v)
	}
	b.notify(v)
}

// Rebind switches to key and re-hydrates from it. A missing key takes initial,
// which also becomes the fallback for later re-hydration.
func (b *Bound[T]) Rebind(key string, initial T) {
	b.mu.Lock()
	b.key = key
	b.initial = initial
	b.mu.Unlock()
	b.rehydrate()
}

func (b *Bound[T]) rehydrate() {
	b.mu.Lock()
	key, v := b.key, b.initial
	b.mu.Unlock()

	if key != "" && b.store != nil {
		v = Load(b.store, key, v)
	}

	b.mu.Lock()
	if b.key != key {
		// Rebound while loading; the newer Rebind wins.
		b.mu.Unlock()
		return
	}
	b.value = v
	b.mu.Unlock()
	b.notify(v)
}

// Subscribe calls fn after every change and returns a function that removes it.
func (b *Bound[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Release detaches the binding from external-change notifications.
func (b *Bound[T]) Release() {
	if b.unwatch != nil {
		b.unwatch()
	}
}

func (b *Bound[T]) notify(v T) {
	b.mu.Lock()
	fns := make([]func(T), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
