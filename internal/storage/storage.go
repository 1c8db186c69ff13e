// Package storage persists small pieces of UI state as JSON strings under
// string keys. Failures are logged and never reach callers: a missing or
// unreadable value simply falls back to its default.
package storage

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
)

// ErrNotFound is returned by a Backend when a key has no value.
var ErrNotFound = errors.New("storage: key not found")

// Backend is a raw string key/value store.
type Backend interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Watcher is implemented by backends that can report writes made by other processes.
type Watcher interface {
	// Watch calls onChange after an external write until stop is called.
	Watch(onChange func()) (stop func(), err error)
}

// Store is a JSON codec over a Backend.
type Store struct {
	backend Backend
	logger  *log.Logger

	mu       sync.Mutex
	rebinds  map[int]func()
	nextBind int
	stop     func()
}

// New wraps backend. A nil backend stores values in memory.
func New(backend Backend, logger *log.Logger) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Store{backend: backend, logger: logger, rebinds: make(map[int]func())}

	if w, ok := backend.(Watcher); ok {
		stop, err := w.Watch(s.rehydrateAll)
		if err != nil {
			logger.Printf("[!] storage: watch failed: %v", err)
		} else {
			s.stop = stop
		}
	}
	return s
}

// Close stops watching the backend and closes it when it is an io.Closer.
func (s *Store) Close() error {
	if s.stop != nil {
		s.stop()
	}
	if c, ok := s.backend.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Load returns the value stored at key, or fallback when it is missing or unreadable.
func Load[T any](s *Store, key string, fallback T) T {
	raw, err := s.backend.Get(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Printf("[!] storage: read %q: %v", key, err)
		}
		return fallback
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		s.logger.Printf("[!] storage: decode %q: %v", key, err)
		return fallback
	}
	return v
}

// Save stores value at key. A value that encodes to JSON null removes the key.
func Save[T any](s *Store, key string, value T) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Printf("[!] storage: encode %q: %v", key, err)
		return
	}
	if string(data) == "null" {
		s.Remove(key)
		return
	}
	if err := s.backend.Set(key, string(data)); err != nil {
		s.logger.Printf("[!] storage: write %q: %v", key, err)
	}
}

// Remove deletes key.
func (s *Store) Remove(key string) {
	if err := s.backend.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Printf("[!] storage: remove %q: %v", key, err)
	}
}

func (s *Store) register(fn func()) (unregister func()) {
	s.mu.Lock()
	id := s.nextBind
	s.nextBind++
	s.rebinds[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.rebinds, id)
		s.mu.Unlock()
	}
}

func (s *Store) rehydrateAll() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.rebinds))
	for _, fn := range s.rebinds {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// MemoryBackend keeps values in a map. It is safe for concurrent use.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

func (m *MemoryBackend) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryBackend) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
