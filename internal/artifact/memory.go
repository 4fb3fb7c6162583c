package artifact

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Object is a stored payload with its content type
type Object struct {
	Data        []byte
	ContentType string
}

// MemoryStore keeps objects in process memory. Used by tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]Object
	baseURL string
	failOn  func(key string) error
}

// NewMemoryStore creates an in-memory store serving from baseURL
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object), baseURL: baseURL}
}

// FailWhen installs a hook that can reject individual keys
func (m *MemoryStore) FailWhen(fn func(key string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn = fn
}

// Put stores a copy of the payload
func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("artifact: empty key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != nil {
		if err := m.failOn(key); err != nil {
			return "", err
		}
	}
	m.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return PublicURL(m.baseURL, key), nil
}

// Get returns a stored object for assertions
func (m *MemoryStore) Get(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Keys lists stored keys in lexical order
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ Store = (*MemoryStore)(nil)
