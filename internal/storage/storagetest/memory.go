// Package storagetest provides an in-memory ObjectStore for tests.
package storagetest

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/staffhub/staffhub/internal/storage"
)

// MemoryStore keeps objects in a map and hands out fake signed URLs
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]storage.ObjectInfo
	deleted []string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]storage.ObjectInfo)}
}

// Put simulates a client completing an upload
func (m *MemoryStore) Put(key, contentType string, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = storage.ObjectInfo{Key: key, Size: size, ContentType: contentType, ModifiedAt: time.Now()}
}

// Has reports whether key is stored
func (m *MemoryStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// Deleted returns the keys passed to Delete
func (m *MemoryStore) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

func (m *MemoryStore) PresignPut(_ context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://storage.test/%s?method=PUT&type=%s&ttl=%d", key, url.QueryEscape(contentType), int(ttl.Seconds())), nil
}

func (m *MemoryStore) PresignGet(_ context.Context, key, filename string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://storage.test/%s?method=GET&name=%s&ttl=%d", key, url.QueryEscape(filename), int(ttl.Seconds())), nil
}

func (m *MemoryStore) Head(_ context.Context, key string) (*storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &info, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

var _ storage.ObjectStore = (*MemoryStore)(nil)
