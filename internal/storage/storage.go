// Package storage uploads generated assets and hands back their public URLs.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// UploadOptions place an object under a project folder.
type UploadOptions struct {
	ProjectID   string
	Folder      string
	ContentType string
}

// Object is an uploaded blob.
type Object struct {
	Key       string `json:"key"`
	PublicURL string `json:"public_url"`
	Size      int    `json:"size"`
}

// Store uploads bytes.
type Store interface {
	Upload(ctx context.Context, data []byte, filename string, opts UploadOptions) (*Object, error)
}

// ObjectKey builds "<project>/<folder>/<filename>", skipping empty parts.
func ObjectKey(opts UploadOptions, filename string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{opts.ProjectID, opts.Folder, filename} {
		if p = strings.Trim(p, "/ "); p != "" {
			parts = append(parts, p)
		}
	}
	return path.Join(parts...)
}

// Observer counts uploads.
type Observer interface {
	RecordUpload(folder string, success bool)
}

type observedStore struct {
	Store
	obs Observer
}

// Observed reports every upload through store to obs.
func Observed(store Store, obs Observer) Store {
	if obs == nil {
		return store
	}
	return observedStore{Store: store, obs: obs}
}

func (o observedStore) Upload(ctx context.Context, data []byte, filename string, opts UploadOptions) (*Object, error) {
	obj, err := o.Store.Upload(ctx, data, filename, opts)
	o.obs.RecordUpload(opts.Folder, err == nil)
	return obj, err
}

// MemoryStore keeps objects in process. It backs dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string][]byte
	err     error
}

// NewMemoryStore creates an in-memory store serving URLs under baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://assets"
	}
	return &MemoryStore{baseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string][]byte)}
}

// FailWith makes every upload return err.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MemoryStore) Upload(_ context.Context, data []byte, filename string, opts UploadOptions) (*Object, error) {
	if filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	key := ObjectKey(opts, filename)
	m.objects[key] = bytes.Clone(data)
	return &Object{Key: key, PublicURL: m.baseURL + "/" + key, Size: len(data)}, nil
}

// Get returns a stored object.
func (m *MemoryStore) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[key]
	return b, ok
}

// Keys lists stored keys in order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
