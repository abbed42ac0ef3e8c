package files

import (
	"bytes"
	"context"
	"io"
	"sync"
)

var (
	_ MetadataStore = (*InMemory)(nil)
	_ BlobStore     = (*InMemoryBlobs)(nil)
)

// InMemory is a process-local MetadataStore.
type InMemory struct {
	mu     sync.RWMutex
	byName map[string]*File
}

func NewInMemory() *InMemory {
	return &InMemory{byName: make(map[string]*File)}
}

func (s *InMemory) Create(ctx context.Context, f *File) error {
	if f == nil || f.FileName == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[f.FileName]; ok {
		return ErrConflict
	}
	c := *f
	s.byName[f.FileName] = &c
	return nil
}

func (s *InMemory) FindByName(ctx context.Context, fileName string) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byName[fileName]
	if !ok {
		return nil, ErrNotFound
	}
	c := *f
	return &c, nil
}

func (s *InMemory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, f := range s.byName {
		if f.ID == id {
			delete(s.byName, name)
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemory) Ping(ctx context.Context) error { return nil }

// InMemoryBlobs is a process-local BlobStore.
type InMemoryBlobs struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewInMemoryBlobs() *InMemoryBlobs {
	return &InMemoryBlobs{blobs: make(map[string][]byte)}
}

func (s *InMemoryBlobs) Put(ctx context.Context, key, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (s *InMemoryBlobs) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *InMemoryBlobs) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}
