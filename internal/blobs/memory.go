package blobs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

type memObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps blobs in process memory. It is meant for local
// development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memObject
	err     error
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: map[string]memObject{}}
}

// FailWith makes every later call return err; nil restores normal operation.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MemoryStore) failure() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

func (m *MemoryStore) Bucket() string { return m.bucket }

func (m *MemoryStore) Put(_ context.Context, key string, body io.Reader, contentType string) error {
	if err := m.failure(); err != nil {
		return err
	}
	body, contentType, err := Sniff(body, contentType)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading blob body: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: data, contentType: contentType}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Object, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, false, m.err
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, false, nil
	}
	return &Object{
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
		ContentType: obj.contentType,
		Size:        int64(len(obj.data)),
	}, true, nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStore) Ping(context.Context) error { return m.failure() }

// Bytes returns a stored blob's content, for inspection.
func (m *MemoryStore) Bytes(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj.data, ok
}
