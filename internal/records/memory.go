package records

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ignite/scrub-gateway/internal/domain"
)

// MemoryStore keeps records in process memory. Records are deep-copied on the
// way in and out. It is meant for local development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]domain.FileRecord
	order     []string
	audiences []string
	err       error
}

func NewMemoryStore(audiences ...string) *MemoryStore {
	return &MemoryStore{records: map[string]domain.FileRecord{}, audiences: audiences}
}

// SetAudiences replaces the allowed audiences.
func (m *MemoryStore) SetAudiences(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audiences = ids
}

// FailWith makes every later call return err; nil restores normal operation.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func clone(rec domain.FileRecord) (domain.FileRecord, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return domain.FileRecord{}, err
	}
	var out domain.FileRecord
	err = json.Unmarshal(data, &out)
	return out, err
}

func (m *MemoryStore) Create(_ context.Context, rec *domain.FileRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	rec.ID = uuid.NewString()
	c, err := clone(*rec)
	if err != nil {
		return "", fmt.Errorf("copying record: %w", err)
	}
	m.records[rec.ID] = c
	m.order = append(m.order, rec.ID)
	return rec.ID, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*domain.FileRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, false, m.err
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, false, nil
	}
	c, err := clone(rec)
	if err != nil {
		return nil, false, fmt.Errorf("copying record: %w", err)
	}
	return &c, true, nil
}

func (m *MemoryStore) Update(_ context.Context, id string, rec *domain.FileRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.records[id]; !ok {
		return false, nil
	}
	rec.ID = id
	c, err := clone(*rec)
	if err != nil {
		return false, fmt.Errorf("copying record: %w", err)
	}
	m.records[id] = c
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.records[id]; !ok {
		return false, nil
	}
	delete(m.records, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// List returns records in creation order.
func (m *MemoryStore) List(_ context.Context) ([]domain.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.FileRecord, 0, len(m.order))
	for _, id := range m.order {
		c, err := clone(m.records[id])
		if err != nil {
			return nil, fmt.Errorf("copying record: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *MemoryStore) SetNotification(_ context.Context, id string, n domain.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	rec, ok := m.records[id]
	if !ok {
		return false, nil
	}
	rec.Notification = n
	m.records[id] = rec
	return true, nil
}

func (m *MemoryStore) AllowedAudiences(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	ids := cleanAudiences(m.audiences)
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}
