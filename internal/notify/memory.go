package notify

import (
	"context"
	"strconv"
	"sync"
)

// Message is a message captured by MemoryPublisher.
type Message struct {
	ID    string
	Body  []byte
	Attrs map[string]string
}

// MemoryPublisher acknowledges every message and keeps it in memory. It is
// meant for local development and tests.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
	err      error
	seq      int
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

// FailWith makes every later publish return err; nil restores normal operation.
func (m *MemoryPublisher) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MemoryPublisher) Publish(ctx context.Context, body []byte, attrs map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.seq++
	id := "mem-" + strconv.Itoa(m.seq)
	cp := make(map[string]string, len(attrs))
	for k, v := range attrs {
		cp[k] = v
	}
	m.messages = append(m.messages, Message{ID: id, Body: append([]byte(nil), body...), Attrs: cp})
	return id, nil
}

// Messages returns a copy of everything published so far.
func (m *MemoryPublisher) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

func (m *MemoryPublisher) Close() error { return nil }
