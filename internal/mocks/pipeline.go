package mocks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/site-analytics-import/internal/queue"
)

// SentJob is one message captured by MockQueue
type SentJob struct {
	Queue string
	Data  json.RawMessage
}

// MockQueue captures enqueued jobs instead of delivering them
type MockQueue struct {
	mu       sync.Mutex
	Declared map[string]bool
	Sent     []SentJob
	SendErr  error
	nextID   int
}

func NewMockQueue() *MockQueue {
	return &MockQueue{Declared: make(map[string]bool)}
}

func (m *MockQueue) Start(ctx context.Context) error { return nil }
func (m *MockQueue) Stop(ctx context.Context) error  { return nil }

func (m *MockQueue) CreateQueue(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Declared[name] = true
	return nil
}

func (m *MockQueue) Send(ctx context.Context, queueName string, payload interface{}, opts *queue.SendOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return "", m.SendErr
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	m.Sent = append(m.Sent, SentJob{Queue: queueName, Data: data})
	m.nextID++
	return fmt.Sprintf("job-%d", m.nextID), nil
}

func (m *MockQueue) Work(queueName string, cfg queue.WorkConfig, handler queue.Handler) error {
	return nil
}

// SentTo returns the captured jobs for one queue, in send order
func (m *MockQueue) SentTo(queueName string) []SentJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SentJob
	for _, j := range m.Sent {
		if j.Queue == queueName {
			out = append(out, j)
		}
	}
	return out
}

// MockFileStore keeps files in memory
type MockFileStore struct {
	mu          sync.Mutex
	Files       map[string][]byte
	OpenErr     error
	SaveErr     error
	DeleteErr   error
	DeleteCalls []string
}

func NewMockFileStore() *MockFileStore {
	return &MockFileStore{Files: make(map[string][]byte)}
}

func (m *MockFileStore) Save(ctx context.Context, key string, r io.Reader, size int64) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Files[key] = data
	return nil
}

func (m *MockFileStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Files[key]
	if !ok {
		return nil, fmt.Errorf("file %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete is idempotent like the real stores
func (m *MockFileStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls = append(m.DeleteCalls, key)
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.Files, key)
	return nil
}
