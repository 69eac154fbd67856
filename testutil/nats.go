package testutil

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/c360/espclient/errors"
)

// MockNATSClient is an in-memory stand-in for the bridge's NATS side. It
// matches the Publish and Subscribe methods of natsclient.Client and is safe
// for concurrent use.
type MockNATSClient struct {
	mu            sync.RWMutex
	messages      map[string][][]byte
	subscriptions map[string][]func(context.Context, []byte)
	closed        bool
}

// NewMockNATSClient creates a new mock NATS client.
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		messages:      make(map[string][][]byte),
		subscriptions: make(map[string][]func(context.Context, []byte)),
	}
}

// Publish records data and calls the handlers subscribed to subject.
func (c *MockNATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.ErrClosed
	}
	c.messages[subject] = append(c.messages[subject], data)

	// Copy handlers to avoid holding lock during callbacks
	var handlers []func(context.Context, []byte)
	if h, ok := c.subscriptions[subject]; ok {
		handlers = make([]func(context.Context, []byte), len(h))
		copy(handlers, h)
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		handler(msgCtx, data)
		cancel()
	}
	return nil
}

// Subscribe registers handler for subject.
func (c *MockNATSClient) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.ErrClosed
	}
	c.subscriptions[subject] = append(c.subscriptions[subject], handler)
	return nil
}

// SubscriptionCount returns the number of handlers registered for subject
func (c *MockNATSClient) SubscriptionCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions[subject])
}

// GetMessages returns all messages for a subject as [][]byte.
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := c.messages[subject]
	if msgs == nil {
		return nil
	}
	result := make([][]byte, len(msgs))
	copy(result, msgs)
	return result
}

// GetMessageCount returns the number of messages on a subject.
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

// Subjects returns every subject with at least one message, sorted
func (c *MockNATSClient) Subjects() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.messages))
	for s, msgs := range c.messages {
		if len(msgs) > 0 {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Clear clears all messages from a subject.
func (c *MockNATSClient) Clear(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.messages, subject)
}

// Close closes the mock client.
func (c *MockNATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// IsClosed returns whether the client is closed.
func (c *MockNATSClient) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// MockSnapshotStore is an in-memory window snapshot store. It keeps the
// field map of every row key along with the TTL it was written with.
type MockSnapshotStore struct {
	mu     sync.RWMutex
	rows   map[string]map[string]string
	ttls   map[string]time.Duration
	closed bool
}

// NewMockSnapshotStore creates an empty store
func NewMockSnapshotStore() *MockSnapshotStore {
	return &MockSnapshotStore{
		rows: make(map[string]map[string]string),
		ttls: make(map[string]time.Duration),
	}
}

// PutRow replaces the fields stored under key
func (kv *MockSnapshotStore) PutRow(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.closed {
		return errors.ErrClosed
	}
	row := make(map[string]string, len(fields))
	for k, v := range fields {
		row[k] = v
	}
	kv.rows[key] = row
	kv.ttls[key] = ttl
	return nil
}

// DeleteRow removes key
func (kv *MockSnapshotStore) DeleteRow(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.closed {
		return errors.ErrClosed
	}
	delete(kv.rows, key)
	delete(kv.ttls, key)
	return nil
}

// Row returns a copy of the fields stored under key
func (kv *MockSnapshotStore) Row(key string) (map[string]string, bool) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	row, ok := kv.rows[key]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out, true
}

// TTL returns the expiry key was last written with
func (kv *MockSnapshotStore) TTL(key string) time.Duration {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return kv.ttls[key]
}

// Keys returns all stored keys, sorted
func (kv *MockSnapshotStore) Keys() []string {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	keys := make([]string, 0, len(kv.rows))
	for k := range kv.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close marks the store closed; later writes fail
func (kv *MockSnapshotStore) Close() error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.closed = true
	return nil
}

// WaitForMessage waits for a message on subject and returns the latest one.
func WaitForMessage(t *testing.T, client *MockNATSClient, subject string, timeout time.Duration) []byte {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("timeout waiting for message on subject %s", subject)
			return nil
		case <-ticker.C:
			messages := client.GetMessages(subject)
			if len(messages) > 0 {
				return messages[len(messages)-1]
			}
		}
	}
}

// WaitForMessageCount waits for a specific number of messages (with timeout).
func WaitForMessageCount(t *testing.T, client *MockNATSClient, subject string, count int, timeout time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			got := client.GetMessageCount(subject)
			t.Fatalf("timeout waiting for %d messages on subject %s (got %d)", count, subject, got)
			return
		case <-ticker.C:
			if client.GetMessageCount(subject) >= count {
				return
			}
		}
	}
}

// AssertMessageReceived checks that a message was received on a subject.
func AssertMessageReceived(t *testing.T, client *MockNATSClient, subject string) {
	t.Helper()
	if len(client.GetMessages(subject)) == 0 {
		t.Fatalf("expected message on subject %s, got none", subject)
	}
}

// AssertNoMessages checks that no messages were received on a subject.
func AssertNoMessages(t *testing.T, client *MockNATSClient, subject string) {
	t.Helper()
	if n := len(client.GetMessages(subject)); n > 0 {
		t.Fatalf("expected no messages on subject %s, got %d", subject, n)
	}
}
