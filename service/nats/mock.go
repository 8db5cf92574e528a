package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu           sync.RWMutex
	events       []*MarketEvent
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{events: make([]*MarketEvent, 0)}
}

// Publish records the event and returns any configured error.
func (m *MockPublisher) Publish(ctx context.Context, event *MarketEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.events = append(m.events, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns a copy of all published events.
func (m *MockPublisher) GetPublishedEvents() []*MarketEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]*MarketEvent, len(m.events))
	copy(events, m.events)
	return events
}

// GetPublishedEventsOfType filters published events by type.
func (m *MockPublisher) GetPublishedEventsOfType(eventType string) []*MarketEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]*MarketEvent, 0)
	for _, e := range m.events {
		if e.Type == eventType {
			events = append(events, e)
		}
	}
	return events
}

// SetPublishError configures the mock to fail every Publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
