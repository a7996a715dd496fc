package events

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

// MockEventBus provides an in-memory implementation of EventBus for testing.
// Handlers run synchronously on the publishing goroutine.
type MockEventBus struct {
	subscriptions   map[string][]interface{}
	publishedEvents map[string][]interface{}
	mutex           sync.RWMutex
	errors          []error
	publishError    error
}

// NewMockEventBus creates a new MockEventBus instance
func NewMockEventBus() *MockEventBus {
	return &MockEventBus{
		subscriptions:   make(map[string][]interface{}),
		publishedEvents: make(map[string][]interface{}),
	}
}

// Subscribe implements the EventBus interface
func (m *MockEventBus) Subscribe(topic string, handler interface{}) error {
	if reflect.TypeOf(handler) == nil || reflect.TypeOf(handler).Kind() != reflect.Func {
		return fmt.Errorf("%s is not of type reflect.Func", reflect.TypeOf(handler))
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.subscriptions[topic] = append(m.subscriptions[topic], handler)
	return nil
}

// Unsubscribe implements the EventBus interface
func (m *MockEventBus) Unsubscribe(topic string, handler interface{}) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	target := reflect.ValueOf(handler).Pointer()
	handlers := m.subscriptions[topic]
	for i, h := range handlers {
		if reflect.ValueOf(h).Pointer() == target {
			m.subscriptions[topic] = append(handlers[:i:i], handlers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("topic %s doesn't exist", topic)
}

// Publish implements the EventBus interface
func (m *MockEventBus) Publish(topic string, event interface{}) error {
	m.mutex.Lock()
	if m.publishError != nil {
		err := m.publishError
		m.mutex.Unlock()
		return err
	}
	m.publishedEvents[topic] = append(m.publishedEvents[topic], event)
	handlers := make([]interface{}, len(m.subscriptions[topic]))
	copy(handlers, m.subscriptions[topic])
	m.mutex.Unlock()

	for _, handler := range handlers {
		m.invokeHandler(handler, event)
	}
	return nil
}

// Close implements the EventBus interface
func (m *MockEventBus) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.subscriptions = make(map[string][]interface{})
	return nil
}

// SetPublishError makes every later Publish fail with err.
func (m *MockEventBus) SetPublishError(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.publishError = err
}

// GetPublishedEvents returns published events for a topic
func (m *MockEventBus) GetPublishedEvents(topic string) []interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	events := make([]interface{}, len(m.publishedEvents[topic]))
	copy(events, m.publishedEvents[topic])
	return events
}

// GetSubscriberCount returns the number of handlers on topic
func (m *MockEventBus) GetSubscriberCount(topic string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.subscriptions[topic])
}

// GetErrors returns handler panics and type mismatches seen so far
func (m *MockEventBus) GetErrors() []error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	errs := make([]error, len(m.errors))
	copy(errs, m.errors)
	return errs
}

// ClearEvents forgets all published events
func (m *MockEventBus) ClearEvents() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.publishedEvents = make(map[string][]interface{})
}

func (m *MockEventBus) addError(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.errors = append(m.errors, err)
}

// invokeHandler calls handler with event when the types line up
func (m *MockEventBus) invokeHandler(handler interface{}, event interface{}) {
	defer func() {
		if r := recover(); r != nil {
			m.addError(fmt.Errorf("handler panic: %v", r))
		}
	}()

	fn := reflect.ValueOf(handler)
	if fn.Type().NumIn() != 1 || event == nil || !reflect.TypeOf(event).AssignableTo(fn.Type().In(0)) {
		m.addError(fmt.Errorf("type mismatch: handler %s does not accept %T", fn.Type(), event))
		return
	}
	fn.Call([]reflect.Value{reflect.ValueOf(event)})
}

// AssertEventCount checks how many events were published on topic
func AssertEventCount(t *testing.T, mockBus *MockEventBus, topic string, expectedCount int) {
	t.Helper()
	if got := len(mockBus.GetPublishedEvents(topic)); got != expectedCount {
		t.Errorf("expected %d events on topic %s, got %d", expectedCount, topic, got)
	}
}
