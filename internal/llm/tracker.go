package llm

import (
	"sort"
	"sync"
)

// TokenTracker accumulates token usage per named slot, such as one slot per
// agent. It is safe for concurrent use.
type TokenTracker struct {
	mu    sync.RWMutex
	slots map[string]Usage
	total Usage
}

// NewTokenTracker creates an empty TokenTracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{
		slots: make(map[string]Usage),
	}
}

// Add records usage for slot.
func (t *TokenTracker) Add(slot string, usage Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.slots[slot] = t.slots[slot].Add(usage)
	t.total = t.total.Add(usage)
}

// Total returns the aggregate usage across all slots.
func (t *TokenTracker) Total() Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// BySlot returns the usage for slot, zero if it was never used.
func (t *TokenTracker) BySlot(slot string) Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.slots[slot]
}

// Slots returns the sorted names of all used slots.
func (t *TokenTracker) Slots() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	slots := make([]string, 0, len(t.slots))
	for slot := range t.slots {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	return slots
}

// Reset clears all tracked usage.
func (t *TokenTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.slots = make(map[string]Usage)
	t.total = Usage{}
}
