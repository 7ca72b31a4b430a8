package dispatchstate

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-package, map-backed Store fake used by package tests
// across internal/dispatch and internal/agentfeed so the suite needs no
// live Redis (SPEC_FULL.md §8 FULL).
type MemoryStore struct {
	mu        sync.Mutex
	states    map[int64]State
	assigned  map[int64]bool
	Broadcast []BroadcastMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:   make(map[int64]State),
		assigned: make(map[int64]bool),
	}
}

func (m *MemoryStore) GetState(_ context.Context, orderID int64) (*State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[orderID]
	if !ok {
		return nil, false, nil
	}
	stateCopy := state
	return &stateCopy, true, nil
}

func (m *MemoryStore) PutState(_ context.Context, orderID int64, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state.UpdatedAt = time.Now().UTC()
	m.states[orderID] = state
	return nil
}

func (m *MemoryStore) SetAssigned(_ context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assigned[orderID] = true
	return nil
}

func (m *MemoryStore) IsAssigned(_ context.Context, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assigned[orderID], nil
}

func (m *MemoryStore) PublishBroadcast(_ context.Context, _ CandidateAgentType, msg BroadcastMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Broadcast = append(m.Broadcast, msg)
	return nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*RedisStore)(nil)
