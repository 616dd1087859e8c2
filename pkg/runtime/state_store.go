package runtime

import (
	"sort"
	"sync"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
)

// StateListener receives accepted state changes.
type StateListener func(state models.NodeState)

// StateStore is the read-only per-node execution projection. Only the execution manager
// writes to it. A state is accepted only when its version is newer than the stored one, so
// out-of-order deliveries never regress a node. Listeners are called one state at a time and
// never see a node's older version after a newer one.
type StateStore struct {
	mu         sync.RWMutex
	states     map[string]models.NodeState
	tombstones map[string]uint64
	listeners  map[int]StateListener
	nextID     int

	delivery  sync.Mutex
	delivered map[string]uint64
}

func NewStateStore() *StateStore {
	return &StateStore{
		states:     make(map[string]models.NodeState),
		tombstones: make(map[string]uint64),
		listeners:  make(map[int]StateListener),
		delivered:  make(map[string]uint64),
	}
}

// Get returns a copy of a node's state.
func (s *StateStore) Get(nodeID string) (models.NodeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[nodeID]

	return state, ok
}

// All returns every state ordered by node id.
func (s *StateStore) All() []models.NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]models.NodeState, 0, len(s.states))
	for _, state := range s.states {
		states = append(states, state)
	}

	sort.Slice(states, func(i, j int) bool { return states[i].NodeID < states[j].NodeID })

	return states
}

// Subscribe registers a listener and returns its cancel function.
func (s *StateStore) Subscribe(listener StateListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = listener

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.listeners, id)
	}
}

func (s *StateStore) set(state models.NodeState) bool {
	s.mu.Lock()

	if current, ok := s.states[state.NodeID]; ok && current.Version >= state.Version {
		s.mu.Unlock()

		return false
	}

	if state.Version <= s.tombstones[state.NodeID] {
		s.mu.Unlock()

		return false
	}

	s.states[state.NodeID] = state

	listeners := make([]StateListener, 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}

	s.mu.Unlock()

	s.deliver(state, listeners)

	return true
}

// deliver calls listeners one state at a time. A state that lost a race against a newer
// version of the same node is not delivered.
func (s *StateStore) deliver(state models.NodeState, listeners []StateListener) {
	s.delivery.Lock()
	defer s.delivery.Unlock()

	if state.Version <= s.delivered[state.NodeID] {
		return
	}

	s.delivered[state.NodeID] = state.Version

	for _, listener := range listeners {
		listener(state)
	}
}

func (s *StateStore) remove(nodeID string, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, nodeID)

	if version > s.tombstones[nodeID] {
		s.tombstones[nodeID] = version
	}
}
