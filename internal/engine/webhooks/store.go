package webhooks

import "sync"

// EndpointStore is the persistence port for subscriber endpoints.
// Events and deliveries stay memory-resident; endpoints are the one
// piece of webhook state worth keeping across restarts, so they get a
// store interface with a SQL implementation alongside the in-memory
// one used by tests and single-process deployments.
type EndpointStore interface {
	Insert(e *Endpoint) error
	Delete(id string) (bool, error)
	Get(id string) (*Endpoint, error)
	List() ([]*Endpoint, error)
	// RecordOutcome bumps the success or failure counter; successes
	// also update last_triggered.
	RecordOutcome(id string, success bool, at int64) error
}

type MemoryEndpointStore struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	order     []string
}

func NewMemoryEndpointStore() *MemoryEndpointStore {
	return &MemoryEndpointStore{endpoints: make(map[string]*Endpoint)}
}

func (s *MemoryEndpointStore) Insert(e *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *e
	s.endpoints[e.ID] = &c
	s.order = append(s.order, e.ID)
	return nil
}

func (s *MemoryEndpointStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[id]; !ok {
		return false, nil
	}
	delete(s.endpoints, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *MemoryEndpointStore) Get(id string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.endpoints[id]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}

func (s *MemoryEndpointStore) List() ([]*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Endpoint, 0, len(s.order))
	for _, id := range s.order {
		c := *s.endpoints[id]
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryEndpointStore) RecordOutcome(id string, success bool, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.endpoints[id]
	if !ok {
		return nil
	}
	if success {
		e.SuccessCount++
		e.LastTriggered = &at
	} else {
		e.FailureCount++
	}
	return nil
}
