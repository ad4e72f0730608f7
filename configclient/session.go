package configclient

import (
	"go.uber.org/atomic"

	"github.com/ruteri/config-service/interfaces"
)

// Session holds the state of one client: the last seen state token and the
// current configuration snapshot. Independent clients in one process each own
// a Session.
type Session struct {
	state    atomic.String
	snapshot atomic.Pointer[Snapshot]
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{}
}

// State returns the last seen state token.
func (s *Session) State() string {
	return s.state.Load()
}

// SetState records a state token.
func (s *Session) SetState(state string) {
	s.state.Store(state)
}

// CompareAndSwapState replaces the state token only if it still equals old.
func (s *Session) CompareAndSwapState(old, state string) bool {
	return s.state.CompareAndSwap(old, state)
}

// Snapshot returns the current snapshot, never nil.
func (s *Session) Snapshot() *Snapshot {
	if snap := s.snapshot.Load(); snap != nil {
		return snap
	}
	return &Snapshot{}
}

func (s *Session) setSnapshot(snap *Snapshot) {
	s.snapshot.Store(snap)
}

// EndpointStore publishes the config server endpoints. The whole list is
// replaced at once so readers never see a partial update.
type EndpointStore struct {
	endpoints atomic.Pointer[[]interfaces.Endpoint]
}

// NewEndpointStore creates a store holding endpoints.
func NewEndpointStore(endpoints []interfaces.Endpoint) *EndpointStore {
	s := &EndpointStore{}
	s.Set(endpoints)
	return s
}

// Endpoints returns the current list. Callers must not modify it.
func (s *EndpointStore) Endpoints() []interfaces.Endpoint {
	if eps := s.endpoints.Load(); eps != nil {
		return *eps
	}
	return nil
}

// Set replaces the list with a copy of endpoints.
func (s *EndpointStore) Set(endpoints []interfaces.Endpoint) {
	eps := append([]interfaces.Endpoint(nil), endpoints...)
	s.endpoints.Store(&eps)
}
