package session

import (
	"errors"
	"sync"

	"present-this/internal/backend"
	"present-this/internal/room"
)

// Data is everything a session needs, snapshotted once at start: the join
// credential, the presentation id and the immutable slide list.
type Data struct {
	PresentationID string
	Credential     backend.Credential
	Slides         []backend.SlideDescriptor
}

// Active is one connected session: the snapshot, the room handle and the
// running reconciler.
type Active struct {
	Data       Data
	Room       room.Room
	Reconciler *Reconciler
}

// Store holds at most one active session. It exists if and only if the client
// is in the session view; clearing it returns the client to the upload view
// with a clean slate.
type Store struct {
	mu     sync.Mutex
	active *Active
}

func NewStore() *Store {
	return &Store{}
}

// Start installs the session. It fails if one is already active so overlapping
// upload sequences can never race into two connections.
func (s *Store) Start(active *Active) error {
	if active == nil {
		return errors.New("session is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return errors.New("session already active")
	}
	s.active = active
	return nil
}

func (s *Store) Active() (*Active, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != nil
}

// Clear discards the session entirely. There is no partial teardown; the next
// session starts from nothing.
func (s *Store) Clear() *Active {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := s.active
	s.active = nil
	return active
}
