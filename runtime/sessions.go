package runtime

import (
	"presence-lab/contract"
	"sync"

	"github.com/samber/lo"
)

// Sessions holds every open connection, registered or not.
// A connection joins the set as soon as it is accepted and leaves it when its handler returns,
// so fan-out also reaches clients that have not completed their handshake yet.
type Sessions struct {
	mu    sync.RWMutex
	items map[string]contract.Recipient // map session id -> connected session
}

func NewSessions() *Sessions {
	return &Sessions{items: make(map[string]contract.Recipient)}
}

func (s *Sessions) Attach(recipient contract.Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[recipient.SessionID()] = recipient
}

// Detach is a no-op for an unknown session.
func (s *Sessions) Detach(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, sessionID)
}

// Recipients returns a copy: delivering to it never holds the lock.
func (s *Sessions) Recipients() []contract.Recipient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Values(s.items)
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
