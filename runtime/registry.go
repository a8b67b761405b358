package runtime

import (
	"presence-lab/contract"
	"presence-lab/domain"
	"sync"
	"time"

	"github.com/samber/lo"
)

type entry struct {
	participant domain.Participant
	recipient   contract.Recipient
}

// Registry is the single source of truth for live participants.
// Every operation holds the lock for its whole duration, so an insert, a merge,
// a removal or a scan never observes another one half done.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry // map participant -> state and connected session
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register inserts p under its id and binds it to recipient.
// Last registration wins: an existing entry for the same id is replaced and its
// recipient is returned so the caller can close the previous connection.
func (r *Registry) Register(p domain.Participant, recipient contract.Recipient) contract.Recipient {
	r.mu.Lock()
	defer r.mu.Unlock()

	var previous contract.Recipient
	if current, ok := r.entries[p.ID]; ok {
		previous = current.recipient
	}
	r.entries[p.ID] = &entry{participant: p, recipient: recipient}
	return previous
}

// Apply merges u into the participant owned by sessionID and returns the snapshot
// taken right after the mutation. It returns false when the id is not live anymore
// or belongs to another session.
func (r *Registry) Apply(id, sessionID string, u domain.Update, now time.Time) (domain.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.owned(id, sessionID)
	if !ok {
		return nil, false
	}
	e.participant.Merge(u, now)
	return r.snapshot(), true
}

// Remove deletes the entry of id only if sessionID still owns it.
// Only the first caller gets true, which makes it the one in charge of notifying.
func (r *Registry) Remove(id, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.owned(id, sessionID); !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// RemoveIfStale deletes id when it has been idle for more than threshold at now.
// Staleness is checked again under the lock: an update accepted since the scan keeps the entry.
func (r *Registry) RemoveIfStale(id string, now time.Time, threshold time.Duration) (contract.Recipient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.participant.IdleFor(now) <= threshold {
		return nil, false
	}
	delete(r.entries, id)
	return e.recipient, true
}

// Stale lists the ids idle for more than threshold at now.
func (r *Registry) Stale(now time.Time, threshold time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.FilterMap(lo.Entries(r.entries), func(item lo.Entry[string, *entry], _ int) (string, bool) {
		return item.Key, item.Value.participant.IdleFor(now) > threshold
	})
}

func (r *Registry) Snapshot() domain.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) owned(id, sessionID string) (*entry, bool) {
	e, ok := r.entries[id]
	if !ok || e.recipient == nil || e.recipient.SessionID() != sessionID {
		return nil, false
	}
	return e, true
}

func (r *Registry) snapshot() domain.Snapshot {
	return lo.MapValues(r.entries, func(e *entry, _ string) domain.PublicState {
		return e.participant.Public()
	})
}
