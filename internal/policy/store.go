package policy

import (
	"sync/atomic"
	"time"
)

type snapshot struct {
	blocked   map[string]struct{}
	updatedAt time.Time
}

// Store holds the active blocklist as an immutable snapshot swapped
// atomically on update. Readers on the hot ingest path never take a
// lock; a replace builds a fresh map and publishes it in one store.
type Store struct {
	current atomic.Pointer[snapshot]
}

func NewStore() *Store {
	s := &Store{}
	s.current.Store(&snapshot{blocked: map[string]struct{}{}})
	return s
}

// Replace swaps the full blocklist with the given app ids.
func (s *Store) Replace(appIDs []string) {
	blocked := make(map[string]struct{}, len(appIDs))
	for _, id := range appIDs {
		if id == "" {
			continue
		}
		blocked[id] = struct{}{}
	}
	s.current.Store(&snapshot{blocked: blocked, updatedAt: time.Now().UTC()})
}

// BlockedAppIDs returns the live snapshot. Callers must not mutate it.
func (s *Store) BlockedAppIDs() map[string]struct{} {
	return s.current.Load().blocked
}

// IsBlocked reports whether the canonical app id is on the blocklist.
func (s *Store) IsBlocked(appID string) bool {
	_, ok := s.current.Load().blocked[appID]
	return ok
}

// UpdatedAt returns when the current snapshot was installed; zero until
// the first Replace.
func (s *Store) UpdatedAt() time.Time {
	return s.current.Load().updatedAt
}
