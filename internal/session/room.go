package session

import "sync"

// Room is the ephemeral member set of one collaboration room, keyed by
// session ID so peers can be addressed individually for unicast routing.
type Room struct {
	Key string

	mu      sync.RWMutex
	members map[string]*Session
}

func NewRoom(key string) *Room {
	return &Room{Key: key, members: make(map[string]*Session)}
}

// Join adds s to the member set. Joining twice is a no-op.
func (r *Room) Join(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[s.ID] = s
}

// Leave removes s, reporting whether it was a member and how many members
// remain. Leaving twice is a no-op.
func (r *Room) Leave(s *Session) (removed bool, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[s.ID]; ok {
		delete(r.members, s.ID)
		removed = true
	}
	return removed, len(r.members)
}

func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Get looks up a member by session ID.
func (r *Room) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.members[id]
	return s, ok
}

// Peers snapshots the member set, minus exclude. Broadcasters iterate the
// snapshot, so a concurrent leave never invalidates an in-flight fan-out.
func (r *Room) Peers(exclude *Session) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]*Session, 0, len(r.members))
	for _, s := range r.members {
		if exclude != nil && s.ID == exclude.ID {
			continue
		}
		peers = append(peers, s)
	}
	return peers
}
