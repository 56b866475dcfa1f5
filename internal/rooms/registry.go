// Package rooms owns room membership on the relay side.
//
// The registry is the single source of truth for who receives room-scoped
// broadcasts. Rooms are created implicitly on first join and removed once
// their membership set empties.
package rooms

import "sync"

// JoinResult reports whether a join created the room or entered an
// existing one.
type JoinResult int

const (
	Created JoinResult = iota
	Joined
)

func (r JoinResult) String() string {
	if r == Created {
		return "created"
	}
	return "joined"
}

// room is one registry entry. Each entry carries its own mutex so that
// join/leave throughput stays independent across rooms; the registry
// mutex only guards the room map itself.
type room struct {
	mu      sync.Mutex
	members map[string]struct{}
	// gone is set once the entry has been removed from the registry map.
	// A Join that raced the removal must retry with a fresh entry.
	gone bool
}

// Registry maps room ids to membership sets.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

func (r *Registry) getOrCreate(roomID string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[string]struct{})}
		r.rooms[roomID] = rm
	}
	return rm
}

// Join adds participantID to the room, creating it when it has no current
// members. Unknown rooms behave as empty rooms, so the first joiner always
// observes Created.
func (r *Registry) Join(roomID, participantID string) JoinResult {
	for {
		rm := r.getOrCreate(roomID)
		rm.mu.Lock()
		if rm.gone {
			rm.mu.Unlock()
			continue
		}
		res := Joined
		if len(rm.members) == 0 {
			res = Created
		}
		rm.members[participantID] = struct{}{}
		rm.mu.Unlock()
		return res
	}
}

// Leave removes participantID from the room. No-op if either is absent.
// The room entry is discarded once its membership set becomes empty.
func (r *Registry) Leave(roomID, participantID string) {
	r.mu.Lock()
	rm := r.rooms[roomID]
	r.mu.Unlock()
	if rm == nil {
		return
	}

	rm.mu.Lock()
	delete(rm.members, participantID)
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if empty {
		r.removeIfEmpty(roomID, rm)
	}
}

func (r *Registry) removeIfEmpty(roomID string, rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[roomID] != rm {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if len(rm.members) == 0 {
		rm.gone = true
		delete(r.rooms, roomID)
	}
}

// MembersExcept returns the room's current members excluding participantID.
func (r *Registry) MembersExcept(roomID, participantID string) []string {
	r.mu.Lock()
	rm := r.rooms[roomID]
	r.mu.Unlock()
	if rm == nil {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]string, 0, len(rm.members))
	for id := range rm.members {
		if id != participantID {
			out = append(out, id)
		}
	}
	return out
}

// Len reports the room's current membership size. Unknown rooms are empty.
func (r *Registry) Len(roomID string) int {
	r.mu.Lock()
	rm := r.rooms[roomID]
	r.mu.Unlock()
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.members)
}

// RoomsOf returns every room participantID currently belongs to. Used by
// the disconnect safety net, so it must see rooms the participant never
// explicitly left.
func (r *Registry) RoomsOf(participantID string) []string {
	type entry struct {
		id string
		rm *room
	}
	r.mu.Lock()
	snapshot := make([]entry, 0, len(r.rooms))
	for id, rm := range r.rooms {
		snapshot = append(snapshot, entry{id, rm})
	}
	r.mu.Unlock()

	var out []string
	for _, e := range snapshot {
		e.rm.mu.Lock()
		_, member := e.rm.members[participantID]
		e.rm.mu.Unlock()
		if member {
			out = append(out, e.id)
		}
	}
	return out
}

// RoomCount reports how many rooms currently exist.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
