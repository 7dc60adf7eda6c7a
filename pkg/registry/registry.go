// Package registry tracks live sessions: which participant owns each
// connection and which room, if any, the connection is currently joined to.
package registry

import (
	"fmt"
	"sync"

	"github.com/codeedexprojects/rigsdock-chat/pkg/chat"
)

// Session is a snapshot of one live connection. ID is the connection id,
// Participant the identity bound at connect time, Room the current room key
// ("" when not joined).
type Session struct {
	ID          string
	Participant chat.Participant
	Room        chat.RoomKey
}

// Registry is a thread-safe forward/reverse index over live sessions.
// Forward: room → set of session ids (for broadcast fan-out).
// Reverse: participant → set of session ids (so an echo can reach a sender's
// other sessions without touching the issuing one).
type Registry struct {
	mu           sync.RWMutex
	sessions     map[string]*Session              // sessionID → session
	rooms        map[chat.RoomKey]map[string]bool // room → session ids
	participants map[string]map[string]bool       // participantID → session ids
}

func New() *Registry {
	return &Registry{
		sessions:     make(map[string]*Session),
		rooms:        make(map[chat.RoomKey]map[string]bool),
		participants: make(map[string]map[string]bool),
	}
}

// Bind records the identity for a connection. It must happen before Join.
// Re-binding the same session to a different participant is rejected:
// identity is immutable for the lifetime of a session.
func (r *Registry) Bind(sessionID string, p chat.Participant) error {
	if sessionID == "" {
		return fmt.Errorf("%w: empty session id", chat.ErrValidation)
	}
	if p.ID == "" || !p.Role.Valid() {
		return fmt.Errorf("%w: incomplete participant identity", chat.ErrAuth)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[sessionID]; ok {
		if existing.Participant != p {
			return fmt.Errorf("%w: session %s already bound to %s", chat.ErrAuth, sessionID, existing.Participant.ID)
		}
		return nil
	}

	r.sessions[sessionID] = &Session{ID: sessionID, Participant: p}
	if r.participants[p.ID] == nil {
		r.participants[p.ID] = make(map[string]bool)
	}
	r.participants[p.ID][sessionID] = true
	return nil
}

// Join binds a session to a room. A session already joined elsewhere is first
// removed from its old room; joining the current room again is a no-op.
// Fails with chat.ErrAuth when the session has no bound identity.
func (r *Registry) Join(sessionID string, room chat.RoomKey) error {
	if room == "" {
		return fmt.Errorf("%w: empty room key", chat.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: session %s has no bound identity", chat.ErrAuth, sessionID)
	}
	if s.Room == room {
		return nil
	}
	if s.Room != "" {
		r.dropFromRoom(s.Room, sessionID)
	}

	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]bool)
	}
	r.rooms[room][sessionID] = true
	s.Room = room
	return nil
}

// Leave unbinds a session from its room. Safe to call at any time, including
// when the session is unknown or not joined.
func (r *Registry) Leave(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.Room == "" {
		return
	}
	r.dropFromRoom(s.Room, sessionID)
	s.Room = ""
}

// Unbind removes a session entirely, implicitly leaving its room. Called on
// disconnect; safe when the session is already gone.
func (r *Registry) Unbind(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	if s.Room != "" {
		r.dropFromRoom(s.Room, sessionID)
	}
	if sessions, ok := r.participants[s.Participant.ID]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(r.participants, s.Participant.ID)
		}
	}
	delete(r.sessions, sessionID)
}

// dropFromRoom removes a session id from a room's forward index. Caller holds
// the write lock.
func (r *Registry) dropFromRoom(room chat.RoomKey, sessionID string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// MembersOf returns a snapshot of the sessions currently joined to room. The
// snapshot is taken under the read lock, so fan-out never observes a set torn
// mid-mutation; a session that leaves immediately after the snapshot simply
// misses the delivery and recovers through history fetch.
func (r *Registry) MembersOf(room chat.RoomKey) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	if len(members) == 0 {
		return nil
	}
	result := make([]Session, 0, len(members))
	for sid := range members {
		if s, ok := r.sessions[sid]; ok {
			result = append(result, *s)
		}
	}
	return result
}

// SessionsOf returns all live sessions for one participant.
func (r *Registry) SessionsOf(participantID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.participants[participantID]
	if len(ids) == 0 {
		return nil
	}
	result := make([]Session, 0, len(ids))
	for sid := range ids {
		if s, ok := r.sessions[sid]; ok {
			result = append(result, *s)
		}
	}
	return result
}

// Lookup returns the session snapshot for an id, if it exists.
func (r *Registry) Lookup(sessionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// RoomCount reports the number of rooms with at least one joined session.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// SessionCount reports the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SwapFrom atomically replaces this registry's state with another instance's.
// Used after re-hydrating from the KV mirror on NATS reconnect: the
// replacement is built into a temporary registry first so readers never see a
// half-built index.
func (r *Registry) SwapFrom(other *Registry) {
	other.mu.RLock()
	sessions := other.sessions
	rooms := other.rooms
	participants := other.participants
	other.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = sessions
	r.rooms = rooms
	r.participants = participants
}
