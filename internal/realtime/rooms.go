package realtime

import (
	"sort"
	"sync"
)

const personalRoomPrefix = "user:"

// PersonalRoom is the room every connection of a user joins, used for
// server-initiated unicast.
func PersonalRoom(userID string) string {
	return personalRoomPrefix + userID
}

// RoomRegistry tracks which connections have joined which rooms. Room names
// are opaque; any non-empty string is accepted.
type RoomRegistry struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]struct{}
	byConn map[string]map[string]struct{}
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms:  make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join adds the connection to room and reports whether it was newly added.
func (r *RoomRegistry) Join(connID, room string) bool {
	if connID == "" || room == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	if _, exists := members[connID]; exists {
		return false
	}
	members[connID] = struct{}{}
	joined, ok := r.byConn[connID]
	if !ok {
		joined = make(map[string]struct{})
		r.byConn[connID] = joined
	}
	joined[room] = struct{}{}
	return true
}

// Leave removes the connection from room and reports whether it was a member.
func (r *RoomRegistry) Leave(connID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(connID, room)
}

func (r *RoomRegistry) leaveLocked(connID, room string) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, exists := members[connID]; !exists {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	if joined, ok := r.byConn[connID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.byConn, connID)
		}
	}
	return true
}

// Members returns the connection ids in room, sorted.
func (r *RoomRegistry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.rooms[room])
}

// RoomsOf returns the rooms a connection has joined, sorted.
func (r *RoomRegistry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.byConn[connID])
}

// RemoveConnection drops the connection from every room and returns the
// rooms it was in.
func (r *RoomRegistry) RemoveConnection(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := sortedKeys(r.byConn[connID])
	for _, room := range rooms {
		r.leaveLocked(connID, room)
	}
	return rooms
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
