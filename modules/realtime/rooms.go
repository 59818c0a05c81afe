package realtime

import "sync"

// RoomIndex is the bidirectional room id <-> user id membership mapping.
// Rooms are created implicitly on first join and garbage collected when
// their member set becomes empty. Membership is tracked independently of
// connectivity.
type RoomIndex struct {
	mu     sync.RWMutex
	byRoom map[string]map[string]struct{} // roomID -> set of userIDs
	byUser map[string]map[string]struct{} // userID -> set of roomIDs
}

// NewRoomIndex creates an empty membership index.
func NewRoomIndex() *RoomIndex {
	return &RoomIndex{
		byRoom: make(map[string]map[string]struct{}),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Join adds the user to the room. It reports whether the membership is new;
// re-joining an already joined room is a no-op.
func (idx *RoomIndex) Join(userID, roomID string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.byRoom[roomID][userID]; ok {
		return false
	}
	if idx.byRoom[roomID] == nil {
		idx.byRoom[roomID] = make(map[string]struct{})
	}
	if idx.byUser[userID] == nil {
		idx.byUser[userID] = make(map[string]struct{})
	}
	idx.byRoom[roomID][userID] = struct{}{}
	idx.byUser[userID][roomID] = struct{}{}
	return true
}

// Leave removes the user from the room and reports whether a membership was
// actually removed. An emptied room is deleted.
func (idx *RoomIndex) Leave(userID, roomID string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.leaveLocked(userID, roomID)
}

func (idx *RoomIndex) leaveLocked(userID, roomID string) bool {
	members, ok := idx.byRoom[roomID]
	if !ok {
		return false
	}
	if _, ok := members[userID]; !ok {
		return false
	}

	delete(members, userID)
	if len(members) == 0 {
		delete(idx.byRoom, roomID)
	}

	delete(idx.byUser[userID], roomID)
	if len(idx.byUser[userID]) == 0 {
		delete(idx.byUser, userID)
	}
	return true
}

// LeaveAll removes the user from every room and returns the rooms left.
// Used at disconnect to clear stale membership.
func (idx *RoomIndex) LeaveAll(userID string) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rooms := make([]string, 0, len(idx.byUser[userID]))
	for roomID := range idx.byUser[userID] {
		rooms = append(rooms, roomID)
	}
	for _, roomID := range rooms {
		idx.leaveLocked(userID, roomID)
	}
	return rooms
}

// IsMember reports whether the user belongs to the room.
func (idx *RoomIndex) IsMember(userID, roomID string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.byRoom[roomID][userID]
	return ok
}

// MembersOf returns the current member set of the room. An unknown room
// yields an empty slice, not an error.
func (idx *RoomIndex) MembersOf(roomID string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	members := make([]string, 0, len(idx.byRoom[roomID]))
	for userID := range idx.byRoom[roomID] {
		members = append(members, userID)
	}
	return members
}

// RoomsOf returns the rooms the user belongs to.
func (idx *RoomIndex) RoomsOf(userID string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rooms := make([]string, 0, len(idx.byUser[userID]))
	for roomID := range idx.byUser[userID] {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// RoomCount returns the number of rooms with at least one member.
func (idx *RoomIndex) RoomCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byRoom)
}
