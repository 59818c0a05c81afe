package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/example/realtime-gateway/domain/realtime"
)

// fakeStore is an in-test stand-in for the storage collaborator.
type fakeStore struct {
	mu    sync.Mutex
	saved []domain.Message
	err   error
}

func (s *fakeStore) SaveMessage(_ context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, msg)
	return s.err
}

func (s *fakeStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func newTestRelay(store MessageStore, config Config) (*Relay, *RoomIndex, *Registry) {
	rooms := NewRoomIndex()
	registry := NewRegistry()
	return NewRelay(rooms, registry, store, config), rooms, registry
}

func TestRelay_ValidationFailuresHaveNoSideEffects(t *testing.T) {
	store := &fakeStore{}
	relay, rooms, _ := newTestRelay(store, Config{ImplicitJoin: true})

	tests := []struct {
		name    string
		roomID  string
		content string
		wantErr error
	}{
		{name: "empty room id", roomID: "", content: "hi", wantErr: ErrRoomIDEmpty},
		{name: "empty content", roomID: "r1", content: "", wantErr: ErrContentEmpty},
		{name: "oversized content", roomID: "r1", content: strings.Repeat("x", MaxContentLength+1), wantErr: ErrContentTooLong},
		{name: "oversized room id", roomID: strings.Repeat("r", MaxRoomIDLength+1), content: "hi", wantErr: ErrRoomIDTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := relay.Relay(context.Background(), identityFor("alice"), tt.roomID, tt.content, "")
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
		})
	}

	assert.Equal(t, 0, store.savedCount(), "validation failures must not reach storage")
	assert.False(t, rooms.IsMember("alice", "r1"), "validation failures must not join rooms")
}

func TestRelay_NonMemberRejectedWithoutImplicitJoin(t *testing.T) {
	store := &fakeStore{}
	relay, rooms, _ := newTestRelay(store, Config{ImplicitJoin: false})

	_, err := relay.Relay(context.Background(), identityFor("alice"), "r1", "hi", "")
	require.ErrorIs(t, err, ErrNotRoomMember)
	assert.Equal(t, 0, store.savedCount())
	assert.False(t, rooms.IsMember("alice", "r1"))
}

func TestRelay_ImplicitJoinOnFirstMessage(t *testing.T) {
	store := &fakeStore{}
	relay, rooms, _ := newTestRelay(store, Config{ImplicitJoin: true})

	res, err := relay.Relay(context.Background(), identityFor("alice"), "r1", "hi", "")
	require.NoError(t, err)
	assert.True(t, res.AutoJoined)
	assert.True(t, rooms.IsMember("alice", "r1"))

	// A member's next message does not auto-join again.
	res, err = relay.Relay(context.Background(), identityFor("alice"), "r1", "again", "")
	require.NoError(t, err)
	assert.False(t, res.AutoJoined)
}

func TestRelay_MessageIDMintedWhenAbsent(t *testing.T) {
	store := &fakeStore{}
	relay, rooms, _ := newTestRelay(store, Config{ImplicitJoin: true})
	rooms.Join("alice", "r1")

	res, err := relay.Relay(context.Background(), identityFor("alice"), "r1", "hi", "")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Message.ID)

	res, err = relay.Relay(context.Background(), identityFor("alice"), "r1", "hi", "client-id-1")
	require.NoError(t, err)
	assert.Equal(t, "client-id-1", res.Message.ID, "client-supplied idempotency key must be preserved")
	assert.False(t, res.Message.Timestamp.IsZero(), "arrival timestamp is server-assigned")
}

func TestRelay_FanOutExcludesSender(t *testing.T) {
	store := &fakeStore{}
	relay, rooms, registry := newTestRelay(store, Config{})

	alice := &fakeConn{}
	bob := &fakeConn{}
	registry.Register(identityFor("alice"), "c1", alice)
	registry.Register(identityFor("bob"), "c2", bob)
	rooms.Join("alice", "r1")
	rooms.Join("bob", "r1")

	res, err := relay.Relay(context.Background(), identityFor("alice"), "r1", "hi", "m1")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Delivered)
	assert.Len(t, bob.eventsOfType(EventMessage), 1, "peer receives the message")
	assert.Empty(t, alice.eventsOfType(EventMessage), "sender must not receive its own message")
	assert.Equal(t, 1, store.savedCount())
	assert.True(t, res.Persisted)
}

func TestRelay_FanOutProceedsWhenPersistenceFails(t *testing.T) {
	store := &fakeStore{err: errors.New("storage down")}
	relay, rooms, registry := newTestRelay(store, Config{})

	bob := &fakeConn{}
	registry.Register(identityFor("bob"), "c2", bob)
	rooms.Join("alice", "r1")
	rooms.Join("bob", "r1")

	res, err := relay.Relay(context.Background(), identityFor("alice"), "r1", "hi", "m1")
	require.NoError(t, err, "persistence failure is not a relay error")

	assert.False(t, res.Persisted)
	assert.Error(t, res.PersistErr)
	assert.Equal(t, 1, res.Delivered, "fan-out proceeds despite the persistence failure")
	assert.Len(t, bob.eventsOfType(EventMessage), 1)
}
