package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/example/realtime-gateway/domain/realtime"
)

func newTestEngine(store MessageStore, config Config) *Engine {
	if store == nil {
		store = &fakeStore{}
	}
	return NewEngine(store, config)
}

func connect(e *Engine, userID, connID string) *fakeConn {
	conn := &fakeConn{}
	e.Connect(identityFor(userID), connID, conn)
	return conn
}

func TestEngine_MessageScenario(t *testing.T) {
	e := newTestEngine(nil, Config{ImplicitJoin: true})

	alice := connect(e, "alice", "c1")
	bob := connect(e, "bob", "c2")
	carol := connect(e, "carol", "c3")

	require.NoError(t, e.Join(identityFor("alice"), "r1"))
	require.NoError(t, e.Join(identityFor("bob"), "r1"))

	res, err := e.SendMessage(context.Background(), identityFor("alice"), "r1", "hi", "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)

	// B receives the message with the original content and idempotency key.
	bobMessages := bob.eventsOfType(EventMessage)
	require.Len(t, bobMessages, 1)
	msg := bobMessages[0].Payload.(domain.Message)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "r1", msg.RoomID)

	// A receives an ack for m1 and not its own message.
	acks := alice.eventsOfType(EventMessageAck)
	require.Len(t, acks, 1)
	ack := acks[0].Payload.(AckPayload)
	assert.Equal(t, "m1", ack.MessageID)
	assert.True(t, ack.Persisted)
	assert.Empty(t, alice.eventsOfType(EventMessage))

	// C is not in r1 and receives nothing at all.
	assert.Empty(t, carol.eventsOfType(EventMessage))
	assert.Empty(t, carol.eventsOfType(EventUserJoined))
}

func TestEngine_AckSentEvenWithoutPeers(t *testing.T) {
	e := newTestEngine(nil, Config{ImplicitJoin: true})
	alice := connect(e, "alice", "c1")

	res, err := e.SendMessage(context.Background(), identityFor("alice"), "r1", "hi", "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Delivered)
	assert.True(t, res.AutoJoined)
	assert.Len(t, alice.eventsOfType(EventMessageAck), 1)
}

func TestEngine_PersistenceFailureStillDeliversAndAcks(t *testing.T) {
	store := &fakeStore{err: errors.New("storage unreachable")}
	e := newTestEngine(store, Config{ImplicitJoin: true})

	alice := connect(e, "alice", "c1")
	bob := connect(e, "bob", "c2")
	require.NoError(t, e.Join(identityFor("alice"), "r1"))
	require.NoError(t, e.Join(identityFor("bob"), "r1"))

	_, err := e.SendMessage(context.Background(), identityFor("alice"), "r1", "hi", "m1")
	require.NoError(t, err)

	assert.Len(t, bob.eventsOfType(EventMessage), 1, "peer broadcast proceeds")
	acks := alice.eventsOfType(EventMessageAck)
	require.Len(t, acks, 1)
	assert.False(t, acks[0].Payload.(AckPayload).Persisted, "ack surfaces the dropped persistence attempt")
}

func TestEngine_TypingScenario(t *testing.T) {
	e := newTestEngine(nil, Config{})

	connect(e, "alice", "c1")
	bob := connect(e, "bob", "c2")
	require.NoError(t, e.Join(identityFor("alice"), "r1"))
	require.NoError(t, e.Join(identityFor("bob"), "r1"))

	// Two consecutive typing=true yield exactly one event at B.
	require.NoError(t, e.Typing(identityFor("alice"), "r1", true))
	require.NoError(t, e.Typing(identityFor("alice"), "r1", true))
	events := bob.eventsOfType(EventTyping)
	require.Len(t, events, 1)
	assert.True(t, events[0].Payload.(TypingPayload).IsTyping)

	// typing=false yields exactly one more.
	require.NoError(t, e.Typing(identityFor("alice"), "r1", false))
	events = bob.eventsOfType(EventTyping)
	require.Len(t, events, 2)
	assert.False(t, events[1].Payload.(TypingPayload).IsTyping)
}

func TestEngine_TypingRequiresMembership(t *testing.T) {
	e := newTestEngine(nil, Config{})
	connect(e, "alice", "c1")

	err := e.Typing(identityFor("alice"), "r1", true)
	assert.ErrorIs(t, err, ErrNotRoomMember)
}

func TestEngine_JoinNotifiesPeersOnce(t *testing.T) {
	e := newTestEngine(nil, Config{})

	alice := connect(e, "alice", "c1")
	bob := connect(e, "bob", "c2")
	require.NoError(t, e.Join(identityFor("alice"), "r1"))
	require.NoError(t, e.Join(identityFor("bob"), "r1"))
	require.NoError(t, e.Join(identityFor("bob"), "r1")) // idempotent re-join

	joins := alice.eventsOfType(EventUserJoined)
	require.Len(t, joins, 1, "re-join must not re-notify")
	assert.Equal(t, "bob", joins[0].Payload.(RoomEventPayload).UserID)
	assert.Empty(t, bob.eventsOfType(EventUserJoined), "no self-echo on join")
}

func TestEngine_LeaveNotifiesRemainingMembers(t *testing.T) {
	e := newTestEngine(nil, Config{})

	connect(e, "alice", "c1")
	bob := connect(e, "bob", "c2")
	require.NoError(t, e.Join(identityFor("alice"), "r1"))
	require.NoError(t, e.Join(identityFor("bob"), "r1"))

	require.NoError(t, e.Leave(identityFor("alice"), "r1"))
	lefts := bob.eventsOfType(EventUserLeft)
	require.Len(t, lefts, 1)
	assert.Equal(t, "alice", lefts[0].Payload.(RoomEventPayload).UserID)

	// Leaving a room twice notifies nobody twice.
	require.NoError(t, e.Leave(identityFor("alice"), "r1"))
	assert.Len(t, bob.eventsOfType(EventUserLeft), 1)
}

func TestEngine_DisconnectScenario(t *testing.T) {
	e := newTestEngine(nil, Config{})

	connect(e, "alice", "c1")
	bob := connect(e, "bob", "c2")
	require.NoError(t, e.Join(identityFor("alice"), "r1"))
	require.NoError(t, e.Join(identityFor("alice"), "r2"))
	require.NoError(t, e.Join(identityFor("bob"), "r1"))
	require.NoError(t, e.Join(identityFor("bob"), "r2"))

	e.Disconnect(identityFor("alice"), "c1")

	// B receives exactly one offline event per shared room.
	statuses := bob.eventsOfType(EventUserStatus)
	offline := make(map[string]int)
	for _, ev := range statuses {
		p := ev.Payload.(StatusPayload)
		if p.Status == domain.StatusOffline && p.UserID == "alice" {
			offline[p.RoomID]++
		}
	}
	assert.Equal(t, map[string]int{"r1": 1, "r2": 1}, offline)
	assert.False(t, e.registry.Connected("alice"))
	assert.Empty(t, e.rooms.RoomsOf("alice"), "stale membership is removed on disconnect")

	// Teardown is idempotent: a second invocation emits nothing new.
	before := len(bob.eventsOfType(EventUserStatus))
	e.Disconnect(identityFor("alice"), "c1")
	assert.Len(t, bob.eventsOfType(EventUserStatus), before)
}

func TestEngine_DroppedConnectionStillTearsDown(t *testing.T) {
	e := newTestEngine(nil, Config{})

	alice := connect(e, "alice", "c1")
	bob := connect(e, "bob", "c2")
	require.NoError(t, e.Join(identityFor("alice"), "r1"))
	require.NoError(t, e.Join(identityFor("bob"), "r1"))

	// A failed fan-out write drops the connection from the registry before
	// the read loop ever returns.
	alice.setFailWrites(true)
	require.NoError(t, e.Typing(identityFor("bob"), "r1", true))
	require.False(t, e.registry.Connected("alice"))

	// The driver's teardown still runs for the dropped connection.
	e.Disconnect(identityFor("alice"), "c1")
	assert.Empty(t, e.rooms.RoomsOf("alice"), "membership must not outlive the connection")
	assert.False(t, e.rooms.IsMember("alice", "r1"))

	statuses := bob.eventsOfType(EventUserStatus)
	require.Len(t, statuses, 1, "peer sees exactly one offline transition")
	p := statuses[0].Payload.(StatusPayload)
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, domain.StatusOffline, p.Status)
	assert.Equal(t, "r1", p.RoomID)

	// A late second teardown emits nothing new.
	e.Disconnect(identityFor("alice"), "c1")
	assert.Len(t, bob.eventsOfType(EventUserStatus), 1)
}

func TestEngine_SupersededConnectionKeepsUserState(t *testing.T) {
	e := newTestEngine(nil, Config{})

	first := connect(e, "alice", "c1")
	require.NoError(t, e.Join(identityFor("alice"), "r1"))

	second := connect(e, "alice", "c2")
	closed, code, _ := first.isClosed()
	require.True(t, closed)
	assert.Equal(t, CloseSuperseded, code)

	// The old connection's teardown must not touch the successor's state.
	e.Disconnect(identityFor("alice"), "c1")
	assert.True(t, e.registry.Connected("alice"))
	assert.True(t, e.rooms.IsMember("alice", "r1"))
	closed, _, _ = second.isClosed()
	assert.False(t, closed)
}

func TestEngine_GlobalPresenceFallback(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		e := newTestEngine(nil, Config{GlobalPresence: true})
		connect(e, "alice", "c1")
		bob := connect(e, "bob", "c2")

		// Alice has no rooms; her offline transition goes out globally.
		e.Disconnect(identityFor("alice"), "c1")
		statuses := bob.eventsOfType(EventUserStatus)
		require.Len(t, statuses, 1)
		p := statuses[0].Payload.(StatusPayload)
		assert.Equal(t, "alice", p.UserID)
		assert.Equal(t, domain.StatusOffline, p.Status)
		assert.Empty(t, p.RoomID)
	})

	t.Run("disabled", func(t *testing.T) {
		e := newTestEngine(nil, Config{})
		connect(e, "alice", "c1")
		bob := connect(e, "bob", "c2")

		e.Disconnect(identityFor("alice"), "c1")
		assert.Empty(t, bob.eventsOfType(EventUserStatus))
	})
}

func TestEngine_NotifyAndBroadcast(t *testing.T) {
	e := newTestEngine(nil, Config{})
	alice := connect(e, "alice", "c1")
	bob := connect(e, "bob", "c2")
	require.NoError(t, e.Join(identityFor("alice"), "r1"))

	require.NoError(t, e.Notify("alice", "account_update", map[string]string{"plan": "pro"}))
	assert.Len(t, alice.eventsOfType("account_update"), 1)
	assert.ErrorIs(t, e.Notify("ghost", "account_update", nil), ErrNotConnected)

	// Room-scoped broadcast reaches members only; global reaches everyone.
	assert.Equal(t, 1, e.BroadcastEvent("maintenance", nil, "r1"))
	assert.Empty(t, bob.eventsOfType("maintenance"))
	assert.Equal(t, 2, e.BroadcastEvent("maintenance", nil, ""))
	assert.Len(t, bob.eventsOfType("maintenance"), 1)
}

func TestEngine_Counts(t *testing.T) {
	e := newTestEngine(nil, Config{})
	connect(e, "alice", "c1")
	connect(e, "bob", "c2")
	require.NoError(t, e.Join(identityFor("alice"), "r1"))

	assert.Equal(t, 2, e.ConnectionCount())
	assert.Equal(t, 1, e.RoomCount())
}
