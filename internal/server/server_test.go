package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chatcore/internal/backplane"
	"chatcore/internal/database"
	"chatcore/internal/ratelimit"
	"chatcore/internal/stats"
	"chatcore/internal/testutil"
	"chatcore/internal/types"
)

func newTestChatServer(t *testing.T, db database.ChatRepository, limiter ratelimit.Limiter) *ChatServer {
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(nil)
	}

	cs, err := NewChatServer(testutil.TestLogger(t), db, limiter, backplane.Noop{}, stats.NoopProvider{})
	if err != nil {
		t.Fatalf("failed to create test ChatServer: %v", err)
	}
	return cs
}

func newTestClient(t *testing.T, cs *ChatServer, id, namespace string, perms types.PermissionSet) *Client {
	c := NewClient(types.Identity{Id: id, Role: types.RoleUser, Permissions: perms}, namespace, nil, cs, testutil.TestLogger(t))
	cs.registry.Register(c)
	return c
}

func recvEvent(t *testing.T, c *Client) *ServerEvent {
	t.Helper()
	select {
	case ev := <-c.send:
		return ev
	case <-time.After(time.Second):
		t.Fatal("expected an event on the client's send channel, but none arrived")
		return nil
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.send:
		t.Fatalf("expected no event, got %+v", ev)
	default:
	}
}

func TestNewChatServer(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)

	cs, err := NewChatServer(testutil.TestLogger(t), db, ratelimit.NewMemoryLimiter(nil), backplane.Noop{}, stats.NoopProvider{})
	assert.NoError(t, err, "expected no error creating ChatServer")
	assert.NotNil(t, cs, "expected ChatServer to be non-nil")
	assert.NotNil(t, cs.Registry(), "expected registry to be initialized")
	assert.NotNil(t, cs.Notifications(), "expected notification service to be initialized")
	assert.NotNil(t, cs.Presence(), "expected presence tracker to be initialized")
}

func TestConnect(t *testing.T) {
	t.Run("chat namespace joins existing rooms", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)

		db.On("SetLastSeen", "alice", (*time.Time)(nil)).Return(nil)
		db.On("ListRoomsForUser", "alice").Return([]types.Room{
			{Id: "r1", ParticipantA: "alice", ParticipantB: "bob"},
			{Id: "r2", ParticipantA: "carol", ParticipantB: "alice"},
		}, nil)

		cs := newTestChatServer(t, db, nil)
		c := cs.Connect(types.Identity{Id: "alice", Role: types.RoleUser, Permissions: types.DefaultPermissions(types.RoleUser)}, NamespaceChat, nil)

		assert.Contains(t, c.subs, roomChannel("r1"), "expected subscription to first room")
		assert.Contains(t, c.subs, roomChannel("r2"), "expected subscription to second room")
		assert.Equal(t, c, cs.registry.Lookup("alice", NamespaceChat), "expected client to be registered")
	})

	t.Run("notifications namespace joins user channel", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)

		db.On("SetLastSeen", "alice", (*time.Time)(nil)).Return(nil)

		cs := newTestChatServer(t, db, nil)
		c := cs.Connect(types.Identity{Id: "alice", Role: types.RoleUser, Permissions: types.DefaultPermissions(types.RoleUser)}, NamespaceNotifications, nil)

		assert.Contains(t, c.subs, userChannel("alice"), "expected subscription to own user channel")
	})
}

func Test_handleEvent_ping(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)

	db.On("SetLastSeen", "alice", mock.AnythingOfType("*time.Time")).Return(nil)

	cs := newTestChatServer(t, db, nil)
	c := newTestClient(t, cs, "alice", NamespaceChat, types.DefaultPermissions(types.RoleUser))

	keep := cs.handleEvent(&ClientEvent{Id: 7, Ping: &Ping{}, client: c})
	assert.True(t, keep, "expected connection to stay open after ping")

	ev := recvEvent(t, c)
	assert.NotNil(t, ev.Pong, "expected a pong event")
	assert.True(t, ev.Pong.Pong, "expected pong flag to be set")
	assert.Equal(t, 7, ev.Id, "expected pong id to echo the ping id")
}

func Test_handleEvent_unknown(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, nil)
	c := newTestClient(t, cs, "alice", NamespaceChat, types.DefaultPermissions(types.RoleUser))

	keep := cs.handleEvent(&ClientEvent{Id: 3, client: c})
	assert.True(t, keep, "expected connection to stay open on unknown event")

	ev := recvEvent(t, c)
	assert.NotNil(t, ev.Error, "expected an error event")
	assert.Equal(t, CodeValidationFailed, ev.Error.Code, "expected validation error code")
	assert.Equal(t, 3, ev.Id, "expected error id to echo the event id")
}

func Test_handleEvent_wrongNamespace(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, nil)
	c := newTestClient(t, cs, "alice", NamespaceNotifications, types.DefaultPermissions(types.RoleUser))

	keep := cs.handleEvent(&ClientEvent{Id: 1, SendMessage: &SendMessage{RoomId: "r1", Message: "hi"}, client: c})
	assert.True(t, keep, "expected connection to stay open")

	ev := recvEvent(t, c)
	assert.NotNil(t, ev.Error, "expected an error event")
	assert.Equal(t, CodeValidationFailed, ev.Error.Code, "expected validation error for chat event on notifications namespace")
}

func Test_handleEvent_missingCapability(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, nil)
	// guests can read but not send
	c := newTestClient(t, cs, "guest", NamespaceChat, types.DefaultPermissions(types.RoleGuest))

	keep := cs.handleEvent(&ClientEvent{Id: 1, SendMessage: &SendMessage{RoomId: "r1", Message: "hi"}, client: c})
	assert.False(t, keep, "expected connection to terminate when capability is missing")

	ev := recvEvent(t, c)
	assert.NotNil(t, ev.Error, "expected an error event before closing")
	assert.Equal(t, CodePermissionDenied, ev.Error.Code, "expected permission denied code")
}

func Test_handleEvent_getOrCreateRoom(t *testing.T) {
	t.Run("creates and subscribes both participants", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)

		room := types.Room{Id: "r1", ParticipantA: "alice", ParticipantB: "bob"}
		db.On("GetAccountById", "bob").Return(types.User{Id: "bob"}, nil)
		db.On("FindRoomByParticipants", "alice", "bob").Return(types.Room{}, errors.New("not found")).Once()
		db.On("CreateRoom", mock.AnythingOfType("types.Room")).Return(room, nil)
		db.On("GetRecentMessages", "r1", historyLimit).Return([]types.Message{}, nil)

		cs := newTestChatServer(t, db, nil)
		alice := newTestClient(t, cs, "alice", NamespaceChat, types.DefaultPermissions(types.RoleUser))
		bob := newTestClient(t, cs, "bob", NamespaceChat, types.DefaultPermissions(types.RoleUser))

		keep := cs.handleEvent(&ClientEvent{Id: 2, GetOrCreateRoom: &GetOrCreateRoom{User1Id: "alice", User2Id: "bob"}, client: alice})
		assert.True(t, keep, "expected connection to stay open")

		ev := recvEvent(t, alice)
		assert.NotNil(t, ev.RoomData, "expected room data reply")
		assert.Equal(t, 2, ev.Id, "expected reply id to echo the request id")
		assert.Equal(t, "r1", ev.RoomData.Room.Id, "expected created room id")

		assert.Contains(t, alice.subs, roomChannel("r1"), "expected requester to be subscribed")
		assert.Contains(t, bob.subs, roomChannel("r1"), "expected online counterpart to be subscribed")
	})

	t.Run("caller must be a participant", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, nil)
		mallory := newTestClient(t, cs, "mallory", NamespaceChat, types.DefaultPermissions(types.RoleUser))

		cs.handleEvent(&ClientEvent{Id: 1, GetOrCreateRoom: &GetOrCreateRoom{User1Id: "alice", User2Id: "bob"}, client: mallory})

		ev := recvEvent(t, mallory)
		assert.NotNil(t, ev.Error, "expected an error event")
		assert.Equal(t, CodeAccessDenied, ev.Error.Code, "expected access denied for third-party room request")
	})
}

func Test_handleEvent_sendMessage_rateLimited(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)

	room := types.Room{Id: "r1", ParticipantA: "alice", ParticipantB: "bob"}
	db.On("GetRoomById", "r1").Return(room, nil)
	db.On("CreateMessage", mock.AnythingOfType("types.Message")).
		Return(types.Message{Id: "m1", RoomId: "r1", SenderId: "alice", Content: "hi"}, nil)
	db.On("GetAccountById", "bob").Return(types.User{Id: "bob"}, nil)
	db.On("CreateNotification", mock.AnythingOfType("types.Notification")).
		Return(types.Notification{Id: "n1", RecipientId: "bob"}, nil)

	limiter := ratelimit.NewMemoryLimiter(map[string]ratelimit.ModuleConfig{
		ratelimit.ModuleChat: {Budget: 2, Window: time.Hour, WarnFraction: 2, WarnInterval: time.Minute},
	})

	cs := newTestChatServer(t, db, limiter)
	alice := newTestClient(t, cs, "alice", NamespaceChat, types.DefaultPermissions(types.RoleUser))
	cs.registry.Subscribe(alice, roomChannel("r1"))

	send := &ClientEvent{Id: 1, SendMessage: &SendMessage{RoomId: "r1", Message: "hi"}, client: alice}
	for i := 0; i < 2; i++ {
		assert.True(t, cs.handleEvent(send), "expected send %d to be allowed", i+1)
		ev := recvEvent(t, alice)
		assert.NotNil(t, ev.ReceiveMessage, "expected message broadcast for send %d", i+1)
	}

	assert.True(t, cs.handleEvent(send), "expected connection to stay open after rejection")
	ev := recvEvent(t, alice)
	assert.NotNil(t, ev.RateLimitExceeded, "expected rate limit rejection after budget is spent")
	assert.GreaterOrEqual(t, ev.RateLimitExceeded.RetryAfter, 1, "expected retryAfter of at least one second")
	assert.False(t, ev.RateLimitExceeded.BlockedUntil.IsZero(), "expected blockedUntil to be set")

	db.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func Test_handleEvent_sendMessage_warning(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)

	room := types.Room{Id: "r1", ParticipantA: "alice", ParticipantB: "bob"}
	db.On("GetRoomById", "r1").Return(room, nil)
	db.On("CreateMessage", mock.AnythingOfType("types.Message")).
		Return(types.Message{Id: "m1", RoomId: "r1", SenderId: "alice", Content: "hi"}, nil)
	db.On("GetAccountById", "bob").Return(types.User{Id: "bob"}, nil)
	db.On("CreateNotification", mock.AnythingOfType("types.Notification")).
		Return(types.Notification{Id: "n1", RecipientId: "bob"}, nil)

	limiter := ratelimit.NewMemoryLimiter(map[string]ratelimit.ModuleConfig{
		ratelimit.ModuleChat: {Budget: 10, Window: time.Hour, WarnFraction: 0.8, WarnInterval: time.Minute},
	})

	cs := newTestChatServer(t, db, limiter)
	alice := newTestClient(t, cs, "alice", NamespaceChat, types.DefaultPermissions(types.RoleUser))

	send := &ClientEvent{Id: 1, SendMessage: &SendMessage{RoomId: "r1", Message: "hi"}, client: alice}
	for i := 0; i < 7; i++ {
		cs.handleEvent(send)
	}

	// eighth send crosses the 80% threshold
	cs.handleEvent(send)
	ev := recvEvent(t, alice)
	assert.NotNil(t, ev.RateLimitWarning, "expected warning event when crossing the threshold")
	assert.Equal(t, ratelimit.ModuleChat, ev.RateLimitWarning.Module, "expected warning to name the chat module")
	assert.Equal(t, 2, ev.RateLimitWarning.Remaining, "expected two sends remaining")
}

func Test_handleEvent_markMessagesRead(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)

	room := types.Room{Id: "r1", ParticipantA: "alice", ParticipantB: "bob"}
	db.On("GetRoomById", "r1").Return(room, nil)
	db.On("MarkMessagesRead", "r1", "alice", mock.AnythingOfType("time.Time")).Return(0, nil)

	cs := newTestChatServer(t, db, nil)
	alice := newTestClient(t, cs, "alice", NamespaceChat, types.DefaultPermissions(types.RoleUser))
	cs.registry.Subscribe(alice, roomChannel("r1"))

	keep := cs.handleEvent(&ClientEvent{Id: 4, MarkMessagesRead: &MarkMessagesRead{RoomId: "r1"}, client: alice})
	assert.True(t, keep, "expected connection to stay open")

	// zero affected rows still broadcasts
	ev := recvEvent(t, alice)
	assert.NotNil(t, ev.MessagesRead, "expected messagesRead broadcast")
	assert.Equal(t, 0, ev.MessagesRead.Count, "expected zero count")
	assert.Equal(t, "alice", ev.MessagesRead.ReaderId, "expected reader id")
}

func Test_disconnect(t *testing.T) {
	t.Run("stamps last seen when last connection drops", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)

		db.On("SetLastSeen", "alice", mock.AnythingOfType("*time.Time")).Return(nil).Once()

		cs := newTestChatServer(t, db, nil)
		c := newTestClient(t, cs, "alice", NamespaceChat, types.DefaultPermissions(types.RoleUser))

		cs.disconnect(c)
	})

	t.Run("keeps user online while another namespace survives", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, nil)
		chat := newTestClient(t, cs, "alice", NamespaceChat, types.DefaultPermissions(types.RoleUser))
		newTestClient(t, cs, "alice", NamespaceNotifications, types.DefaultPermissions(types.RoleUser))

		cs.disconnect(chat)

		db.AssertNotCalled(t, "SetLastSeen", "alice", mock.AnythingOfType("*time.Time"))
	})
}

// TestFirstContactConversation walks two users through meeting for the first
// time: room creation, a message each way, then a read receipt.
func TestFirstContactConversation(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)

	room := types.Room{Id: "r1", ParticipantA: "alice", ParticipantB: "bob"}
	db.On("GetAccountById", "bob").Return(types.User{Id: "bob"}, nil)
	db.On("FindRoomByParticipants", "alice", "bob").Return(types.Room{}, errors.New("not found")).Once()
	db.On("CreateRoom", mock.AnythingOfType("types.Room")).Return(room, nil)
	db.On("GetRecentMessages", "r1", historyLimit).Return([]types.Message{}, nil)
	db.On("GetRoomById", "r1").Return(room, nil)
	db.On("CreateMessage", mock.AnythingOfType("types.Message")).
		Return(types.Message{Id: "m1", RoomId: "r1", SenderId: "alice", Content: "hello"}, nil).Once()
	db.On("CreateMessage", mock.AnythingOfType("types.Message")).
		Return(types.Message{Id: "m2", RoomId: "r1", SenderId: "bob", Content: "hi back"}, nil).Once()
	db.On("MarkMessagesRead", "r1", "bob", mock.AnythingOfType("time.Time")).Return(2, nil)

	cs := newTestChatServer(t, db, nil)
	alice := newTestClient(t, cs, "alice", NamespaceChat, types.DefaultPermissions(types.RoleUser))
	bob := newTestClient(t, cs, "bob", NamespaceChat, types.DefaultPermissions(types.RoleUser))

	// alice opens the room, both sides end up subscribed
	cs.handleEvent(&ClientEvent{Id: 1, GetOrCreateRoom: &GetOrCreateRoom{User1Id: "alice", User2Id: "bob"}, client: alice})
	reply := recvEvent(t, alice)
	assert.NotNil(t, reply.RoomData, "expected room data for the first contact")

	// alice greets, bob sees it live
	cs.handleEvent(&ClientEvent{Id: 2, SendMessage: &SendMessage{RoomId: "r1", Message: "hello"}, client: alice})
	got := recvEvent(t, bob)
	assert.NotNil(t, got.ReceiveMessage, "expected bob to receive the greeting")
	assert.Equal(t, "m1", got.ReceiveMessage.Id, "expected the persisted greeting")
	recvEvent(t, alice) // sender's own copy

	// bob replies
	cs.handleEvent(&ClientEvent{Id: 3, SendMessage: &SendMessage{RoomId: "r1", Message: "hi back"}, client: bob})
	got = recvEvent(t, alice)
	assert.NotNil(t, got.ReceiveMessage, "expected alice to receive the reply")
	assert.Equal(t, "m2", got.ReceiveMessage.Id, "expected the persisted reply")
	recvEvent(t, bob)

	// bob marks the room read, alice learns about it
	cs.handleEvent(&ClientEvent{Id: 4, MarkMessagesRead: &MarkMessagesRead{RoomId: "r1"}, client: bob})
	got = recvEvent(t, alice)
	assert.NotNil(t, got.MessagesRead, "expected a read receipt broadcast")
	assert.Equal(t, "bob", got.MessagesRead.ReaderId, "expected bob as the reader")
	assert.Equal(t, 2, got.MessagesRead.Count, "expected both messages marked")

	db.AssertNotCalled(t, "CreateNotification", mock.Anything)
}

func TestShutdown(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, nil)
	c := newTestClient(t, cs, "alice", NamespaceChat, types.DefaultPermissions(types.RoleUser))

	cs.Shutdown()

	select {
	case <-c.stop:
	default:
		t.Error("expected client stop channel to be closed on shutdown")
	}
}
