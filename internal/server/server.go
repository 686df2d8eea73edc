package server

import (
	"errors"
	"log"

	"github.com/gorilla/websocket"

	"chatcore/internal/backplane"
	"chatcore/internal/database"
	"chatcore/internal/ratelimit"
	"chatcore/internal/stats"
	"chatcore/internal/types"
)

type ChatServer struct {
	log           *log.Logger
	db            database.ChatRepository
	registry      *Registry
	rooms         *RoomManager
	notifications *NotificationService
	presence      *PresenceTracker
	limiter       ratelimit.Limiter
	stats         stats.Provider
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, limiter ratelimit.Limiter, bp backplane.Backplane, sp stats.Provider) (*ChatServer, error) {
	registry := NewRegistry(logger, bp, sp)
	notifications := NewNotificationService(logger, db, registry, limiter, sp)
	cs := &ChatServer{
		log:           logger,
		db:            db,
		registry:      registry,
		rooms:         NewRoomManager(logger, db, registry, notifications, sp),
		notifications: notifications,
		presence:      NewPresenceTracker(logger, db),
		limiter:       limiter,
		stats:         sp,
	}

	if err := bp.Subscribe(registry.HandleRemote); err != nil {
		return nil, err
	}

	return cs, nil
}

func (cs *ChatServer) Registry() *Registry {
	return cs.registry
}

func (cs *ChatServer) Notifications() *NotificationService {
	return cs.notifications
}

func (cs *ChatServer) Presence() *PresenceTracker {
	return cs.presence
}

// Connect registers a new connection, marks its user online and subscribes
// it to the channels its namespace serves.
func (cs *ChatServer) Connect(identity types.Identity, namespace string, conn *websocket.Conn) *Client {
	c := NewClient(identity, namespace, conn, cs, cs.log)
	cs.registry.Register(c)
	cs.presence.HandleConnect(identity.Id)

	switch namespace {
	case NamespaceChat:
		rooms, err := cs.db.ListRoomsForUser(identity.Id)
		if err != nil {
			cs.log.Printf("failed to list rooms for %q: %s", identity.Id, err)
		}
		for _, room := range rooms {
			cs.registry.Subscribe(c, roomChannel(room.Id))
		}
	case NamespaceNotifications:
		cs.registry.Subscribe(c, userChannel(identity.Id))
	}

	cs.log.Printf("connected %q as %q on %s", c.connId, identity.Id, namespace)

	return c
}

func (cs *ChatServer) disconnect(c *Client) {
	cs.registry.Unregister(c)

	// Keep the user online if another connection of theirs survives.
	if cs.registry.Lookup(c.identity.Id, NamespaceChat) == nil &&
		cs.registry.Lookup(c.identity.Id, NamespaceNotifications) == nil {
		cs.presence.HandleDisconnect(c.identity.Id)
	}

	cs.log.Printf("disconnected %q", c.connId)
}

// handleEvent dispatches one inbound event. Returning false terminates the
// connection; only permission failures do that, domain errors are reported
// as error events on the open connection.
func (cs *ChatServer) handleEvent(ev *ClientEvent) bool {
	c := ev.client

	switch {
	case ev.Ping != nil:
		cs.presence.Heartbeat(c.identity.Id)
		pong := newEvent(ev.Id)
		pong.Pong = &Pong{Pong: true, Timestamp: Now()}
		c.queueEvent(pong)
	case ev.SendMessage != nil:
		if !cs.requireNamespace(c, ev.Id, NamespaceChat) {
			return true
		}
		if !cs.requireCapability(c, types.CapChatSend) {
			return false
		}
		if !cs.allowChatSend(c, ev.Id) {
			return true
		}

		if _, err := cs.rooms.SendMessage(c.identity.Id, ev.SendMessage.RoomId, ev.SendMessage.Message); err != nil {
			cs.replyError(c, ev.Id, err)
		}
	case ev.GetOrCreateRoom != nil:
		if !cs.requireNamespace(c, ev.Id, NamespaceChat) {
			return true
		}
		if !cs.requireCapability(c, types.CapChatRead) {
			return false
		}

		data, err := cs.rooms.GetOrCreateRoom(c.identity.Id, ev.GetOrCreateRoom.User1Id, ev.GetOrCreateRoom.User2Id)
		if err != nil {
			cs.replyError(c, ev.Id, err)
			return true
		}

		cs.registry.Subscribe(c, roomChannel(data.Room.Id))
		if other := data.Room.OtherParticipant(c.identity.Id); other != "" {
			if oc := cs.registry.Lookup(other, NamespaceChat); oc != nil {
				cs.registry.Subscribe(oc, roomChannel(data.Room.Id))
			}
		}

		reply := newEvent(ev.Id)
		reply.RoomData = data
		c.queueEvent(reply)
	case ev.MarkMessagesRead != nil:
		if !cs.requireNamespace(c, ev.Id, NamespaceChat) {
			return true
		}
		if !cs.requireCapability(c, types.CapChatRead) {
			return false
		}

		if _, err := cs.rooms.MarkRead(c.identity.Id, ev.MarkMessagesRead.RoomId); err != nil {
			cs.replyError(c, ev.Id, err)
		}
	case ev.MarkAsRead != nil:
		if !cs.requireNamespace(c, ev.Id, NamespaceNotifications) {
			return true
		}
		if !cs.requireCapability(c, types.CapNotificationsManage) {
			return false
		}

		if _, err := cs.notifications.MarkAsRead(c.identity.Id, ev.MarkAsRead.NotificationId); err != nil {
			cs.replyError(c, ev.Id, err)
		}
	case ev.MarkAllAsRead != nil:
		if !cs.requireNamespace(c, ev.Id, NamespaceNotifications) {
			return true
		}
		if !cs.requireCapability(c, types.CapNotificationsManage) {
			return false
		}

		if _, err := cs.notifications.MarkAllAsRead(c.identity.Id); err != nil {
			cs.replyError(c, ev.Id, err)
		}
	case ev.DeleteNotification != nil:
		if !cs.requireNamespace(c, ev.Id, NamespaceNotifications) {
			return true
		}
		if !cs.requireCapability(c, types.CapNotificationsManage) {
			return false
		}

		if _, err := cs.notifications.Delete(c.identity.Id, ev.DeleteNotification.NotificationId); err != nil {
			cs.replyError(c, ev.Id, err)
		}
	default:
		c.queueEvent(ErrValidationEvent(ev.Id, "unknown event"))
	}

	return true
}

// allowChatSend consumes one unit of the hard chat budget. On rejection the
// client gets retry timing; near the budget it gets a deduplicated warning.
func (cs *ChatServer) allowChatSend(c *Client, id int) bool {
	res := cs.limiter.Check(c.identity.Id, ratelimit.ModuleChat)
	if !res.Allowed {
		cs.stats.Incr(stats.RateLimitRejections)
		c.queueEvent(RateLimitExceededEvent(id, res, Now()))
		return false
	}

	if res.Warning != nil {
		warn := newEvent(0)
		warn.RateLimitWarning = res.Warning
		c.queueEvent(warn)
	}

	return true
}

func (cs *ChatServer) requireNamespace(c *Client, id int, namespace string) bool {
	if c.namespace == namespace {
		return true
	}

	c.queueEvent(ErrValidationEvent(id, "event not supported on this namespace"))

	return false
}

// requireCapability closes the connection when the identity lacks the
// capability. Missing permissions are treated like failed auth.
func (cs *ChatServer) requireCapability(c *Client, capability string) bool {
	if c.identity.Permissions.Has(capability) {
		return true
	}

	cs.stats.Incr(stats.AuthFailures)
	cs.log.Printf("closing %q: identity %q lacks %q", c.connId, c.identity.Id, capability)
	c.queueEvent(errEvent(0, CodePermissionDenied, "permission denied"))

	return false
}

func (cs *ChatServer) replyError(c *Client, id int, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		c.queueEvent(ErrValidationEvent(id, err.Error()))
	case errors.Is(err, ErrAccessDenied):
		c.queueEvent(ErrAccessDeniedEvent(id))
	case errors.Is(err, ErrNotFound):
		c.queueEvent(errEvent(id, CodeNotFound, err.Error()))
	default:
		cs.log.Println("internal error:", err)
		c.queueEvent(ErrInternalEvent(id))
	}
}

// Shutdown stops every active connection.
func (cs *ChatServer) Shutdown() {
	cs.log.Println("received shutdown signal")
	for _, c := range cs.registry.Snapshot() {
		c.stopClient("server shutting down")
	}
}
