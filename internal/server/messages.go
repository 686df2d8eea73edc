package server

import (
	"time"

	"chatcore/internal/ratelimit"
	"chatcore/internal/types"
)

// ClientEvent is the closed union of inbound events. Exactly one payload
// field is set; events with none set (or an unrecognized name on the wire)
// are rejected.
type ClientEvent struct {
	Id int `json:"id,omitempty"`

	// chat namespace
	SendMessage      *SendMessage      `json:"sendMessage,omitempty"`
	GetOrCreateRoom  *GetOrCreateRoom  `json:"getOrCreateRoom,omitempty"`
	MarkMessagesRead *MarkMessagesRead `json:"markMessagesRead,omitempty"`
	Ping             *Ping             `json:"ping,omitempty"`

	// notifications namespace
	MarkAsRead         *MarkAsRead         `json:"markAsRead,omitempty"`
	MarkAllAsRead      *MarkAllAsRead      `json:"markAllAsRead,omitempty"`
	DeleteNotification *DeleteNotification `json:"deleteNotification,omitempty"`

	client *Client
}

type SendMessage struct {
	RoomId   string `json:"roomId"`
	Message  string `json:"message"`
	ClientId string `json:"clientId,omitempty"`
}

type GetOrCreateRoom struct {
	User1Id string `json:"user1Id"`
	User2Id string `json:"user2Id"`
}

type MarkMessagesRead struct {
	RoomId string `json:"roomId"`
}

type Ping struct{}

type MarkAsRead struct {
	NotificationId string `json:"notificationId"`
}

type MarkAllAsRead struct{}

type DeleteNotification struct {
	NotificationId string `json:"notificationId"`
}

// ServerEvent is the closed union of outbound events.
type ServerEvent struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// chat namespace
	ReceiveMessage    *types.Message     `json:"receiveMessage,omitempty"`
	RoomData          *RoomData          `json:"roomData,omitempty"`
	MessagesRead      *MessagesRead      `json:"messagesRead,omitempty"`
	Pong              *Pong              `json:"pong,omitempty"`
	RateLimitExceeded *RateLimitExceeded `json:"rateLimitExceeded,omitempty"`
	RateLimitWarning  *ratelimit.Warning `json:"rateLimitWarning,omitempty"`

	// notifications namespace
	NewNotification     *types.Notification  `json:"newNotification,omitempty"`
	NotificationUpdate  *NotificationUpdate  `json:"notificationUpdate,omitempty"`
	NotificationsRead   *NotificationsRead   `json:"notificationsRead,omitempty"`
	NotificationDeleted *NotificationDeleted `json:"notificationDeleted,omitempty"`

	Error *ErrorEvent `json:"error,omitempty"`
}

type RoomData struct {
	Room     types.Room      `json:"room"`
	Messages []types.Message `json:"messages"`
}

type MessagesRead struct {
	RoomId   string `json:"roomId"`
	ReaderId string `json:"readerId"`
	Count    int    `json:"count"`
}

type Pong struct {
	Pong      bool      `json:"pong"`
	Timestamp time.Time `json:"timestamp"`
}

type RateLimitExceeded struct {
	Error        string    `json:"error"`
	RetryAfter   int       `json:"retryAfter"`
	BlockedUntil time.Time `json:"blockedUntil"`
}

type NotificationUpdate struct {
	NotificationId string             `json:"notificationId"`
	Updates        types.Notification `json:"updates"`
	UserId         string             `json:"userId"`
}

type NotificationsRead struct {
	UserId          string   `json:"userId"`
	Count           int      `json:"count"`
	NotificationIds []string `json:"notificationIds"`
}

type NotificationDeleted struct {
	NotificationId string `json:"notificationId"`
	UserId         string `json:"userId"`
}

// Machine-readable error codes reported on the error event.
const (
	CodeAccessDenied     = "access_denied"
	CodeValidationFailed = "validation_failed"
	CodeNotFound         = "not_found"
	CodeInternal         = "internal_error"
	CodePermissionDenied = "permission_denied"
)

type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func newEvent(id int) *ServerEvent {
	return &ServerEvent{Id: id, Timestamp: Now()}
}

func errEvent(id int, code, message string) *ServerEvent {
	ev := newEvent(id)
	ev.Error = &ErrorEvent{Message: message, Code: code}
	return ev
}

func ErrAccessDeniedEvent(id int) *ServerEvent {
	return errEvent(id, CodeAccessDenied, "access denied")
}

func ErrValidationEvent(id int, message string) *ServerEvent {
	return errEvent(id, CodeValidationFailed, message)
}

func ErrInternalEvent(id int) *ServerEvent {
	return errEvent(id, CodeInternal, "internal server error")
}

func RateLimitExceededEvent(id int, res ratelimit.Result, now time.Time) *ServerEvent {
	exceeded := &RateLimitExceeded{
		Error:      "rate limit exceeded",
		RetryAfter: res.RetryAfter(now),
	}
	if res.BlockedUntil != nil {
		exceeded.BlockedUntil = res.BlockedUntil.UTC()
	}

	ev := newEvent(id)
	ev.RateLimitExceeded = exceeded
	return ev
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
