package database

import (
	"errors"
	"time"

	"chatcore/internal/types"
)

// ErrDuplicateRoom is returned by CreateRoom when a room for the same
// participant pair already exists. Callers fall back to lookup.
var ErrDuplicateRoom = errors.New("room already exists for participant pair")

type ChatRepository interface {
	Ping() error
	GetAccountById(accountId string) (types.User, error)
	GetSessionAccount(token string) (types.User, error)
	FindRoomByParticipants(userA, userB string) (types.Room, error)
	CreateRoom(room types.Room) (types.Room, error)
	GetRoomById(roomId string) (types.Room, error)
	ListRoomsForUser(userId string) ([]types.Room, error)
	CreateMessage(msg types.Message) (types.Message, error)
	GetRecentMessages(roomId string, limit int) ([]types.Message, error)
	MarkMessagesRead(roomId, readerId string, readAt time.Time) (int, error)
	CreateNotification(n types.Notification) (types.Notification, error)
	GetNotificationById(notificationId string) (types.Notification, error)
	MarkNotificationRead(notificationId string, readAt time.Time) (types.Notification, error)
	MarkAllNotificationsRead(recipientId string, readAt time.Time) ([]string, error)
	DeleteNotification(notificationId string) error
	SetLastSeen(userId string, lastSeen *time.Time) error
}
