package database

import (
	"time"

	"github.com/stretchr/testify/mock"

	"chatcore/internal/types"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) GetAccountById(accountId string) (types.User, error) {
	args := m.Called(accountId)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockChatRepository) GetSessionAccount(token string) (types.User, error) {
	args := m.Called(token)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockChatRepository) FindRoomByParticipants(userA, userB string) (types.Room, error) {
	args := m.Called(userA, userB)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *MockChatRepository) CreateRoom(room types.Room) (types.Room, error) {
	args := m.Called(room)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *MockChatRepository) GetRoomById(roomId string) (types.Room, error) {
	args := m.Called(roomId)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *MockChatRepository) ListRoomsForUser(userId string) ([]types.Room, error) {
	args := m.Called(userId)
	if rooms, ok := args.Get(0).([]types.Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) CreateMessage(msg types.Message) (types.Message, error) {
	args := m.Called(msg)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockChatRepository) GetRecentMessages(roomId string, limit int) ([]types.Message, error) {
	args := m.Called(roomId, limit)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) MarkMessagesRead(roomId, readerId string, readAt time.Time) (int, error) {
	args := m.Called(roomId, readerId, readAt)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) CreateNotification(n types.Notification) (types.Notification, error) {
	args := m.Called(n)
	return args.Get(0).(types.Notification), args.Error(1)
}
func (m *MockChatRepository) GetNotificationById(notificationId string) (types.Notification, error) {
	args := m.Called(notificationId)
	return args.Get(0).(types.Notification), args.Error(1)
}
func (m *MockChatRepository) MarkNotificationRead(notificationId string, readAt time.Time) (types.Notification, error) {
	args := m.Called(notificationId, readAt)
	return args.Get(0).(types.Notification), args.Error(1)
}
func (m *MockChatRepository) MarkAllNotificationsRead(recipientId string, readAt time.Time) ([]string, error) {
	args := m.Called(recipientId, readAt)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) DeleteNotification(notificationId string) error {
	args := m.Called(notificationId)
	return args.Error(0)
}
func (m *MockChatRepository) SetLastSeen(userId string, lastSeen *time.Time) error {
	args := m.Called(userId, lastSeen)
	return args.Error(0)
}
