package database

import (
	"database/sql"
	"sync"
	"time"

	"chatcore/internal/types"
)

// MemoryChatRepository is an in-memory ChatRepository with the same
// semantics as the Postgres queries. It backs tests that need stateful
// behavior a call-by-call mock cannot express, such as read timestamps
// surviving repeated mark-read passes.
type MemoryChatRepository struct {
	mu            sync.Mutex
	accounts      map[string]types.User
	rooms         map[string]types.Room
	messages      map[string]*types.Message
	messageOrder  []string
	notifications map[string]*types.Notification
}

func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		accounts:      make(map[string]types.User),
		rooms:         make(map[string]types.Room),
		messages:      make(map[string]*types.Message),
		notifications: make(map[string]*types.Notification),
	}
}

func (m *MemoryChatRepository) Ping() error {
	return nil
}

// AddAccount seeds a user.
func (m *MemoryChatRepository) AddAccount(user types.User) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts[user.Id] = user
}

func (m *MemoryChatRepository) GetAccountById(accountId string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.accounts[accountId]
	if !ok {
		return types.User{}, sql.ErrNoRows
	}

	return user, nil
}

func (m *MemoryChatRepository) GetSessionAccount(token string) (types.User, error) {
	return types.User{}, sql.ErrNoRows
}

func (m *MemoryChatRepository) FindRoomByParticipants(userA, userB string) (types.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, room := range m.rooms {
		if (room.ParticipantA == userA && room.ParticipantB == userB) ||
			(room.ParticipantA == userB && room.ParticipantB == userA) {
			return room, nil
		}
	}

	return types.Room{}, sql.ErrNoRows
}

func (m *MemoryChatRepository) CreateRoom(room types.Room) (types.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.rooms {
		if (existing.ParticipantA == room.ParticipantA && existing.ParticipantB == room.ParticipantB) ||
			(existing.ParticipantA == room.ParticipantB && existing.ParticipantB == room.ParticipantA) {
			return types.Room{}, ErrDuplicateRoom
		}
	}

	now := time.Now().UTC()
	room.CreatedAt = now
	room.UpdatedAt = now
	m.rooms[room.Id] = room

	return room, nil
}

func (m *MemoryChatRepository) GetRoomById(roomId string) (types.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomId]
	if !ok {
		return types.Room{}, sql.ErrNoRows
	}

	return room, nil
}

func (m *MemoryChatRepository) ListRoomsForUser(userId string) ([]types.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rooms []types.Room
	for _, room := range m.rooms {
		if room.HasParticipant(userId) {
			rooms = append(rooms, room)
		}
	}

	return rooms, nil
}

func (m *MemoryChatRepository) CreateMessage(msg types.Message) (types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := msg
	m.messages[msg.Id] = &stored
	m.messageOrder = append(m.messageOrder, msg.Id)

	if room, ok := m.rooms[msg.RoomId]; ok {
		room.UpdatedAt = msg.CreatedAt
		m.rooms[msg.RoomId] = room
	}

	return msg, nil
}

func (m *MemoryChatRepository) GetRecentMessages(roomId string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var messages []types.Message
	for _, id := range m.messageOrder {
		if msg := m.messages[id]; msg.RoomId == roomId {
			messages = append(messages, *msg)
		}
	}
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	return messages, nil
}

// MarkMessagesRead stamps readAt on unread messages not authored by the
// reader. Already-read messages keep their original timestamp.
func (m *MemoryChatRepository) MarkMessagesRead(roomId, readerId string, readAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, msg := range m.messages {
		if msg.RoomId == roomId && msg.SenderId != readerId && msg.ReadAt == nil {
			stamp := readAt
			msg.ReadAt = &stamp
			count++
		}
	}

	return count, nil
}

func (m *MemoryChatRepository) CreateNotification(n types.Notification) (types.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	n.Status = types.NotificationUnread
	n.CreatedAt = now
	n.UpdatedAt = now

	stored := n
	m.notifications[n.Id] = &stored

	return n, nil
}

func (m *MemoryChatRepository) GetNotificationById(notificationId string) (types.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[notificationId]
	if !ok {
		return types.Notification{}, sql.ErrNoRows
	}

	return *n, nil
}

// MarkNotificationRead flips the status and stamps read_at only if it was
// unset. updated_at always advances.
func (m *MemoryChatRepository) MarkNotificationRead(notificationId string, readAt time.Time) (types.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[notificationId]
	if !ok {
		return types.Notification{}, sql.ErrNoRows
	}

	n.Status = types.NotificationRead
	if n.ReadAt == nil {
		stamp := readAt
		n.ReadAt = &stamp
	}
	n.UpdatedAt = readAt

	return *n, nil
}

func (m *MemoryChatRepository) MarkAllNotificationsRead(recipientId string, readAt time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids = make([]string, 0)
	for _, n := range m.notifications {
		if n.RecipientId == recipientId && n.Status == types.NotificationUnread {
			n.Status = types.NotificationRead
			if n.ReadAt == nil {
				stamp := readAt
				n.ReadAt = &stamp
			}
			n.UpdatedAt = readAt
			ids = append(ids, n.Id)
		}
	}

	return ids, nil
}

func (m *MemoryChatRepository) DeleteNotification(notificationId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.notifications, notificationId)

	return nil
}

func (m *MemoryChatRepository) SetLastSeen(userId string, lastSeen *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.accounts[userId]
	if !ok {
		return nil
	}

	user.LastSeen = lastSeen
	m.accounts[userId] = user

	return nil
}
