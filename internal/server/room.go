package server

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"

	"chatcore/internal/database"
	"chatcore/internal/stats"
	"chatcore/internal/types"
)

const (
	historyLimit      = 50
	maxContentRunes   = 1000
	roomChannelPrefix = "room:"
	userChannelPrefix = "user:"
)

func roomChannel(roomId string) string {
	return roomChannelPrefix + roomId
}

func userChannel(userId string) string {
	return userChannelPrefix + userId
}

// RoomManager owns the two-party conversation lifecycle: room dedup, message
// persistence and read receipts. Messages are committed to the database
// before any subscriber sees them.
type RoomManager struct {
	log           *log.Logger
	db            database.ChatRepository
	registry      *Registry
	notifications *NotificationService
	stats         stats.Provider
}

func NewRoomManager(logger *log.Logger, db database.ChatRepository, reg *Registry, ns *NotificationService, sp stats.Provider) *RoomManager {
	return &RoomManager{
		log:           logger,
		db:            db,
		registry:      reg,
		notifications: ns,
		stats:         sp,
	}
}

// GetOrCreateRoom returns the single room for the given participant pair,
// creating it if neither ordering exists yet. The caller must be one of the
// two participants.
func (rm *RoomManager) GetOrCreateRoom(callerId, user1Id, user2Id string) (*RoomData, error) {
	if user1Id == "" || user2Id == "" {
		return nil, fmt.Errorf("%w: both participants are required", ErrValidation)
	}

	if user1Id == user2Id {
		return nil, fmt.Errorf("%w: cannot create a room with yourself", ErrValidation)
	}

	if callerId != user1Id && callerId != user2Id {
		return nil, ErrAccessDenied
	}

	other := user1Id
	if other == callerId {
		other = user2Id
	}

	if _, err := rm.db.GetAccountById(other); err != nil {
		return nil, fmt.Errorf("%w: user %q", ErrNotFound, other)
	}

	room, err := rm.db.FindRoomByParticipants(user1Id, user2Id)
	if err != nil {
		room, err = rm.createRoom(user1Id, user2Id)
		if err != nil {
			return nil, err
		}
	}

	messages, err := rm.db.GetRecentMessages(room.Id, historyLimit)
	if err != nil {
		rm.log.Printf("failed to load history for room %q: %s", room.Id, err)
		messages = nil
	}

	return &RoomData{Room: room, Messages: messages}, nil
}

func (rm *RoomManager) createRoom(user1Id, user2Id string) (types.Room, error) {
	id, err := shortid.Generate()
	if err != nil {
		return types.Room{}, fmt.Errorf("generate room id: %w", err)
	}

	room, err := rm.db.CreateRoom(types.Room{
		Id:           id,
		ParticipantA: user1Id,
		ParticipantB: user2Id,
		CreatedAt:    Now(),
	})
	if err == nil {
		return room, nil
	}

	// A concurrent request for the same pair won the insert race.
	if errors.Is(err, database.ErrDuplicateRoom) {
		return rm.db.FindRoomByParticipants(user1Id, user2Id)
	}

	return types.Room{}, fmt.Errorf("create room: %w", err)
}

// SendMessage persists a chat message and then broadcasts it to the room's
// subscribers.
func (rm *RoomManager) SendMessage(senderId, roomId, content string) (*types.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrValidation)
	}

	if utf8.RuneCountInString(content) > maxContentRunes {
		return nil, fmt.Errorf("%w: message exceeds %d characters", ErrValidation, maxContentRunes)
	}

	room, err := rm.db.GetRoomById(roomId)
	if err != nil {
		return nil, fmt.Errorf("%w: room %q", ErrNotFound, roomId)
	}

	if !room.HasParticipant(senderId) {
		return nil, ErrAccessDenied
	}

	msg, err := rm.db.CreateMessage(types.Message{
		Id:        uuid.NewString(),
		RoomId:    room.Id,
		SenderId:  senderId,
		Content:   content,
		CreatedAt: Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	ev := newEvent(0)
	ev.ReceiveMessage = &msg
	rm.registry.Broadcast(roomChannel(room.Id), ev)

	rm.stats.Incr(stats.MessagesSent)

	// A counterpart without a live chat connection gets a notification
	// instead of the broadcast.
	counterpart := room.OtherParticipant(senderId)
	if rm.registry.Lookup(counterpart, NamespaceChat) == nil {
		if _, err := rm.notifications.SendToUser(counterpart, "message", "New message", msg.Content); err != nil {
			rm.log.Printf("failed to notify %q of new message: %s", counterpart, err)
		}
	}

	return &msg, nil
}

// MarkRead stamps every unread message from the other participant and tells
// the room how many were affected. A zero count still broadcasts so the
// sender's unread badge can settle.
func (rm *RoomManager) MarkRead(readerId, roomId string) (*MessagesRead, error) {
	room, err := rm.db.GetRoomById(roomId)
	if err != nil {
		return nil, fmt.Errorf("%w: room %q", ErrNotFound, roomId)
	}

	if !room.HasParticipant(readerId) {
		return nil, ErrAccessDenied
	}

	count, err := rm.db.MarkMessagesRead(room.Id, readerId, Now())
	if err != nil {
		return nil, fmt.Errorf("mark messages read: %w", err)
	}

	read := &MessagesRead{
		RoomId:   room.Id,
		ReaderId: readerId,
		Count:    count,
	}

	ev := newEvent(0)
	ev.MessagesRead = read
	rm.registry.Broadcast(roomChannel(room.Id), ev)

	return read, nil
}
