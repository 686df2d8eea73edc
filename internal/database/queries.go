package database

import (
	"errors"
	"time"

	"github.com/lib/pq"

	"chatcore/internal/types"
)

const uniqueViolation = "23505"

func (db *PgChatRepository) GetAccountById(accountId string) (types.User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, role, last_seen, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var user types.User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.Role,
		&user.LastSeen,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgChatRepository) GetSessionAccount(token string) (types.User, error) {
	row := db.conn.QueryRow(
		"SELECT a.id, a.username, a.role, a.last_seen, a.created_at, a.updated_at "+
			"FROM sessions s JOIN accounts a ON s.account_id = a.id "+
			"WHERE s.token = $1 AND s.expires_at > $2 LIMIT 1",
		token,
		time.Now().UTC(),
	)

	var user types.User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.Role,
		&user.LastSeen,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

// FindRoomByParticipants matches the pair in either ordering.
func (db *PgChatRepository) FindRoomByParticipants(userA, userB string) (types.Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, participant_a, participant_b, created_at, updated_at FROM rooms "+
			"WHERE (participant_a = $1 AND participant_b = $2) "+
			"OR (participant_a = $2 AND participant_b = $1) LIMIT 1",
		userA,
		userB,
	)

	var room types.Room
	err := row.Scan(
		&room.Id,
		&room.ParticipantA,
		&room.ParticipantB,
		&room.CreatedAt,
		&room.UpdatedAt,
	)

	return room, err
}

func (db *PgChatRepository) CreateRoom(room types.Room) (types.Room, error) {
	res := db.conn.QueryRow(
		"INSERT INTO rooms (id, participant_a, participant_b, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, participant_a, participant_b, created_at, updated_at",
		room.Id,
		room.ParticipantA,
		room.ParticipantB,
		time.Now().UTC(),
		time.Now().UTC(),
	)

	var created types.Room
	err := res.Scan(
		&created.Id,
		&created.ParticipantA,
		&created.ParticipantB,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return types.Room{}, ErrDuplicateRoom
		}
		return types.Room{}, err
	}

	return created, nil
}

func (db *PgChatRepository) GetRoomById(roomId string) (types.Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, participant_a, participant_b, created_at, updated_at FROM rooms "+
			"WHERE id = $1 LIMIT 1",
		roomId,
	)

	var room types.Room
	err := row.Scan(
		&room.Id,
		&room.ParticipantA,
		&room.ParticipantB,
		&room.CreatedAt,
		&room.UpdatedAt,
	)

	return room, err
}

func (db *PgChatRepository) ListRoomsForUser(userId string) ([]types.Room, error) {
	rows, err := db.conn.Query(
		"SELECT id, participant_a, participant_b, created_at, updated_at FROM rooms "+
			"WHERE participant_a = $1 OR participant_b = $1",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []types.Room
	for rows.Next() {
		var room types.Room
		if err = rows.Scan(&room.Id, &room.ParticipantA, &room.ParticipantB, &room.CreatedAt, &room.UpdatedAt); err != nil {
			break
		}

		rooms = append(rooms, room)
	}

	return rooms, err
}

func (db *PgChatRepository) CreateMessage(msg types.Message) (types.Message, error) {
	res := db.conn.QueryRow(
		"INSERT INTO messages (id, room_id, sender_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, room_id, sender_id, content, created_at, read_at",
		msg.Id,
		msg.RoomId,
		msg.SenderId,
		msg.Content,
		msg.CreatedAt,
	)

	var created types.Message
	err := res.Scan(
		&created.Id,
		&created.RoomId,
		&created.SenderId,
		&created.Content,
		&created.CreatedAt,
		&created.ReadAt,
	)
	if err != nil {
		return types.Message{}, err
	}

	_, err = db.conn.Exec("UPDATE rooms SET updated_at = $1 WHERE id = $2", msg.CreatedAt, msg.RoomId)

	return created, err
}

// GetRecentMessages returns the newest limit messages ordered
// oldest-to-newest.
func (db *PgChatRepository) GetRecentMessages(roomId string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.Query(
		"SELECT id, room_id, sender_id, content, created_at, read_at FROM ("+
			"SELECT id, room_id, sender_id, content, created_at, read_at FROM messages "+
			"WHERE room_id = $1 ORDER BY created_at DESC LIMIT $2"+
			") recent ORDER BY created_at ASC",
		roomId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]types.Message, 0, limit)
	for rows.Next() {
		var msg types.Message
		if err = rows.Scan(&msg.Id, &msg.RoomId, &msg.SenderId, &msg.Content, &msg.CreatedAt, &msg.ReadAt); err != nil {
			break
		}

		messages = append(messages, msg)
	}

	return messages, err
}

// MarkMessagesRead sets read_at on every unread message in the room not
// authored by the reader. read_at is never overwritten once set.
func (db *PgChatRepository) MarkMessagesRead(roomId, readerId string, readAt time.Time) (int, error) {
	res, err := db.conn.Exec(
		"UPDATE messages SET read_at = $3 "+
			"WHERE room_id = $1 AND sender_id <> $2 AND read_at IS NULL",
		roomId,
		readerId,
		readAt,
	)
	if err != nil {
		return 0, err
	}

	count, err := res.RowsAffected()
	return int(count), err
}

func (db *PgChatRepository) CreateNotification(n types.Notification) (types.Notification, error) {
	res := db.conn.QueryRow(
		"INSERT INTO notifications (id, recipient_id, title, body, kind, status, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8) "+
			"RETURNING id, recipient_id, title, body, kind, status, created_at, updated_at, read_at",
		n.Id,
		n.RecipientId,
		n.Title,
		n.Body,
		n.Kind,
		types.NotificationUnread,
		time.Now().UTC(),
		time.Now().UTC(),
	)

	var created types.Notification
	err := res.Scan(
		&created.Id,
		&created.RecipientId,
		&created.Title,
		&created.Body,
		&created.Kind,
		&created.Status,
		&created.CreatedAt,
		&created.UpdatedAt,
		&created.ReadAt,
	)

	return created, err
}

func (db *PgChatRepository) GetNotificationById(notificationId string) (types.Notification, error) {
	row := db.conn.QueryRow(
		"SELECT id, recipient_id, title, body, kind, status, created_at, updated_at, read_at "+
			"FROM notifications WHERE id = $1 LIMIT 1",
		notificationId,
	)

	var n types.Notification
	err := row.Scan(
		&n.Id,
		&n.RecipientId,
		&n.Title,
		&n.Body,
		&n.Kind,
		&n.Status,
		&n.CreatedAt,
		&n.UpdatedAt,
		&n.ReadAt,
	)

	return n, err
}

func (db *PgChatRepository) MarkNotificationRead(notificationId string, readAt time.Time) (types.Notification, error) {
	row := db.conn.QueryRow(
		"UPDATE notifications SET status = $2, read_at = COALESCE(read_at, $3), updated_at = $3 "+
			"WHERE id = $1 "+
			"RETURNING id, recipient_id, title, body, kind, status, created_at, updated_at, read_at",
		notificationId,
		types.NotificationRead,
		readAt,
	)

	var n types.Notification
	err := row.Scan(
		&n.Id,
		&n.RecipientId,
		&n.Title,
		&n.Body,
		&n.Kind,
		&n.Status,
		&n.CreatedAt,
		&n.UpdatedAt,
		&n.ReadAt,
	)

	return n, err
}

// MarkAllNotificationsRead marks every unread notification belonging to the
// recipient and returns the affected ids.
func (db *PgChatRepository) MarkAllNotificationsRead(recipientId string, readAt time.Time) ([]string, error) {
	rows, err := db.conn.Query(
		"UPDATE notifications SET status = $2, read_at = COALESCE(read_at, $3), updated_at = $3 "+
			"WHERE recipient_id = $1 AND status = $4 RETURNING id",
		recipientId,
		types.NotificationRead,
		readAt,
		types.NotificationUnread,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids = make([]string, 0)
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			break
		}

		ids = append(ids, id)
	}

	return ids, err
}

func (db *PgChatRepository) DeleteNotification(notificationId string) error {
	_, err := db.conn.Exec("DELETE FROM notifications WHERE id = $1", notificationId)

	return err
}

// SetLastSeen records connection liveness: nil marks the user as currently
// connected, a timestamp marks when they were last seen.
func (db *PgChatRepository) SetLastSeen(userId string, lastSeen *time.Time) error {
	_, err := db.conn.Exec("UPDATE accounts SET last_seen = $2 WHERE id = $1", userId, lastSeen)

	return err
}
