package server

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"chatcore/internal/database"
	"chatcore/internal/ratelimit"
	"chatcore/internal/stats"
	"chatcore/internal/types"
)

// NotificationService delivers notifications to user channels and guards
// per-notification operations with ownership checks. The notification budget
// is soft: exceeding it is logged but delivery proceeds.
type NotificationService struct {
	log      *log.Logger
	db       database.ChatRepository
	registry *Registry
	limiter  ratelimit.Limiter
	stats    stats.Provider
}

func NewNotificationService(logger *log.Logger, db database.ChatRepository, reg *Registry, limiter ratelimit.Limiter, sp stats.Provider) *NotificationService {
	return &NotificationService{
		log:      logger,
		db:       db,
		registry: reg,
		limiter:  limiter,
		stats:    sp,
	}
}

// SendToUser persists a notification for recipientId and pushes it on the
// recipient's channel.
func (ns *NotificationService) SendToUser(recipientId, kind, title, body string) (*types.Notification, error) {
	if _, err := ns.db.GetAccountById(recipientId); err != nil {
		return nil, fmt.Errorf("%w: user %q", ErrNotFound, recipientId)
	}

	if res := ns.limiter.Check(recipientId, ratelimit.ModuleNotifications); res.SoftExceeded {
		ns.log.Printf("notification budget exceeded for %q, delivering anyway", recipientId)
	}

	n, err := ns.db.CreateNotification(types.Notification{
		Id:          uuid.NewString(),
		RecipientId: recipientId,
		Kind:        kind,
		Title:       title,
		Body:        body,
		Status:      types.NotificationUnread,
		CreatedAt:   Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}

	ev := newEvent(0)
	ev.NewNotification = &n
	ns.registry.Broadcast(userChannel(recipientId), ev)

	ns.stats.Incr(stats.NotificationsSent)

	return &n, nil
}

// MarkAsRead marks a single notification read. Only the recipient may do so,
// and re-reading keeps the original read timestamp.
func (ns *NotificationService) MarkAsRead(callerId, notificationId string) (*NotificationUpdate, error) {
	n, err := ns.db.GetNotificationById(notificationId)
	if err != nil {
		return nil, fmt.Errorf("%w: notification %q", ErrNotFound, notificationId)
	}

	if n.RecipientId != callerId {
		return nil, ErrAccessDenied
	}

	updated, err := ns.db.MarkNotificationRead(notificationId, Now())
	if err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}

	update := &NotificationUpdate{
		NotificationId: notificationId,
		Updates:        updated,
		UserId:         callerId,
	}

	ev := newEvent(0)
	ev.NotificationUpdate = update
	ns.registry.Broadcast(userChannel(callerId), ev)

	return update, nil
}

// MarkAllAsRead marks every unread notification for the caller and reports
// which ones were affected. A zero count still broadcasts.
func (ns *NotificationService) MarkAllAsRead(callerId string) (*NotificationsRead, error) {
	ids, err := ns.db.MarkAllNotificationsRead(callerId, Now())
	if err != nil {
		return nil, fmt.Errorf("mark all notifications read: %w", err)
	}

	read := &NotificationsRead{
		UserId:          callerId,
		Count:           len(ids),
		NotificationIds: ids,
	}

	ev := newEvent(0)
	ev.NotificationsRead = read
	ns.registry.Broadcast(userChannel(callerId), ev)

	return read, nil
}

// Delete removes a notification owned by the caller.
func (ns *NotificationService) Delete(callerId, notificationId string) (*NotificationDeleted, error) {
	n, err := ns.db.GetNotificationById(notificationId)
	if err != nil {
		return nil, fmt.Errorf("%w: notification %q", ErrNotFound, notificationId)
	}

	if n.RecipientId != callerId {
		return nil, ErrAccessDenied
	}

	if err := ns.db.DeleteNotification(notificationId); err != nil {
		return nil, fmt.Errorf("delete notification: %w", err)
	}

	deleted := &NotificationDeleted{
		NotificationId: notificationId,
		UserId:         callerId,
	}

	ev := newEvent(0)
	ev.NotificationDeleted = deleted
	ns.registry.Broadcast(userChannel(callerId), ev)

	return deleted, nil
}
