package types

import (
	"time"
)

// Role is the privilege level of an authenticated identity. Roles are
// ordered so privilege comparisons can use AtLeast.
type Role string

const (
	RoleGuest     Role = "guest"
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

var roleRank = map[Role]int{
	RoleGuest:     0,
	RoleUser:      1,
	RoleModerator: 2,
	RoleAdmin:     3,
}

func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// Capability tokens carried by a permission set.
const (
	CapChatSend            = "chat.send"
	CapChatRead            = "chat.read"
	CapNotificationsRecv   = "notifications.receive"
	CapNotificationsManage = "notifications.manage"
)

// PermissionSet is either an explicit set of capability tokens or the
// sentinel "all".
type PermissionSet struct {
	all  bool
	caps map[string]struct{}
}

func NewPermissionSet(caps ...string) PermissionSet {
	ps := PermissionSet{caps: make(map[string]struct{}, len(caps))}
	for _, c := range caps {
		ps.caps[c] = struct{}{}
	}
	return ps
}

func AllPermissions() PermissionSet {
	return PermissionSet{all: true}
}

func (p PermissionSet) Has(capability string) bool {
	if p.all {
		return true
	}
	_, ok := p.caps[capability]
	return ok
}

func (p PermissionSet) IsAll() bool {
	return p.all
}

// DefaultPermissions synthesizes a permission set from a role. Every role,
// including guest, can receive notifications.
func DefaultPermissions(role Role) PermissionSet {
	switch role {
	case RoleAdmin, RoleModerator:
		return AllPermissions()
	case RoleUser:
		return NewPermissionSet(CapChatSend, CapChatRead, CapNotificationsRecv, CapNotificationsManage)
	default:
		return NewPermissionSet(CapChatRead, CapNotificationsRecv)
	}
}

// Identity is the authenticated subject of a connection. Immutable for the
// connection's lifetime.
type Identity struct {
	Id          string        `json:"id"`
	Role        Role          `json:"role"`
	Permissions PermissionSet `json:"-"`
}

type User struct {
	Id        string     `json:"id"`
	Username  string     `json:"username"`
	Role      Role       `json:"role"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	CreatedAt time.Time  `json:"created_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at,omitempty"`
}

// Room is an exclusive two-party conversation container. Exactly one room
// exists per unordered participant pair.
type Room struct {
	Id           string    `json:"id"`
	ParticipantA string    `json:"participant_a"`
	ParticipantB string    `json:"participant_b"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// OtherParticipant returns the counterpart of userId in the room, or "" if
// userId is not a participant.
func (r Room) OtherParticipant(userId string) string {
	switch userId {
	case r.ParticipantA:
		return r.ParticipantB
	case r.ParticipantB:
		return r.ParticipantA
	default:
		return ""
	}
}

func (r Room) HasParticipant(userId string) bool {
	return userId == r.ParticipantA || userId == r.ParticipantB
}

type Message struct {
	Id        string     `json:"id"`
	RoomId    string     `json:"room_id"`
	SenderId  string     `json:"sender_id"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

type NotificationStatus string

const (
	NotificationUnread   NotificationStatus = "unread"
	NotificationRead     NotificationStatus = "read"
	NotificationArchived NotificationStatus = "archived"
)

type Notification struct {
	Id          string             `json:"id"`
	RecipientId string             `json:"recipient_id"`
	Title       string             `json:"title"`
	Body        string             `json:"body"`
	Kind        string             `json:"kind"`
	Status      NotificationStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	ReadAt      *time.Time         `json:"read_at,omitempty"`
}
