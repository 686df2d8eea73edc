package server

import (
	"log"
	"time"

	"chatcore/internal/database"
)

// livenessThreshold is how recent a heartbeat must be for a user to count as
// online. A null last_seen means the user is connected right now.
const livenessThreshold = 30 * time.Second

// PresenceTracker maintains each user's last_seen column. While a user is
// connected the column is null; on disconnect it is stamped with the
// disconnect time.
type PresenceTracker struct {
	log *log.Logger
	db  database.ChatRepository

	now func() time.Time
}

func NewPresenceTracker(logger *log.Logger, db database.ChatRepository) *PresenceTracker {
	return &PresenceTracker{
		log: logger,
		db:  db,
		now: time.Now,
	}
}

func (p *PresenceTracker) HandleConnect(userId string) {
	if err := p.db.SetLastSeen(userId, nil); err != nil {
		p.log.Printf("failed to clear last seen for %q: %s", userId, err)
	}
}

func (p *PresenceTracker) HandleDisconnect(userId string) {
	now := p.now().UTC()
	if err := p.db.SetLastSeen(userId, &now); err != nil {
		p.log.Printf("failed to set last seen for %q: %s", userId, err)
	}
}

// Heartbeat refreshes last_seen for connections that signal activity without
// disconnecting, such as application-level pings.
func (p *PresenceTracker) Heartbeat(userId string) {
	now := p.now().UTC()
	if err := p.db.SetLastSeen(userId, &now); err != nil {
		p.log.Printf("failed to refresh last seen for %q: %s", userId, err)
	}
}

// IsOnline reports whether a user with the given last_seen value counts as
// online: either currently connected (nil) or seen within the liveness
// threshold.
func (p *PresenceTracker) IsOnline(lastSeen *time.Time) bool {
	if lastSeen == nil {
		return true
	}

	return p.now().Sub(*lastSeen) < livenessThreshold
}
