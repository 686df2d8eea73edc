package server

import (
	"encoding/json"
	"log"
	"sync"

	"chatcore/internal/backplane"
	"chatcore/internal/stats"
)

// Registry tracks the active connection per identity and namespace, and
// which channels each connection receives. A second connection for the same
// identity and namespace evicts the first.
type Registry struct {
	log      *log.Logger
	bp       backplane.Backplane
	stats    stats.Provider
	mu       sync.Mutex
	conns    map[string]*Client
	channels map[string]map[*Client]struct{}
}

func NewRegistry(logger *log.Logger, bp backplane.Backplane, sp stats.Provider) *Registry {
	return &Registry{
		log:      logger,
		bp:       bp,
		stats:    sp,
		conns:    make(map[string]*Client),
		channels: make(map[string]map[*Client]struct{}),
	}
}

// Register installs c as the active connection for its identity and
// namespace. The evicted prior connection, if any, is returned after being
// detached and stopped.
func (r *Registry) Register(c *Client) *Client {
	r.mu.Lock()
	prev := r.conns[c.key()]
	r.conns[c.key()] = c
	if prev != nil {
		r.detachLocked(prev)
	}
	r.mu.Unlock()

	r.stats.Incr(stats.ActiveConnections)

	if prev != nil {
		r.log.Printf("evicting previous connection %q for %q", prev.connId, c.identity.Id)
		prev.stopClient("replaced")
	}

	return prev
}

// Unregister removes c unless a newer connection for the same identity and
// namespace has already replaced it.
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	if r.conns[c.key()] == c {
		delete(r.conns, c.key())
	}
	r.detachLocked(c)
	r.mu.Unlock()

	r.stats.Decr(stats.ActiveConnections)
}

func (r *Registry) detachLocked(c *Client) {
	for name := range c.subs {
		if set, ok := r.channels[name]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(r.channels, name)
			}
		}
	}
}

func (r *Registry) Subscribe(c *Client, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.channels[channel]
	if !ok {
		set = make(map[*Client]struct{})
		r.channels[channel] = set
	}
	set[c] = struct{}{}
	c.subs[channel] = struct{}{}
}

func (r *Registry) Unsubscribe(c *Client, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.channels[channel]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.channels, channel)
		}
	}
	delete(c.subs, channel)
}

func (r *Registry) Lookup(identityId, namespace string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[identityId+"/"+namespace]
}

// Snapshot returns all registered connections.
func (r *Registry) Snapshot() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		clients = append(clients, c)
	}

	return clients
}

// Broadcast delivers ev to every local subscriber of channel and forwards it
// to the backplane for peers.
func (r *Registry) Broadcast(channel string, ev *ServerEvent) {
	r.broadcastLocal(channel, ev)

	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Println("failed to serialize event for backplane:", err)
		return
	}

	if err := r.bp.Publish(backplane.Envelope{Channel: channel, Payload: payload}); err != nil {
		r.log.Println("backplane publish:", err)
	}
}

func (r *Registry) broadcastLocal(channel string, ev *ServerEvent) {
	r.mu.Lock()
	targets := make([]*Client, 0, len(r.channels[channel]))
	for c := range r.channels[channel] {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		c.queueEvent(ev)
	}
}

// HandleRemote replays an event published by a peer process to local
// subscribers only.
func (r *Registry) HandleRemote(env backplane.Envelope) {
	var ev ServerEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		r.log.Println("failed to parse backplane event:", err)
		return
	}

	r.broadcastLocal(env.Channel, &ev)
}
