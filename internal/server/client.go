package server

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatcore/internal/stats"
	"chatcore/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096

	// inactivityCeiling caps how long a connection may idle without sending
	// an application event before the server disconnects it. Transport pings
	// keep the socket healthy but do not count as activity.
	inactivityCeiling = 30 * time.Minute
)

const (
	NamespaceChat          = "chat"
	NamespaceNotifications = "notifications"
)

type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	identity   types.Identity
	namespace  string
	connId     string
	send       chan *ServerEvent
	// subs is guarded by the registry mutex.
	subs     map[string]struct{}
	stop     chan struct{}
	stopOnce sync.Once
	// closeReason is written once before stop is closed and read by the
	// write pump after stop fires.
	closeReason  string
	lastActivity atomic.Int64
}

func NewClient(identity types.Identity, namespace string, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	c := &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		identity:   identity,
		namespace:  namespace,
		connId:     uuid.NewString(),
		send:       make(chan *ServerEvent, 256),
		subs:       make(map[string]struct{}),
		stop:       make(chan struct{}),
	}
	c.touch()

	return c
}

func (c *Client) key() string {
	return c.identity.Id + "/" + c.namespace
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("write exiting for %q", c.connId)
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(ev)
			if err != nil {
				c.log.Println("failed to serialize event:", err)
				continue
			}

			if !c.writeFrame(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.closeReason))
			return
		case <-ticker.C:
			if c.idleFor() > inactivityCeiling {
				c.log.Printf("disconnecting %q after %s of inactivity", c.connId, inactivityCeiling)
				c.chatServer.stats.Incr(stats.InactivityDisconnects)
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "idle timeout"))
				return
			}

			if !c.writeFrame(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Printf("read exiting for %q", c.connId)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var ev ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Println("error parsing event:", err)
			c.queueEvent(ErrValidationEvent(-1, "malformed event"))
			continue
		}

		c.touch()
		ev.client = c

		if !c.chatServer.handleEvent(&ev) {
			break
		}
	}
}

func (c *Client) queueEvent(ev *ServerEvent) bool {
	select {
	case c.send <- ev:
	default:
		c.log.Printf("send buffer full for %q, dropping event", c.connId)
		return false
	}

	return true
}

func (c *Client) writeFrame(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient(reason string) {
	c.stopOnce.Do(func() {
		c.closeReason = reason
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.disconnect(c)
	c.stopClient("connection closed")
}
