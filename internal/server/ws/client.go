package ws

import (
	"encoding/json"
	"log/slog"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

// control is a subscription change sent by a client, e.g.
// {"op":"subscribe","polls":["poll-1"]} or
// {"op":"unsubscribe","channels":["resolutions"]}.
type control struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
	Polls    []string `json:"polls"`
}

func (m control) topics() []string {
	out := slices.Clone(m.Channels)
	for _, id := range m.Polls {
		out = append(out, domain.OddsChannel(id))
	}
	return out
}

type client struct {
	conn   *websocket.Conn
	remote string
	outbox chan []byte

	mu     sync.RWMutex
	topics map[string]struct{}
}

func newClient(conn *websocket.Conn, remote string, topics []string) *client {
	c := &client{
		conn:   conn,
		remote: remote,
		outbox: make(chan []byte, outboxSize),
		topics: make(map[string]struct{}, len(topics)),
	}
	for _, t := range topics {
		c.topics[t] = struct{}{}
	}
	return c
}

// wants reports whether topic matches one of the client's subscriptions.
// Subscriptions may be path.Match globs such as "odds:*".
func (c *client) wants(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.topics[topic]; ok {
		return true
	}
	for sub := range c.topics {
		if ok, _ := path.Match(sub, topic); ok {
			return true
		}
	}
	return false
}

func (c *client) topicList() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// apply updates the subscription set. Unknown ops are ignored.
func (c *client) apply(m control) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch m.Op {
	case "subscribe":
		for _, t := range m.topics() {
			if _, err := path.Match(t, ""); err == nil {
				c.topics[t] = struct{}{}
			}
		}
	case "unsubscribe":
		for _, t := range m.topics() {
			delete(c.topics, t)
		}
	}
}

// enqueue hands data to the write loop without blocking. Callers other than
// the connecting handler must hold the hub lock so the outbox cannot be
// closed underneath them.
func (c *client) enqueue(data []byte) bool {
	select {
	case c.outbox <- data:
		return true
	default:
		return false
	}
}

func (c *client) readLoop(logger *slog.Logger) {
	c.conn.SetReadLimit(maxControlSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("ws: unexpected close",
					slog.String("remote", c.remote),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		var m control
		if err := json.Unmarshal(raw, &m); err != nil {
			logger.Debug("ws: ignoring malformed control message", slog.String("remote", c.remote))
			continue
		}
		c.apply(m)
	}
}

// writeLoop drains the outbox and keeps the connection alive with pings. It
// exits once the hub closes the outbox or a write fails.
func (c *client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.outbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
