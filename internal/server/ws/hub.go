// Package ws streams odds updates and resolution summaries from the signal
// bus to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10

	maxControlSize = 4096
	outboxSize     = 256
)

// busChannels are the signal bus channels the hub listens on.
var busChannels = []string{domain.ChannelOddsPattern, domain.ChannelResolutions}

// Config carries the hub's runtime metadata and origin policy.
type Config struct {
	Mode      string
	StartedAt time.Time
	// AllowedOrigins restricts browser upgrades; empty or "*" allows any.
	AllowedOrigins []string
}

// Hub fans signal bus messages out to connected clients, filtered by each
// client's topic subscriptions.
type Hub struct {
	bus       domain.SignalBus
	logger    *slog.Logger
	mode      string
	startedAt time.Time
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// frame is a rendered message ready for delivery on topic.
type frame struct {
	topic string
	data  []byte
}

// NewHub creates a hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	h := &Hub{
		bus:       bus,
		logger:    logger.With(slog.String("component", "ws_hub")),
		mode:      mode,
		startedAt: startedAt,
		clients:   make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// Run subscribes to the bus and delivers messages until ctx is cancelled,
// then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	feeds, err := h.subscribe(ctx)
	if err != nil {
		return err
	}
	h.pump(ctx, feeds)
	return ctx.Err()
}

func (h *Hub) subscribe(ctx context.Context) (map[string]<-chan []byte, error) {
	feeds := make(map[string]<-chan []byte, len(busChannels))
	for _, ch := range busChannels {
		sub, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			return nil, fmt.Errorf("ws: subscribe %s: %w", ch, err)
		}
		feeds[ch] = sub
	}
	h.logger.Info("ws: subscribed to bus", slog.Any("channels", busChannels))
	return feeds, nil
}

// pump merges the bus feeds and broadcasts each message.
func (h *Hub) pump(ctx context.Context, feeds map[string]<-chan []byte) {
	defer h.closeAll()

	odds, resolutions := feeds[domain.ChannelOddsPattern], feeds[domain.ChannelResolutions]
	for odds != nil || resolutions != nil {
		var (
			source string
			data   []byte
			ok     bool
		)
		select {
		case <-ctx.Done():
			return
		case data, ok = <-odds:
			source = domain.ChannelOddsPattern
			if !ok {
				odds = nil
				h.logger.Warn("ws: odds feed closed")
				continue
			}
		case data, ok = <-resolutions:
			source = domain.ChannelResolutions
			if !ok {
				resolutions = nil
				h.logger.Warn("ws: resolutions feed closed")
				continue
			}
		}

		f, err := render(source, data)
		if err != nil {
			h.logger.Warn("ws: dropping malformed message",
				slog.String("channel", source),
				slog.String("error", err.Error()),
			)
			continue
		}
		h.broadcast(f)
	}
}

// render wraps a bus payload for clients. Odds updates arrive on the odds
// pattern and are addressed to the concrete per-poll topic.
func render(source string, data []byte) (frame, error) {
	topic, kind := source, "resolution"
	if source == domain.ChannelOddsPattern {
		var head struct {
			PollID string `json:"poll_id"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			return frame{}, err
		}
		if head.PollID == "" {
			return frame{}, fmt.Errorf("odds update without poll_id")
		}
		topic, kind = domain.OddsChannel(head.PollID), "odds"
	}
	out, err := json.Marshal(map[string]any{
		"type":    kind,
		"channel": topic,
		"payload": json.RawMessage(data),
	})
	if err != nil {
		return frame{}, err
	}
	return frame{topic: topic, data: out}, nil
}

func (h *Hub) broadcast(f frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(f.topic) {
			continue
		}
		if !c.enqueue(f.data) {
			h.logger.Warn("ws: dropping message for slow client",
				slog.String("channel", f.topic),
				slog.String("remote", c.remote),
			)
		}
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.outbox)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client disconnected",
		slog.String("remote", c.remote),
		slog.Int("total_clients", n),
	)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.outbox)
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and streams subscribed topics until the
// client goes away. The polls query parameter (comma separated poll IDs)
// narrows odds updates to those polls; without it a client receives every
// poll's odds. Resolution summaries are always delivered.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(conn, r.RemoteAddr, initialTopics(r.URL.Query().Get("polls")))
	c.enqueue(h.status(c))
	if !h.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.logger.Info("ws: client connected",
		slog.String("remote", c.remote),
		slog.Int("total_clients", h.clientCount()),
	)

	go c.writeLoop()
	c.readLoop(h.logger)
	h.remove(c)
}

// status is the first frame a client receives.
func (h *Hub) status(c *client) []byte {
	msg, _ := json.Marshal(map[string]any{
		"type": "engine_status",
		"payload": map[string]any{
			"mode":           h.mode,
			"uptime_seconds": max(int64(time.Since(h.startedAt).Seconds()), 0),
			"channels":       c.topicList(),
		},
	})
	return msg
}

// initialTopics maps a comma separated poll list to subscription topics.
func initialTopics(polls string) []string {
	topics := []string{domain.ChannelResolutions}
	var ids []string
	for id := range strings.SplitSeq(polls, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return append(topics, domain.ChannelOddsPattern)
	}
	for _, id := range ids {
		topics = append(topics, domain.OddsChannel(id))
	}
	return topics
}
