// Package ws manages browser WebSocket connections and fans hub events out
// to them, scoped by workspace and optional channel subscriptions.
package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talkto-ai/talkto/pkg/protocol"
)

const (
	// Inbound control frames are limited to rateLimitFrames per
	// rateLimitWindow per client; excess frames are dropped with an error
	// event.
	rateLimitFrames = 30
	rateLimitWindow = 10 * time.Second

	maxFrameBytes = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The hub serves localhost and LAN browsers; same-origin enforcement
	// happens at the auth layer, not the socket handshake.
	CheckOrigin: func(*http.Request) bool { return true },
}

type client struct {
	id          int64
	workspaceID string
	userID      string
	conn        *websocket.Conn
	mu          sync.Mutex // serializes writes to conn

	subscribed map[string]struct{} // empty = subscribed to all channels
	frameTimes []time.Time         // sliding window for the inbound rate limit
}

// writeEvent sends one envelope; the per-client mutex keeps concurrent
// broadcasts from interleaving frames.
func (c *client) writeEvent(env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(env)
}

// allowFrame applies the sliding-window rate limit.
func (c *client) allowFrame(now time.Time) bool {
	cutoff := now.Add(-rateLimitWindow)
	kept := c.frameTimes[:0]
	for _, t := range c.frameTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.frameTimes = kept
	if len(c.frameTimes) >= rateLimitFrames {
		return false
	}
	c.frameTimes = append(c.frameTimes, now)
	return true
}

// Manager owns all connected clients.
type Manager struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[int64]*client
	nextID  int64
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger:  logger.With("component", "ws"),
		clients: make(map[int64]*client),
	}
}

// Handle upgrades the request and serves the client until it disconnects.
// Identity has already been resolved by the caller.
func (m *Manager) Handle(w http.ResponseWriter, r *http.Request, workspaceID, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	id := m.accept(conn, workspaceID, userID)
	m.logger.Debug("client connected", "client_id", id, "workspace_id", workspaceID)
	m.readLoop(id)
}

func (m *Manager) accept(conn *websocket.Conn, workspaceID, userID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c := &client{
		id:          m.nextID,
		workspaceID: workspaceID,
		userID:      userID,
		conn:        conn,
		subscribed:  make(map[string]struct{}),
	}
	m.clients[c.id] = c
	return c.id
}

func (m *Manager) remove(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[id]; ok {
		c.conn.Close()
		delete(m.clients, id)
	}
}

// ClientCount reports the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Subscribe narrows a client's fan-out to the given channel ids.
func (m *Manager) Subscribe(id int64, channels []string) {
	m.mu.RLock()
	c, ok := m.clients[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	c.mu.Lock()
	for _, ch := range channels {
		c.subscribed[ch] = struct{}{}
	}
	c.mu.Unlock()
}

// Unsubscribe removes channels from a client's subscription set.
func (m *Manager) Unsubscribe(id int64, channels []string) {
	m.mu.RLock()
	c, ok := m.clients[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subscribed, ch)
	}
	c.mu.Unlock()
}

// Broadcast fans an event out to every client in the workspace (all
// workspaces if workspaceID is empty). When channelID is set, clients with a
// non-empty subscription set that excludes the channel are skipped; an empty
// set means subscribe-to-all.
func (m *Manager) Broadcast(env protocol.Envelope, workspaceID, channelID string) {
	m.mu.RLock()
	targets := make([]*client, 0, len(m.clients))
	for _, c := range m.clients {
		if workspaceID != "" && c.workspaceID != workspaceID {
			continue
		}
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	var dead []int64
	for _, c := range targets {
		if channelID != "" && !m.wantsChannel(c, channelID) {
			continue
		}
		if err := c.writeEvent(env); err != nil {
			dead = append(dead, c.id)
		}
	}
	// Dead clients are reaped after the iteration; no separate sweeper runs.
	for _, id := range dead {
		m.logger.Debug("dropping dead client", "client_id", id)
		m.remove(id)
	}
}

// BroadcastToChannel sends only to clients subscribed to the channel,
// optionally excluding one client (used for narrow echoes).
func (m *Manager) BroadcastToChannel(channelID string, env protocol.Envelope, exclude int64) {
	m.mu.RLock()
	targets := make([]*client, 0, len(m.clients))
	for _, c := range m.clients {
		if c.id == exclude {
			continue
		}
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	var dead []int64
	for _, c := range targets {
		if !m.wantsChannel(c, channelID) {
			continue
		}
		if err := c.writeEvent(env); err != nil {
			dead = append(dead, c.id)
		}
	}
	for _, id := range dead {
		m.remove(id)
	}
}

func (m *Manager) wantsChannel(c *client, channelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subscribed) == 0 {
		return true
	}
	_, ok := c.subscribed[channelID]
	return ok
}

// readLoop consumes control frames from one client until the socket closes.
func (m *Manager) readLoop(id int64) {
	defer m.remove(id)

	m.mu.RLock()
	c, ok := m.clients[id]
	m.mu.RUnlock()
	if !ok {
		return
	}

	for {
		var frame protocol.ControlFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Debug("client read error", "client_id", id, "error", err)
			}
			return
		}

		c.mu.Lock()
		allowed := c.allowFrame(time.Now())
		c.mu.Unlock()
		if !allowed {
			_ = c.writeEvent(protocol.Envelope{
				Type: protocol.EventError,
				Data: protocol.Error{Detail: "rate limit exceeded"},
			})
			continue
		}

		switch frame.Type {
		case protocol.ControlSubscribe:
			m.Subscribe(id, frame.Channels)
			_ = c.writeEvent(protocol.Envelope{
				Type: protocol.EventSubscribed,
				Data: protocol.Subscription{Channels: frame.Channels},
			})
		case protocol.ControlUnsubscribe:
			m.Unsubscribe(id, frame.Channels)
			_ = c.writeEvent(protocol.Envelope{
				Type: protocol.EventUnsubscribed,
				Data: protocol.Subscription{Channels: frame.Channels},
			})
		case protocol.ControlPing:
			_ = c.writeEvent(protocol.Envelope{
				Type: protocol.EventPong,
				Data: protocol.Pong{Time: time.Now().UTC()},
			})
		default:
			_ = c.writeEvent(protocol.Envelope{
				Type: protocol.EventError,
				Data: protocol.Error{Detail: "unknown frame type"},
			})
		}
	}
}
