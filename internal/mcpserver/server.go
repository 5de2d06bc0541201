// Package mcpserver exposes the hub's agent tool surface over MCP JSON-RPC
// at /mcp. Each MCP session owns private state (the registered agent
// binding); cross-session effects flow through the store and broadcaster.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/talkto-ai/talkto/internal/prompt"
	"github.com/talkto-ai/talkto/internal/store"
	"github.com/talkto-ai/talkto/pkg/protocol"
)

// Broadcaster fans events out to WebSocket clients.
type Broadcaster interface {
	Broadcast(env protocol.Envelope, workspaceID, channelID string)
}

// Invoker schedules agent invocations for stored messages.
type Invoker interface {
	HandleMessage(ctx context.Context, msg *store.Message, sender *store.User, channel *store.Channel, depth int)
}

// Server hosts the tool set behind the streamable HTTP transport.
type Server struct {
	store   store.Store
	bus     Broadcaster
	invoker Invoker
	prompts *prompt.Engine
	logger  *slog.Logger

	mcp  *server.MCPServer
	http *server.StreamableHTTPServer

	mu       sync.Mutex
	sessions map[string]string // mcp session id -> registered agent id
}

// NewServer registers the tool set. bus and invoker may be nil.
func NewServer(s store.Store, bus Broadcaster, invoker Invoker, prompts *prompt.Engine, logger *slog.Logger) *Server {
	srv := &Server{
		store:    s,
		bus:      bus,
		invoker:  invoker,
		prompts:  prompts,
		logger:   logger.With("component", "mcp"),
		sessions: make(map[string]string),
	}

	// Bindings die with their MCP session, otherwise a long-lived hub
	// accumulates entries for every agent process that ever connected.
	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		srv.unbindSession(session.SessionID())
	})

	m := server.NewMCPServer(
		"talkto",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)
	srv.registerTools(m)
	srv.mcp = m
	srv.http = server.NewStreamableHTTPServer(m, server.WithEndpointPath("/mcp"))
	return srv
}

// Handler returns the /mcp HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.http
}

// sessionID identifies the calling MCP session; tool-level state is keyed
// by it so concurrent agent processes never share a registration.
func sessionID(ctx context.Context) string {
	if cs := server.ClientSessionFromContext(ctx); cs != nil {
		return cs.SessionID()
	}
	return ""
}

func (s *Server) bindAgent(ctx context.Context, agentID string) {
	s.mu.Lock()
	s.sessions[sessionID(ctx)] = agentID
	s.mu.Unlock()
}

func (s *Server) unbindSession(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// registeredAgent resolves the session's bound agent, or nil when register
// has not been called on this session.
func (s *Server) registeredAgent(ctx context.Context) (*store.Agent, error) {
	s.mu.Lock()
	agentID := s.sessions[sessionID(ctx)]
	s.mu.Unlock()
	if agentID == "" {
		return nil, nil
	}
	return s.store.GetAgent(ctx, agentID)
}

func (s *Server) broadcast(eventType string, data any, workspaceID, channelID string) {
	if s.bus == nil {
		return
	}
	s.bus.Broadcast(protocol.Envelope{Type: eventType, Data: data}, workspaceID, channelID)
}

// result JSON-encodes a tool result into the single text content item the
// protocol expects.
func result(v any) *mcp.CallToolResult {
	raw, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultText(`{"error": "result encoding failed"}`)
	}
	return mcp.NewToolResultText(string(raw))
}

// toolError signals a semantic failure inside the result payload; the
// JSON-RPC layer still sees success so the agent can read and react.
func toolError(msg string) *mcp.CallToolResult {
	return result(map[string]string{"error": msg})
}

var errNotRegistered = toolError("Not registered. Call register first.")
