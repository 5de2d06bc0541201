// Package api serves the hub's REST surface and the WebSocket upgrade
// endpoint. Handlers translate domain failures into {detail: "..."} error
// bodies with the conventional status codes.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/talkto-ai/talkto/internal/auth"
	"github.com/talkto-ai/talkto/internal/store"
	"github.com/talkto-ai/talkto/internal/ws"
	"github.com/talkto-ai/talkto/pkg/protocol"
)

// Invoker schedules agent invocations for freshly stored messages.
// Satisfied by *invoke.Engine.
type Invoker interface {
	HandleMessage(ctx context.Context, msg *store.Message, sender *store.User, channel *store.Channel, depth int)
}

// GhostChecker reports agent liveness as of the last sweep.
// Satisfied by *liveness.Sweeper.
type GhostChecker interface {
	IsGhost(agentID string) bool
}

// Options configures the REST server.
type Options struct {
	// Network enables LAN mode: the localhost auth bypass is disabled and
	// every request must carry a session cookie or API key.
	Network           bool
	MaxBodyBytes      int64
	RequestsPerSecond float64
	Burst             int
	AllowedOrigins    []string
}

func (o *Options) applyDefaults() {
	if o.MaxBodyBytes == 0 {
		o.MaxBodyBytes = 1 << 20
	}
	if o.RequestsPerSecond == 0 {
		o.RequestsPerSecond = 20
	}
	if o.Burst == 0 {
		o.Burst = 40
	}
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = []string{"*"}
	}
}

// Server is the hub's HTTP surface.
type Server struct {
	store  store.Store
	auth   *auth.Service
	ws     *ws.Manager
	invoke Invoker
	ghosts GhostChecker
	logger *slog.Logger
	opts   Options

	mux *chi.Mux
	rl  *rateLimiter
}

// NewServer wires the REST routes. invoke and ghosts may be nil; the
// corresponding behaviour (agent dispatch, is_ghost flags) degrades
// gracefully.
func NewServer(s store.Store, authSvc *auth.Service, wsm *ws.Manager, invoker Invoker, ghosts GhostChecker, logger *slog.Logger, opts Options) *Server {
	opts.applyDefaults()
	srv := &Server{
		store:  s,
		auth:   authSvc,
		ws:     wsm,
		invoke: invoker,
		ghosts: ghosts,
		logger: logger.With("component", "api"),
		opts:   opts,
		rl:     newRateLimiter(opts.RequestsPerSecond, opts.Burst),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(opts.AllowedOrigins))

	// Public routes: health, first-human bootstrap, invite acceptance.
	mux.Get("/api/health", srv.handleHealth)
	mux.Post("/api/users/onboard", srv.handleOnboard)
	mux.Post("/api/join/{token}", srv.handleJoin)

	// WebSocket upgrade resolves auth itself (query token or header).
	mux.Get("/ws", srv.handleWS)

	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(rateLimitMiddleware(srv.rl))

		r.Get("/api/auth/me", srv.handleAuthMe)
		r.Post("/api/auth/logout", srv.handleLogout)

		r.Get("/api/users/me", srv.handleGetMe)
		r.Patch("/api/users/me", srv.handleUpdateMe)
		r.Delete("/api/users/me", srv.handleDeleteMe)

		r.Get("/api/channels", srv.handleListChannels)
		r.Post("/api/channels", srv.handleCreateChannel)
		r.Get("/api/channels/{channelID}", srv.handleGetChannel)
		r.Get("/api/channels/{channelID}/analytics", srv.handleChannelAnalytics)
		r.Get("/api/channels/{channelID}/messages", srv.handleListMessages)
		r.Post("/api/channels/{channelID}/messages", srv.handlePostMessage)
		r.Get("/api/channels/{channelID}/messages/pinned", srv.handlePinnedMessages)
		r.Patch("/api/channels/{channelID}/messages/{messageID}", srv.handleEditMessage)
		r.Delete("/api/channels/{channelID}/messages/{messageID}", srv.handleDeleteMessage)
		r.Post("/api/channels/{channelID}/messages/{messageID}/pin", srv.handlePinMessage)
		r.Post("/api/channels/{channelID}/messages/{messageID}/react", srv.handleReactMessage)
		r.Get("/api/channels/{channelID}/messages/{messageID}/reactions", srv.handleListReactions)
		r.Post("/api/channels/{channelID}/read", srv.handleMarkRead)

		r.Get("/api/agents", srv.handleListAgents)
		r.Get("/api/agents/{agentName}", srv.handleGetAgent)
		r.Post("/api/agents/{agentName}/dm", srv.handleAgentDM)

		r.Get("/api/features", srv.handleListFeatures)
		r.Post("/api/features", srv.handleCreateFeature)
		r.Post("/api/features/{featureID}/vote", srv.handleVoteFeature)

		r.Get("/api/search", srv.handleSearch)

		r.Group(func(r chi.Router) {
			r.Use(srv.adminMiddleware)
			r.Get("/api/workspaces", srv.handleListWorkspaces)
			r.Post("/api/workspaces", srv.handleCreateWorkspace)
			r.Get("/api/workspaces/members", srv.handleListMembers)
			r.Get("/api/workspaces/keys", srv.handleListKeys)
			r.Post("/api/workspaces/keys", srv.handleCreateKey)
			r.Delete("/api/workspaces/keys/{keyID}", srv.handleRevokeKey)
			r.Get("/api/workspaces/invites", srv.handleListInvites)
			r.Post("/api/workspaces/invites", srv.handleCreateInvite)
			r.Delete("/api/workspaces/invites/{inviteID}", srv.handleRevokeInvite)
		})
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWS upgrades the connection after resolving auth from the query
// token, the Authorization header, or the localhost bypass. The resolved
// (user, workspace) pair is frozen into the client record.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := s.resolveWSIdentity(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	s.ws.Handle(w, r, identity.WorkspaceID, identity.UserID)
}

func (s *Server) resolveWSIdentity(r *http.Request) (*auth.Identity, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		return s.auth.ResolveSession(r.Context(), token)
	}
	return s.resolveIdentity(r)
}

// broadcast is a nil-safe fan-out helper; channelID "" means workspace-wide.
func (s *Server) broadcast(eventType string, data any, workspaceID, channelID string) {
	if s.ws == nil {
		return
	}
	s.ws.Broadcast(protocol.Envelope{Type: eventType, Data: data}, workspaceID, channelID)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
