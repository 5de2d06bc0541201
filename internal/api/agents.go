package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/talkto-ai/talkto/internal/store"

	"github.com/go-chi/chi/v5"
)

// agentView is an agent row plus the advisory liveness flag.
type agentView struct {
	store.Agent
	IsGhost bool `json:"is_ghost"`
}

func (s *Server) agentViews(agents []store.Agent) []agentView {
	out := make([]agentView, 0, len(agents))
	for _, a := range agents {
		v := agentView{Agent: a}
		if s.ghosts != nil {
			v.IsGhost = s.ghosts.IsGhost(a.ID)
		}
		out = append(out, v)
	}
	return out
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	agents, err := s.store.ListAgents(r.Context(), identity.WorkspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "agent listing failed")
		return
	}
	writeJSON(w, http.StatusOK, s.agentViews(agents))
}

// agentInWorkspace resolves the routed agent name within the caller's
// workspace; agents of other workspaces are invisible.
func (s *Server) agentInWorkspace(w http.ResponseWriter, r *http.Request) *store.Agent {
	identity := identityFrom(r.Context())
	agent, err := s.store.GetAgentByName(r.Context(), chi.URLParam(r, "agentName"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "agent lookup failed")
		return nil
	}
	if agent == nil || identity == nil || agent.WorkspaceID != identity.WorkspaceID {
		writeError(w, http.StatusNotFound, "agent not found")
		return nil
	}
	return agent
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent := s.agentInWorkspace(w, r)
	if agent == nil {
		return
	}
	v := agentView{Agent: *agent}
	if s.ghosts != nil {
		v.IsGhost = s.ghosts.IsGhost(agent.ID)
	}
	writeJSON(w, http.StatusOK, v)
}

// handleAgentDM creates, or returns the existing, #dm-<agent> channel and
// ensures both parties are members.
func (s *Server) handleAgentDM(w http.ResponseWriter, r *http.Request) {
	identity := s.requireUser(w, r)
	if identity == nil {
		return
	}
	agent := s.agentInWorkspace(w, r)
	if agent == nil {
		return
	}

	ctx := r.Context()
	name := "#dm-" + agent.AgentName
	ch, err := s.store.GetChannelByName(ctx, identity.WorkspaceID, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "channel lookup failed")
		return
	}
	if ch != nil {
		_ = s.store.AddChannelMember(ctx, ch.ID, identity.UserID)
		writeJSON(w, http.StatusOK, ch)
		return
	}

	ch = &store.Channel{
		ID:          uuid.NewString(),
		Name:        name,
		Type:        "dm",
		WorkspaceID: identity.WorkspaceID,
		CreatedBy:   identity.UserID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateChannel(ctx, ch); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost a create race; the existing channel wins.
			if existing, gerr := s.store.GetChannelByName(ctx, identity.WorkspaceID, name); gerr == nil && existing != nil {
				writeJSON(w, http.StatusOK, existing)
				return
			}
		}
		writeError(w, http.StatusInternalServerError, "dm channel creation failed")
		return
	}
	_ = s.store.AddChannelMember(ctx, ch.ID, identity.UserID)
	_ = s.store.AddChannelMember(ctx, ch.ID, agent.ID)

	writeJSON(w, http.StatusCreated, ch)
}
