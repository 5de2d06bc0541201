package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talkto-ai/talkto/internal/store"
	"github.com/talkto-ai/talkto/pkg/protocol"

	"github.com/go-chi/chi/v5"
)

// channelInWorkspace loads a channel and enforces the workspace boundary.
// Cross-workspace ids look like missing ids to the caller.
func (s *Server) channelInWorkspace(w http.ResponseWriter, r *http.Request) *store.Channel {
	identity := identityFrom(r.Context())
	ch, err := s.store.GetChannel(r.Context(), chi.URLParam(r, "channelID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "channel lookup failed")
		return nil
	}
	if ch == nil || identity == nil || ch.WorkspaceID != identity.WorkspaceID {
		writeError(w, http.StatusNotFound, "channel not found")
		return nil
	}
	return ch
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	channels, err := s.store.ListChannels(r.Context(), identity.WorkspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "channel listing failed")
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	identity := s.requireUser(w, r)
	if identity == nil {
		return
	}
	var req struct {
		Name  string `json:"name"`
		Topic string `json:"topic"`
		Type  string `json:"type"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !strings.HasPrefix(req.Name, "#") {
		req.Name = "#" + req.Name
	}
	if req.Type == "" {
		req.Type = "custom"
	}
	switch req.Type {
	case "general", "project", "custom":
	default:
		writeError(w, http.StatusBadRequest, "invalid channel type")
		return
	}

	ch := &store.Channel{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Type:        req.Type,
		Topic:       req.Topic,
		WorkspaceID: identity.WorkspaceID,
		CreatedBy:   identity.UserID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateChannel(r.Context(), ch); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "channel "+req.Name+" already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "channel creation failed")
		return
	}
	if err := s.store.AddChannelMember(r.Context(), ch.ID, identity.UserID); err != nil {
		s.logger.Warn("creator auto-join failed", "channel", ch.Name, "error", err)
	}

	s.broadcast(protocol.EventChannelCreated, ch, ch.WorkspaceID, "")
	writeJSON(w, http.StatusCreated, ch)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch := s.channelInWorkspace(w, r)
	if ch == nil {
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleChannelAnalytics(w http.ResponseWriter, r *http.Request) {
	ch := s.channelInWorkspace(w, r)
	if ch == nil {
		return
	}
	stats, err := s.store.ChannelAnalytics(r.Context(), ch.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "analytics query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel_id":    ch.ID,
		"channel_name":  ch.Name,
		"message_count": stats.MessageCount,
		"sender_count":  stats.SenderCount,
		"last_activity": stats.LastActivity,
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	identity := s.requireUser(w, r)
	if identity == nil {
		return
	}
	ch := s.channelInWorkspace(w, r)
	if ch == nil {
		return
	}
	if err := s.store.UpsertReadReceipt(r.Context(), identity.UserID, ch.ID, time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, "read receipt update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}
