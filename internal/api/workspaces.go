package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talkto-ai/talkto/internal/store"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := s.store.ListWorkspaces(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "workspace listing failed")
		return
	}
	writeJSON(w, http.StatusOK, workspaces)
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	var req struct {
		Name        string `json:"name"`
		Slug        string `json:"slug"`
		Description string `json:"description"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Slug == "" {
		req.Slug = strings.ToLower(strings.ReplaceAll(req.Name, " ", "-"))
	}

	ws := &store.Workspace{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Slug:        req.Slug,
		Type:        "shared",
		Description: req.Description,
		CreatedBy:   identity.UserID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateWorkspace(r.Context(), ws); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "workspace slug already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "workspace creation failed")
		return
	}
	if identity.UserID != "" {
		_ = s.store.AddWorkspaceMember(r.Context(), &store.WorkspaceMember{
			WorkspaceID: ws.ID,
			UserID:      identity.UserID,
			Role:        "admin",
			JoinedAt:    time.Now().UTC(),
		})
	}
	writeJSON(w, http.StatusCreated, ws)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	members, err := s.store.ListWorkspaceMembers(r.Context(), identity.WorkspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "member listing failed")
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	keys, err := s.store.ListAPIKeys(r.Context(), identity.WorkspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "key listing failed")
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// handleCreateKey mints a workspace API key. The plaintext appears only in
// this response.
func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	var req struct {
		Name      string     `json:"name"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	plaintext, key, err := s.auth.CreateAPIKey(r.Context(), identity.WorkspaceID, req.Name, identity.UserID, req.ExpiresAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "key creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":       key,
		"plaintext": plaintext,
	})
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	keyID := chi.URLParam(r, "keyID")

	keys, err := s.store.ListAPIKeys(r.Context(), identity.WorkspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "key lookup failed")
		return
	}
	found := false
	for _, k := range keys {
		if k.ID == keyID {
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	if err := s.store.RevokeAPIKey(r.Context(), keyID); err != nil {
		writeError(w, http.StatusInternalServerError, "key revocation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	invites, err := s.store.ListInvites(r.Context(), identity.WorkspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "invite listing failed")
		return
	}
	writeJSON(w, http.StatusOK, invites)
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	var req struct {
		Role      string     `json:"role"`
		MaxUses   *int       `json:"max_uses"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = "member"
	}
	if req.Role != "admin" && req.Role != "member" {
		writeError(w, http.StatusBadRequest, "role must be admin or member")
		return
	}

	invite, err := s.auth.CreateInvite(r.Context(), identity.WorkspaceID, req.Role, req.MaxUses, req.ExpiresAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "invite creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, invite)
}

func (s *Server) handleRevokeInvite(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	inviteID := chi.URLParam(r, "inviteID")

	invites, err := s.store.ListInvites(r.Context(), identity.WorkspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "invite lookup failed")
		return
	}
	found := false
	for _, inv := range invites {
		if inv.ID == inviteID {
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "invite not found")
		return
	}
	if err := s.store.RevokeInvite(r.Context(), inviteID); err != nil {
		writeError(w, http.StatusInternalServerError, "invite revocation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
