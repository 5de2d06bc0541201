package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talkto-ai/talkto/internal/auth"
	"github.com/talkto-ai/talkto/internal/store"

	"github.com/go-chi/chi/v5"
)

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// handleOnboard bootstraps the first human of the default workspace. Public:
// it is the only way to obtain the initial session when no human exists yet.
func (s *Server) handleOnboard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		About       string `json:"about"`
		Email       string `json:"email"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	ctx := r.Context()
	existing, err := s.store.GetDefaultHumanAdmin(ctx, store.DefaultWorkspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "onboarding check failed")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "a human operator is already onboarded")
		return
	}

	user := &store.User{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Type:        "human",
		DisplayName: req.DisplayName,
		About:       req.About,
		Email:       req.Email,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		writeError(w, http.StatusConflict, "user name already taken")
		return
	}
	if err := s.store.AddWorkspaceMember(ctx, &store.WorkspaceMember{
		WorkspaceID: store.DefaultWorkspaceID,
		UserID:      user.ID,
		Role:        "admin",
		JoinedAt:    time.Now().UTC(),
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "workspace membership failed")
		return
	}

	token, sess, err := s.auth.CreateSession(ctx, user.ID, store.DefaultWorkspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session creation failed")
		return
	}
	s.setSessionCookie(w, token, sess.ExpiresAt)

	s.logger.Info("human onboarded", "user", user.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":  user,
		"token": token,
	})
}

// handleJoin accepts a workspace invite. Public: the joiner has no
// credentials yet.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	var req struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	ctx := r.Context()
	invite, err := s.auth.AcceptInvite(ctx, token)
	if err != nil {
		writeError(w, http.StatusNotFound, "invite is invalid or exhausted")
		return
	}

	user := &store.User{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Type:        "human",
		DisplayName: req.DisplayName,
		Email:       req.Email,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		writeError(w, http.StatusConflict, "user name already taken")
		return
	}
	if err := s.store.AddWorkspaceMember(ctx, &store.WorkspaceMember{
		WorkspaceID: invite.WorkspaceID,
		UserID:      user.ID,
		Role:        invite.Role,
		JoinedAt:    time.Now().UTC(),
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "workspace membership failed")
		return
	}

	sessToken, sess, err := s.auth.CreateSession(ctx, user.ID, invite.WorkspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session creation failed")
		return
	}
	s.setSessionCookie(w, sessToken, sess.ExpiresAt)

	writeJSON(w, http.StatusCreated, map[string]any{
		"user":         user,
		"workspace_id": invite.WorkspaceID,
		"role":         invite.Role,
		"token":        sessToken,
	})
}

func (s *Server) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      identity.UserID,
		"user_name":    identity.UserName,
		"workspace_id": identity.WorkspaceID,
		"role":         identity.Role,
		"source":       identity.Source,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		if err := s.auth.RevokeSessionToken(r.Context(), c.Value); err != nil && err != auth.ErrUnauthorized {
			s.logger.Warn("logout revoke failed", "error", err)
		}
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	identity := s.requireUser(w, r)
	if identity == nil {
		return
	}
	user, err := s.store.GetUser(r.Context(), identity.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	identity := s.requireUser(w, r)
	if identity == nil {
		return
	}
	var req struct {
		DisplayName *string `json:"display_name"`
		About       *string `json:"about"`
		Email       *string `json:"email"`
		AvatarURL   *string `json:"avatar_url"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	user, err := s.store.GetUser(ctx, identity.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if req.DisplayName != nil {
		user.DisplayName = *req.DisplayName
	}
	if req.About != nil {
		user.About = *req.About
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.AvatarURL != nil {
		user.AvatarURL = *req.AvatarURL
	}
	if err := s.store.UpdateUser(ctx, user); err != nil {
		writeError(w, http.StatusInternalServerError, "profile update failed")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	identity := s.requireUser(w, r)
	if identity == nil {
		return
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		_ = s.auth.RevokeSessionToken(r.Context(), c.Value)
	}
	if err := s.store.DeleteUser(r.Context(), identity.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "account deletion failed")
		return
	}
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
