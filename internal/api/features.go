package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talkto-ai/talkto/internal/store"
	"github.com/talkto-ai/talkto/pkg/protocol"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	features, err := s.store.ListFeatures(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "feature listing failed")
		return
	}
	writeJSON(w, http.StatusOK, features)
}

func (s *Server) handleCreateFeature(w http.ResponseWriter, r *http.Request) {
	identity := s.requireUser(w, r)
	if identity == nil {
		return
	}
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	f := &store.FeatureRequest{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Status:      "proposed",
		CreatedBy:   identity.UserID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateFeature(r.Context(), f); err != nil {
		writeError(w, http.StatusInternalServerError, "feature creation failed")
		return
	}

	s.broadcast(protocol.EventFeatureUpdate, f, identityFrom(r.Context()).WorkspaceID, "")
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleVoteFeature(w http.ResponseWriter, r *http.Request) {
	identity := s.requireUser(w, r)
	if identity == nil {
		return
	}
	var req struct {
		Vote int `json:"vote"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Vote != 1 && req.Vote != -1 {
		writeError(w, http.StatusBadRequest, "vote must be 1 or -1")
		return
	}

	ctx := r.Context()
	featureID := chi.URLParam(r, "featureID")
	feature, err := s.store.GetFeature(ctx, featureID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "feature lookup failed")
		return
	}
	if feature == nil {
		writeError(w, http.StatusNotFound, "feature not found")
		return
	}

	if err := s.store.UpsertFeatureVote(ctx, featureID, identity.UserID, req.Vote); err != nil {
		writeError(w, http.StatusInternalServerError, "vote failed")
		return
	}
	total, err := s.store.FeatureVoteCount(ctx, featureID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "vote count failed")
		return
	}
	feature.VoteCount = total

	s.broadcast(protocol.EventFeatureUpdate, feature, identity.WorkspaceID, "")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "voted",
		"vote":       req.Vote,
		"vote_count": total,
	})
}
