package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talkto-ai/talkto/internal/invoke"
	"github.com/talkto-ai/talkto/internal/store"
	"github.com/talkto-ai/talkto/pkg/protocol"

	"github.com/go-chi/chi/v5"
)

const (
	maxMessageLen      = 32000
	defaultMessagePage = 50
	maxMessagePage     = 100
)

// messageInChannel loads a message and pins it to the routed channel; a
// message reachable through the wrong channel id (or workspace) is a 404.
func (s *Server) messageInChannel(w http.ResponseWriter, r *http.Request, ch *store.Channel) *store.Message {
	msg, err := s.store.GetMessage(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "message lookup failed")
		return nil
	}
	if msg == nil || msg.ChannelID != ch.ID {
		writeError(w, http.StatusNotFound, "message not found")
		return nil
	}
	return msg
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	ch := s.channelInWorkspace(w, r)
	if ch == nil {
		return
	}

	limit := defaultMessagePage
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
		if limit > maxMessagePage {
			limit = maxMessagePage
		}
	}

	msgs, err := s.store.ListMessages(r.Context(), ch.ID, r.URL.Query().Get("before"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "message listing failed")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	identity := s.requireUser(w, r)
	if identity == nil {
		return
	}
	ch := s.channelInWorkspace(w, r)
	if ch == nil {
		return
	}

	var req struct {
		Content  string   `json:"content"`
		Mentions []string `json:"mentions"`
		ParentID string   `json:"parent_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(req.Content) > maxMessageLen {
		writeError(w, http.StatusBadRequest, "content exceeds 32000 characters")
		return
	}

	mentions := req.Mentions
	if len(mentions) == 0 {
		mentions = invoke.ExtractMentions(req.Content)
	}

	ctx := r.Context()
	msg := &store.Message{
		ID:        uuid.NewString(),
		ChannelID: ch.ID,
		SenderID:  identity.UserID,
		Content:   req.Content,
		Mentions:  mentions,
		ParentID:  req.ParentID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		writeError(w, http.StatusInternalServerError, "message insert failed")
		return
	}
	msg.SenderName = identity.UserName

	// Broadcast strictly after the row is committed.
	s.broadcast(protocol.EventNewMessage, msg, ch.WorkspaceID, ch.ID)

	if s.invoke != nil {
		sender, err := s.store.GetUser(ctx, identity.UserID)
		if err == nil && sender != nil {
			s.invoke.HandleMessage(ctx, msg, sender, ch, 0)
		}
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	identity := s.requireUser(w, r)
	if identity == nil {
		return
	}
	ch := s.channelInWorkspace(w, r)
	if ch == nil {
		return
	}
	msg := s.messageInChannel(w, r, ch)
	if msg == nil {
		return
	}
	if msg.SenderID != identity.UserID && identity.Role != "admin" {
		writeError(w, http.StatusForbidden, "only the sender can edit a message")
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" || len(req.Content) > maxMessageLen {
		writeError(w, http.StatusBadRequest, "content must be 1-32000 characters")
		return
	}

	now := time.Now().UTC()
	if err := s.store.UpdateMessageContent(r.Context(), msg.ID, req.Content, now); err != nil {
		writeError(w, http.StatusInternalServerError, "message update failed")
		return
	}
	msg.Content = req.Content
	msg.EditedAt = &now

	s.broadcast(protocol.EventMessageEdited, msg, ch.WorkspaceID, ch.ID)
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	identity := s.requireUser(w, r)
	if identity == nil {
		return
	}
	ch := s.channelInWorkspace(w, r)
	if ch == nil {
		return
	}
	msg := s.messageInChannel(w, r, ch)
	if msg == nil {
		return
	}
	if msg.SenderID != identity.UserID && identity.Role != "admin" {
		writeError(w, http.StatusForbidden, "only the sender can delete a message")
		return
	}

	if err := s.store.DeleteMessage(r.Context(), msg.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "message delete failed")
		return
	}

	s.broadcast(protocol.EventMessageDeleted, protocol.MessageDeleted{
		MessageID: msg.ID,
		ChannelID: ch.ID,
	}, ch.WorkspaceID, ch.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handlePinMessage(w http.ResponseWriter, r *http.Request) {
	identity := s.requireUser(w, r)
	if identity == nil {
		return
	}
	ch := s.channelInWorkspace(w, r)
	if ch == nil {
		return
	}
	msg := s.messageInChannel(w, r, ch)
	if msg == nil {
		return
	}

	// Pinning is idempotent; {"pinned": false} unpins.
	req := struct {
		Pinned *bool `json:"pinned"`
	}{}
	if r.ContentLength > 0 && !s.decode(w, r, &req) {
		return
	}
	pinned := req.Pinned == nil || *req.Pinned

	now := time.Now().UTC()
	if err := s.store.SetMessagePinned(r.Context(), msg.ID, pinned, identity.UserID, now); err != nil {
		writeError(w, http.StatusInternalServerError, "pin update failed")
		return
	}
	msg.IsPinned = pinned
	if pinned {
		msg.PinnedAt = &now
		msg.PinnedBy = identity.UserID
	} else {
		msg.PinnedAt = nil
		msg.PinnedBy = ""
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handlePinnedMessages(w http.ResponseWriter, r *http.Request) {
	ch := s.channelInWorkspace(w, r)
	if ch == nil {
		return
	}
	msgs, err := s.store.ListPinnedMessages(r.Context(), ch.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "pinned listing failed")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleReactMessage(w http.ResponseWriter, r *http.Request) {
	identity := s.requireUser(w, r)
	if identity == nil {
		return
	}
	ch := s.channelInWorkspace(w, r)
	if ch == nil {
		return
	}
	msg := s.messageInChannel(w, r, ch)
	if msg == nil {
		return
	}

	var req struct {
		Emoji string `json:"emoji"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji is required")
		return
	}

	added, err := s.store.ToggleReaction(r.Context(), msg.ID, identity.UserID, req.Emoji)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reaction toggle failed")
		return
	}

	s.broadcast(protocol.EventReaction, protocol.ReactionEvent{
		MessageID: msg.ID,
		ChannelID: ch.ID,
		UserID:    identity.UserID,
		Emoji:     req.Emoji,
		Added:     added,
	}, ch.WorkspaceID, ch.ID)
	writeJSON(w, http.StatusOK, map[string]any{"added": added, "emoji": req.Emoji})
}

func (s *Server) handleListReactions(w http.ResponseWriter, r *http.Request) {
	ch := s.channelInWorkspace(w, r)
	if ch == nil {
		return
	}
	msg := s.messageInChannel(w, r, ch)
	if msg == nil {
		return
	}
	reactions, err := s.store.ListReactions(r.Context(), msg.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reaction listing failed")
		return
	}
	writeJSON(w, http.StatusOK, reactions)
}
