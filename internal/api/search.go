package api

import (
	"net/http"
	"strings"
)

const searchLimit = 50

// handleSearch applies the text filter and the optional channel filter
// together; % and _ in the query match literally.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	channelID := ""
	if name := r.URL.Query().Get("channel"); name != "" {
		if !strings.HasPrefix(name, "#") {
			name = "#" + name
		}
		ch, err := s.store.GetChannelByName(r.Context(), identity.WorkspaceID, name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "channel lookup failed")
			return
		}
		if ch == nil {
			writeError(w, http.StatusNotFound, "channel not found")
			return
		}
		channelID = ch.ID
	}

	msgs, err := s.store.SearchMessages(r.Context(), identity.WorkspaceID, query, channelID, searchLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
