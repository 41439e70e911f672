package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ssshpaklevka/mediaplayer-backend/internal/storage"
)

// Groups handles the collection endpoints for playback groups.
func (h *Handler) Groups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Store.ListGroups())
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
			return
		}
		group, err := h.Store.CreateGroup(req.Name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, group)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// GroupByID handles GET and DELETE for a single group.
func (h *Handler) GroupByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/groups/"), "/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		group, ok := h.Store.GetGroup(id)
		if !ok {
			writeError(w, http.StatusNotFound, storage.ErrGroupNotFound)
			return
		}
		writeJSON(w, http.StatusOK, group)
	case http.MethodDelete:
		if err := h.Store.DeleteGroup(id); err != nil {
			if storage.IsNotFound(err) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}
