package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ssshpaklevka/mediaplayer-backend/internal/media"
	"github.com/ssshpaklevka/mediaplayer-backend/internal/storage"
)

// Handler exposes the HTTP surface over the ingestion service and datastore.
type Handler struct {
	Store   storage.Repository
	Service *media.Service
}

func NewHandler(store storage.Repository, svc *media.Service) *Handler {
	return &Handler{Store: store, Service: svc}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
