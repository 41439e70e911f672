package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/ssshpaklevka/mediaplayer-backend/internal/media"
	"github.com/ssshpaklevka/mediaplayer-backend/internal/storage"
)

// maxUploadBytes bounds how much of a multipart payload is read into memory.
// Anything larger is rejected before admission control runs.
const maxUploadBytes = 2 << 30

// Media handles the collection endpoints: POST submits a new video, GET
// lists every record regardless of status.
func (h *Handler) Media(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.submitMedia(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Service.List())
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) submitMedia(w http.ResponseWriter, r *http.Request) {
	contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid content type: %w", err))
		return
	}
	switch contentType {
	case "multipart/form-data":
		h.submitUpload(w, r)
	case "application/json":
		h.submitByURL(w, r)
	default:
		writeError(w, http.StatusUnsupportedMediaType,
			fmt.Errorf("content type %s is not supported", contentType))
	}
}

// submitUpload accepts a raw video over multipart form data. The response is
// an acknowledgement only; conversion happens asynchronously and the caller
// polls the record for the terminal status.
func (h *Handler) submitUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse upload: %w", err))
		return
	}
	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("video file is required"))
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" && header != nil {
		name = strings.TrimSpace(header.Filename)
	}

	record, err := h.Service.Submit(r.Context(), media.SubmitParams{
		Name:        name,
		GroupIDs:    formGroupIDs(r),
		ContentType: header.Header.Get("Content-Type"),
		Payload:     payload,
	})
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": media.AckMessage,
		"media":   record,
	})
}

// submitByURL registers an externally hosted video. The record skips the
// pipeline entirely and is READY in the response.
func (h *Handler) submitByURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string   `json:"name"`
		URL      string   `json:"url"`
		GroupIDs []string `json:"groupIds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	record, err := h.Service.CreateFromURL(r.Context(), req.Name, req.URL, req.GroupIDs)
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (h *Handler) writeSubmitError(w http.ResponseWriter, err error) {
	var valErr *media.ValidationError
	if errors.As(err, &valErr) {
		writeError(w, http.StatusBadRequest, valErr)
		return
	}
	var nfErr *media.NotFoundError
	if errors.As(err, &nfErr) {
		writeError(w, http.StatusNotFound, nfErr)
		return
	}
	var capErr *media.CapacityError
	if errors.As(err, &capErr) {
		writeError(w, http.StatusServiceUnavailable, capErr)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

// MediaByID handles GET, PATCH, and DELETE for a single record.
func (h *Handler) MediaByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/media/"), "/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		record, ok := h.Service.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, storage.ErrMediaNotFound)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case http.MethodPatch:
		var req struct {
			Name     *string  `json:"name"`
			GroupIDs []string `json:"groupIds"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
			return
		}
		record, err := h.Service.Update(r.Context(), id, media.UpdateParams{
			Name:     req.Name,
			GroupIDs: req.GroupIDs,
		})
		if err != nil {
			if storage.IsNotFound(err) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			h.writeSubmitError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case http.MethodDelete:
		if err := h.Service.Delete(r.Context(), id); err != nil {
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

// Playlist serves the READY-only projection for a set of groups, newest
// first. Group ids come from repeated groupId parameters or one
// comma-separated value.
func (h *Handler) Playlist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	groupIDs := queryGroupIDs(r)
	if len(groupIDs) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("groupId is required"))
		return
	}
	writeJSON(w, http.StatusOK, h.Service.Playlist(r.Context(), groupIDs))
}

func formGroupIDs(r *http.Request) []string {
	values := r.Form["groupIds"]
	if len(values) == 0 {
		values = r.Form["groupId"]
	}
	return splitGroupIDs(values)
}

func queryGroupIDs(r *http.Request) []string {
	query := r.URL.Query()
	values := query["groupId"]
	if len(values) == 0 {
		values = query["groupIds"]
	}
	return splitGroupIDs(values)
}

func splitGroupIDs(values []string) []string {
	var ids []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				ids = append(ids, trimmed)
			}
		}
	}
	return ids
}
