package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/shipper/internal/model"
	"github.com/seantiz/shipper/internal/store"
	"github.com/seantiz/shipper/internal/uploader"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// createUploadRequest is the JSON body for POST /v1/uploads.
type createUploadRequest struct {
	Backend string `json:"backend"`
	Path    string `json:"path"`
}

// listUploadsResponse wraps the paginated list response.
type listUploadsResponse struct {
	Uploads []*model.Upload `json:"uploads"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	var req createUploadRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Path == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	m, err := s.registry.Resolve(req.Backend)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, h := m.Start(req.Path)

	u, _, ok := m.Lookup(id)
	if !ok {
		// Already resolved, e.g. rejected by a closed manager.
		u = uploader.Snapshot(model.Upload{
			ID:        id,
			Backend:   m.Name(),
			LocalPath: req.Path,
			Container: m.Config().Container,
			Key:       uploader.JoinKey(m.Config().Prefix, req.Path),
		}, h)
	}

	s.writeJSON(w, http.StatusAccepted, u)
}

// findUpload prefers the live view of an in-flight upload over the journal.
func (s *Server) findUpload(r *http.Request, id string) (*model.Upload, error) {
	if u, _, ok := s.registry.Lookup(id); ok {
		return &u, nil
	}
	return s.store.GetUpload(r.Context(), id)
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	u, err := s.findUpload(r, id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "upload not found")
		return
	}
	if err != nil {
		s.logger.Error("get upload", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get upload")
		return
	}

	s.writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	uploads, total, err := s.store.ListUploads(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list uploads", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list uploads")
		return
	}

	if uploads == nil {
		uploads = []*model.Upload{}
	}

	s.writeJSON(w, http.StatusOK, listUploadsResponse{
		Uploads: uploads,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func (s *Server) handleCancelUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	u, h, ok := s.registry.Lookup(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "upload not in flight")
		return
	}

	err := s.registry.Cancel(id)
	switch {
	case errors.Is(err, uploader.ErrUnknownUpload):
		s.writeError(w, http.StatusNotFound, "upload not in flight")
		return
	case errors.Is(err, uploader.ErrNotCancellable):
		s.writeError(w, http.StatusConflict, "upload already started; transfer signalled to stop")
		return
	case err != nil:
		s.logger.Error("cancel upload", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel upload")
		return
	}

	s.writeJSON(w, http.StatusOK, uploader.Snapshot(u, h))
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
