package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/shipper/internal/store"
	"github.com/seantiz/shipper/internal/uploader"
)

// handleUploadEvents streams an upload's progress as server-sent events: one
// "status" event with the current record, then a "done" event with the
// final record once the upload resolves.
func (s *Server) handleUploadEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	live, h, inFlight := s.registry.Lookup(id)
	if !inFlight {
		u, err := s.store.GetUpload(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "upload not found")
			return
		}
		if err != nil {
			s.logger.Error("get upload for events", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to get upload")
			return
		}
		setSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
		_ = writeSSEEvent(w, "done", u)
		return
	}

	setSSEHeaders(w)
	httpEventStreams.Inc()
	defer httpEventStreams.Dec()

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	if err := writeSSEEvent(w, "status", live); err != nil {
		return
	}
	_ = rc.Flush()

	select {
	case <-h.Done():
		_ = writeSSEEvent(w, "done", uploader.Snapshot(live, h))
		_ = rc.Flush()
	case <-r.Context().Done():
		// Client disconnected.
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// writeSSEEvent writes a named SSE event whose data is u as one line of JSON.
func writeSSEEvent(w http.ResponseWriter, eventType string, u any) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	return err
}

