package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/davidobi/askmydocs/internal/core"
	"github.com/davidobi/askmydocs/internal/models"
	"github.com/davidobi/askmydocs/internal/registry"
	"github.com/davidobi/askmydocs/internal/services"
)

const (
	// SessionHeader carries the client's opaque session key.
	SessionHeader = "X-Session-ID"

	maxUploadBytes = 52 << 20 // 52 MB
)

type IngestHandler struct {
	ingest *services.IngestService
}

func NewIngestHandler(ingest *services.IngestService) *IngestHandler {
	return &IngestHandler{ingest: ingest}
}

// sessionKey resolves the caller's session, falling back to the shared key.
func sessionKey(r *http.Request) string {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}
	return registry.DefaultSessionKey
}

// Upload accepts a multipart file, registers it, enqueues the ingestion job,
// and returns immediately. 202: processing happens out of band.
func (h *IngestHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "no file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusBadRequest)
		return
	}

	// Strip any path components from the client-supplied name.
	filename := filepath.Base(header.Filename)
	contentType := header.Header.Get("Content-Type")
	sessionID := sessionKey(r)

	if err := h.ingest.Submit(r.Context(), sessionID, filename, data, contentType); err != nil {
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			http.Error(w, ve.Reason, http.StatusBadRequest)
			return
		}
		log.Printf("upload: submit %s/%s: %v", sessionID, filename, err)
		http.Error(w, "upload could not be accepted, try again", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"accepted":  true,
		"sessionId": sessionID,
		"filename":  filename,
	})
}

// Status reports the session's file records and their lifecycle states.
func (h *IngestHandler) Status(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		sessionID = sessionKey(r)
	}

	files := h.ingest.Status(sessionID)
	type fileStatus struct {
		Filename   string `json:"filename"`
		Status     string `json:"status"`
		Transcript string `json:"transcript,omitempty"`
		UploadedAt string `json:"uploadedAt"`
		UpdatedAt  string `json:"updatedAt"`
	}
	out := make([]fileStatus, 0, len(files))
	for _, f := range files {
		out = append(out, fileStatus{
			Filename:   f.Filename,
			Status:     string(f.Status),
			Transcript: f.Transcript,
			UploadedAt: f.UploadedAt.Format(time.RFC3339),
			UpdatedAt:  f.UpdatedAt.Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"sessionId": sessionID,
		"files":     out,
	})
}

type completeRequest struct {
	SessionID  string `json:"sessionId"`
	Filename   string `json:"filename"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	Transcript string `json:"transcript,omitempty"`
}

// Complete is the worker-facing completion callback. Applying the same
// terminal status twice is a no-op, so queue redelivery is safe.
func (h *IngestHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.Filename == "" {
		http.Error(w, "sessionId and filename are required", http.StatusBadRequest)
		return
	}

	err := h.ingest.Complete(req.SessionID, req.Filename, models.MediaKind(req.Kind), models.FileStatus(req.Status), req.Transcript)
	if err != nil {
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			http.Error(w, ve.Reason, http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}
